package api

// HealthStatus is the /healthz payload: process-level and per-stream
// liveness for operational monitoring (§10 Supplementary Features: HTTP
// health/introspection surface).
type HealthStatus struct {
	Status            string          `json:"status"`
	DryRun            bool            `json:"dry_run"`
	Strategies        int             `json:"strategies"`
	MarketSubscribers int             `json:"market_subscribers"`
	Streams           map[string]bool `json:"streams"`
}

// HealthProvider supplies the current HealthStatus. Implemented by the
// Core so this package has no import-time dependency on its wiring.
type HealthProvider interface {
	Health() HealthStatus
}
