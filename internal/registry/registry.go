// Package registry implements the Trading Core's Strategy Registry
// (component F): strategy_id → Account/Contacts/RiskConfig, loaded from a
// directory of one-file-per-strategy JSON documents at startup and mutable
// at runtime via Register/Unregister (the Query Facade's write endpoints).
//
// Grounded on the teacher's internal/config.Load (viper, env-override,
// Validate-fails-fast idiom) for the static load/validate shape, and on
// internal/store.Store's atomic-JSON-file pattern for persisting the
// registry snapshot across restarts.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"tradingcore/internal/store"
	"tradingcore/pkg/errs"
	"tradingcore/pkg/types"
)

// passphraseVenues lists venues whose credential set requires a passphrase.
// Binance forbids one; OKX requires it.
var passphraseVenues = map[types.Venue]bool{
	types.OKX: true,
}

// file is the on-disk shape of a strategy configuration file (§6): one
// JSON document per strategy, field names matching the IPC register_account
// envelope (which is decoded separately, in package ipc).
type file struct {
	StrategyID    string              `json:"strategy_id"`
	StrategyName  string              `json:"strategy_name"`
	StrategyType  string              `json:"strategy_type"`
	Enabled       bool                `json:"enabled"`
	Exchange      types.Venue         `json:"exchange"`
	APIKey        string              `json:"api_key"`
	SecretKey     string              `json:"secret_key"`
	Passphrase    string              `json:"passphrase,omitempty"`
	IsTestnet     bool                `json:"is_testnet"`
	Market        types.MarketVariant `json:"market,omitempty"`
	Contacts      []types.Contact     `json:"contacts"`
	RiskControl   riskControlFile     `json:"risk_control"`
	MarketStreams []types.MarketStream `json:"market_streams,omitempty"`
	Params        map[string]any      `json:"params,omitempty"`
}

type riskControlFile struct {
	MaxPositionValue string  `json:"max_position_value"`
	MaxDailyLoss     string  `json:"max_daily_loss"`
	PerOrderCap      string  `json:"per_order_cap"`
	OrderRatePerSec  float64 `json:"order_rate_per_sec"`
}

// Registry holds the in-memory strategy table, keyed by strategy_id.
// Safe for concurrent use by the Router, Query Facade and Supervisor.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]types.Strategy
	persist    *store.Store
}

// New creates an empty registry. persist may be nil, in which case
// Register/Unregister are not durably snapshotted.
func New(persist *store.Store) *Registry {
	return &Registry{strategies: make(map[string]types.Strategy), persist: persist}
}

// LoadDir scans dir for *.json strategy configuration files and populates
// the registry. Duplicate strategy_id across files is rejected; disabled
// strategies are kept but excluded from routing (by the Router, via Get).
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read strategy dir: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		var f file
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		strat, err := fromFile(f)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if seen[strat.ID] {
			return fmt.Errorf("duplicate strategy_id %q (file %s)", strat.ID, path)
		}
		seen[strat.ID] = true
		r.strategies[strat.ID] = strat
	}
	return nil
}

func fromFile(f file) (types.Strategy, error) {
	if f.StrategyID == "" {
		return types.Strategy{}, fmt.Errorf("strategy_id is required")
	}
	creds := types.CredentialSet{APIKey: f.APIKey, Secret: f.SecretKey, Passphrase: f.Passphrase}
	if err := validateCredentials(f.Exchange, creds); err != nil {
		return types.Strategy{}, err
	}

	risk := types.RiskConfig{OrderRatePerSec: f.RiskControl.OrderRatePerSec}
	risk.MaxPositionValue = decimalOrZero(f.RiskControl.MaxPositionValue)
	risk.MaxDailyLoss = decimalOrZero(f.RiskControl.MaxDailyLoss)
	risk.PerOrderCap = decimalOrZero(f.RiskControl.PerOrderCap)

	return types.Strategy{
		ID: f.StrategyID, DisplayName: f.StrategyName, Kind: f.StrategyType, Enabled: f.Enabled,
		Account: types.Account{
			Venue: f.Exchange, MarketVariant: f.Market, Credentials: creds,
			IsTestnet: f.IsTestnet,
		},
		Contacts: f.Contacts, Risk: risk, MarketStreams: f.MarketStreams, Params: f.Params,
	}, nil
}

func decimalOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// validateCredentials enforces §3's passphrase invariant: required for
// venues that use it, forbidden for venues that don't.
func validateCredentials(venue types.Venue, creds types.CredentialSet) error {
	if creds.APIKey == "" || creds.Secret == "" {
		return errs.NewAdmissionError(errs.CodeCredentialIncomplete, "api_key and secret_key are required")
	}
	needsPassphrase := passphraseVenues[venue]
	if needsPassphrase && creds.Passphrase == "" {
		return errs.NewAdmissionError(errs.CodeCredentialIncomplete, fmt.Sprintf("%s requires a passphrase", venue))
	}
	if !needsPassphrase && creds.Passphrase != "" {
		return errs.NewAdmissionError(errs.CodeCredentialIncomplete, fmt.Sprintf("%s does not accept a passphrase", venue))
	}
	return nil
}

// Get resolves strategy_id to its Strategy record. Returns
// UNKNOWN_STRATEGY for both a missing id and a disabled strategy — the
// Router treats both identically (§4.G: unknown or disabled ⇒ REJECTED).
func (r *Registry) Get(strategyID string) (types.Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	strat, ok := r.strategies[strategyID]
	if !ok || !strat.Enabled {
		return types.Strategy{}, errs.NewAdmissionError(errs.CodeUnknownStrategy, strategyID)
	}
	return strat, nil
}

// Lookup returns strategy_id's record regardless of its enabled state —
// unlike Get, a disabled strategy is still returned rather than treated
// as an admission-time rejection. Used by callers that need the record
// itself (e.g. to unwind per-strategy subscriptions before Unregister
// removes it) rather than to route an order against it.
func (r *Registry) Lookup(strategyID string) (types.Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	strat, ok := r.strategies[strategyID]
	return strat, ok
}

// All returns a defensive copy of every registered strategy, enabled or
// not — used by the Query Facade's get_all_strategy_configs.
func (r *Registry) All() []types.Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.Strategy, 0, len(r.strategies))
	for _, s := range r.strategies {
		out = append(out, s)
	}
	return out
}

// RegisterInput is the runtime registration request, mirroring the IPC
// register_account envelope (§6).
type RegisterInput struct {
	StrategyID    string
	Exchange      types.Venue
	APIKey        string
	SecretKey     string
	Passphrase    string
	IsTestnet     bool
	Market        types.MarketVariant
	MarketStreams []types.MarketStream
}

// Register adds or replaces a strategy at runtime, enforcing the same
// credential validation as LoadDir, then snapshots the registry if a
// Store is configured.
func (r *Registry) Register(in RegisterInput) error {
	creds := types.CredentialSet{APIKey: in.APIKey, Secret: in.SecretKey, Passphrase: in.Passphrase}
	if err := validateCredentials(in.Exchange, creds); err != nil {
		return err
	}
	if in.StrategyID == "" {
		return errs.NewAdmissionError(errs.CodeCredentialIncomplete, "strategy_id is required")
	}

	r.mu.Lock()
	r.strategies[in.StrategyID] = types.Strategy{
		ID: in.StrategyID, Enabled: true,
		Account:       types.Account{Venue: in.Exchange, MarketVariant: in.Market, Credentials: creds, IsTestnet: in.IsTestnet},
		MarketStreams: in.MarketStreams,
	}
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	return r.persistSnapshot(snapshot)
}

// Unregister removes a strategy_id, returning false if it was not
// present.
func (r *Registry) Unregister(strategyID string) (bool, error) {
	r.mu.Lock()
	_, existed := r.strategies[strategyID]
	delete(r.strategies, strategyID)
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	if !existed {
		return false, nil
	}
	return true, r.persistSnapshot(snapshot)
}

func (r *Registry) snapshotLocked() []types.Strategy {
	out := make([]types.Strategy, 0, len(r.strategies))
	for _, s := range r.strategies {
		out = append(out, s)
	}
	return out
}

func (r *Registry) persistSnapshot(snapshot []types.Strategy) error {
	if r.persist == nil {
		return nil
	}
	return r.persist.Save("registry_snapshot", snapshot)
}

// RestoreSnapshot reloads a previously persisted registry snapshot,
// merging it into the in-memory table. Called on restart before LoadDir,
// so runtime registrations survive; a strategy file with the same
// strategy_id then replaces the restored entry.
func (r *Registry) RestoreSnapshot() (bool, error) {
	if r.persist == nil {
		return false, nil
	}
	var snapshot []types.Strategy
	found, err := r.persist.Load("registry_snapshot", &snapshot)
	if err != nil || !found {
		return found, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range snapshot {
		r.strategies[s.ID] = s
	}
	return true, nil
}
