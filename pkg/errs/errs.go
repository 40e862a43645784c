// Package errs defines the Trading Core's error taxonomy (§7). Every error
// that crosses a component boundary is one of these typed values so callers
// can branch on Code without parsing strings.
package errs

import "fmt"

// Code is a stable, wire-safe error identifier.
type Code string

const (
	CodeTransport             Code = "TRANSPORT"
	CodeProtocol              Code = "PROTOCOL"
	CodeVenue                 Code = "VENUE"
	CodeCapabilityUnsupported Code = "CAPABILITY_UNSUPPORTED"
	CodeUnknownStrategy       Code = "UNKNOWN_STRATEGY"
	CodeCredentialIncomplete  Code = "CREDENTIAL_INCOMPLETE"
	CodeDuplicateClientOrder  Code = "DUPLICATE_CLIENT_ORDER_ID"
	CodeSignPayloadMalformed  Code = "SIGN_PAYLOAD_MALFORMED"
	CodeOverflow              Code = "OVERFLOW"
)

// VenueError is an explicit error code surfaced by an exchange, verbatim
// but normalized to Code so strategies can distinguish e.g. insufficient
// balance from rate limiting.
type VenueError struct {
	VenueCode int64
	Msg       string
	RateLimited bool
}

func (e *VenueError) Error() string {
	return fmt.Sprintf("venue error %d: %s", e.VenueCode, e.Msg)
}

func (e *VenueError) Code() Code { return CodeVenue }

// TransportError wraps a network/TLS/timeout failure. Kind is a short
// classifier ("dial", "tls", "timeout", "read", "write").
type TransportError struct {
	Kind string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error (%s): %v", e.Kind, e.Err)
}

func (e *TransportError) Code() Code { return CodeTransport }

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError marks a non-retryable malformed-frame/schema-mismatch
// condition: the frame is dropped and a counter incremented by the caller.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "protocol error: " + e.Reason }

func (e *ProtocolError) Code() Code { return CodeProtocol }

// AdmissionError covers Router/Registry admission-time rejections:
// CAPABILITY_UNSUPPORTED, UNKNOWN_STRATEGY, CREDENTIAL_INCOMPLETE,
// DUPLICATE_CLIENT_ORDER_ID, SIGN_PAYLOAD_MALFORMED.
type AdmissionError struct {
	code Code
	Msg  string
}

func NewAdmissionError(code Code, msg string) *AdmissionError {
	return &AdmissionError{code: code, Msg: msg}
}

func (e *AdmissionError) Error() string { return string(e.code) + ": " + e.Msg }

func (e *AdmissionError) Code() Code { return e.code }

// Coder is implemented by every error in this taxonomy.
type Coder interface {
	error
	Code() Code
}
