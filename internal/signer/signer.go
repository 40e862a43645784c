// Package signer implements the Trading Core's request-signing layer
// (component A). It produces the HMAC-SHA256 hex digest of a canonicalized
// payload using the account's secret as key, in the two shapes venues
// require: the HTTP form shape and the WebSocket trading-params shape.
// These canonicalizations must never be mixed (§4.A).
//
// Grounded on the teacher's internal/exchange/auth.go buildHMAC, generalized
// from Polymarket's single "timestamp+method+path+body" message to the
// key/value canonicalizations Binance- and OKX-style venues use.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"tradingcore/pkg/errs"
	"tradingcore/pkg/types"
)

// Signer signs requests on behalf of one Account's credential set.
type Signer struct {
	secret []byte
}

// New creates a Signer from a raw (not base64-encoded) secret.
func New(creds types.CredentialSet) *Signer {
	return &Signer{secret: []byte(creds.Secret)}
}

// SignForm canonicalizes params as key/value pairs joined by "&" in
// insertion order (params must therefore be supplied as ordered pairs),
// appends "timestamp=<ms>", and returns the query string with
// "signature=<hex>" appended — the HTTP form canonicalization (§4.A.1).
func (s *Signer) SignForm(ordered []KV, timestampMS int64) (query string, err error) {
	for _, kv := range ordered {
		if strings.ContainsAny(kv.Value, "&=") {
			return "", errs.NewAdmissionError(errs.CodeSignPayloadMalformed,
				"parameter "+kv.Key+" contains unescaped & or =")
		}
	}

	parts := make([]string, 0, len(ordered)+1)
	for _, kv := range ordered {
		parts = append(parts, kv.Key+"="+kv.Value)
	}
	parts = append(parts, "timestamp="+strconv.FormatInt(timestampMS, 10))

	base := strings.Join(parts, "&")
	sig := s.digest(base)
	return base + "&signature=" + sig, nil
}

// SignWSParams canonicalizes the same key set sorted lexicographically by
// key (values stringified, §4.A.2 / §8 invariant 5) and returns the
// signature hex. Callers append it to the params object as "signature".
func (s *Signer) SignWSParams(params map[string]string) (signature string, err error) {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if strings.ContainsAny(v, "&=") {
			return "", errs.NewAdmissionError(errs.CodeSignPayloadMalformed,
				"parameter "+k+" contains unescaped & or =")
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params[k])
	}
	return s.digest(strings.Join(parts, "&")), nil
}

// Base64HMAC returns the base64-encoded HMAC-SHA256 digest of msg — the
// encoding OKX's OK-ACCESS-SIGN header uses in place of the hex digest the
// form/WS canonicalizations produce (§4.A).
func (s *Signer) Base64HMAC(msg string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(msg))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// digest computes the HMAC-SHA256 hex digest of msg. Signing the same
// payload+secret twice yields byte-identical hex (§8 invariant 4) because
// hmac.New/Sum is pure given fixed inputs.
func (s *Signer) digest(msg string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(msg))
	// hexutil.Encode renders the 0x-prefixed hex form; venues want the bare
	// hex digest, so the prefix is stripped here.
	return strings.TrimPrefix(hexutil.Encode(mac.Sum(nil)), "0x")
}

// KV is an ordered key/value pair for the HTTP form canonicalization, where
// insertion order (not sort order) matters.
type KV struct {
	Key   string
	Value string
}

// NowMS returns the current time as Unix milliseconds — callers supply
// timestamp; the signer does not clock-skew adjust (§4.A).
func NowMS() int64 {
	return time.Now().UnixMilli()
}
