package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"tradingcore/internal/store"
	"tradingcore/pkg/errs"
	"tradingcore/pkg/types"
)

func writeStrategyFile(t *testing.T, dir, name string, f file) {
	t.Helper()
	data, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func okxFile(id string, enabled bool) file {
	return file{
		StrategyID: id, StrategyName: "mm-1", StrategyType: "market_maker", Enabled: enabled,
		Exchange: types.OKX, APIKey: "key", SecretKey: "secret", Passphrase: "pass",
		RiskControl: riskControlFile{MaxPositionValue: "1000", PerOrderCap: "100", OrderRatePerSec: 5},
	}
}

func TestLoadDirPopulatesEnabledStrategy(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeStrategyFile(t, dir, "s1.json", okxFile("s1", true))

	r := New(nil)
	if err := r.LoadDir(dir); err != nil {
		t.Fatalf("LoadDir: %v", err)
	}

	strat, err := r.Get("s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if strat.Account.Credentials.Passphrase != "pass" {
		t.Errorf("Passphrase = %q, want pass", strat.Account.Credentials.Passphrase)
	}
}

func TestLoadDirRejectsDuplicateStrategyID(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeStrategyFile(t, dir, "a.json", okxFile("dup", true))
	writeStrategyFile(t, dir, "b.json", okxFile("dup", true))

	r := New(nil)
	if err := r.LoadDir(dir); err == nil {
		t.Fatal("expected an error for duplicate strategy_id, got nil")
	}
}

func TestLoadDirMissingPassphraseFailsCredentialIncomplete(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	f := okxFile("s1", true)
	f.Passphrase = ""
	writeStrategyFile(t, dir, "s1.json", f)

	r := New(nil)
	err := r.LoadDir(dir)
	if err == nil {
		t.Fatal("expected CREDENTIAL_INCOMPLETE, got nil")
	}
}

func TestLoadDirForbidsPassphraseOnBinance(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	f := okxFile("s1", true)
	f.Exchange = types.Binance
	writeStrategyFile(t, dir, "s1.json", f)

	r := New(nil)
	if err := r.LoadDir(dir); err == nil {
		t.Fatal("expected CREDENTIAL_INCOMPLETE for a passphrase on a venue that forbids one")
	}
}

func TestGetDisabledStrategyReturnsUnknownStrategy(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeStrategyFile(t, dir, "s1.json", okxFile("s1", false))

	r := New(nil)
	if err := r.LoadDir(dir); err != nil {
		t.Fatalf("LoadDir: %v", err)
	}

	_, err := r.Get("s1")
	coder, ok := err.(errs.Coder)
	if !ok {
		t.Fatalf("expected errs.Coder, got %T", err)
	}
	if coder.Code() != errs.CodeUnknownStrategy {
		t.Errorf("Code = %v, want UNKNOWN_STRATEGY", coder.Code())
	}
}

func TestGetUnknownStrategyReturnsUnknownStrategy(t *testing.T) {
	t.Parallel()
	r := New(nil)
	_, err := r.Get("ghost")
	coder, ok := err.(errs.Coder)
	if !ok || coder.Code() != errs.CodeUnknownStrategy {
		t.Errorf("expected UNKNOWN_STRATEGY, got %v", err)
	}
}

func TestRegisterAndUnregisterRoundTrip(t *testing.T) {
	t.Parallel()
	r := New(nil)

	err := r.Register(RegisterInput{
		StrategyID: "s2", Exchange: types.Binance, APIKey: "k", SecretKey: "s",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := r.Get("s2"); err != nil {
		t.Fatalf("Get after Register: %v", err)
	}

	existed, err := r.Unregister("s2")
	if err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if !existed {
		t.Error("Unregister reported existed=false for a registered strategy")
	}
	if _, err := r.Get("s2"); err == nil {
		t.Error("expected Get to fail after Unregister")
	}
}

func TestUnregisterUnknownReturnsFalse(t *testing.T) {
	t.Parallel()
	r := New(nil)
	existed, err := r.Unregister("ghost")
	if err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if existed {
		t.Error("expected existed=false for an unregistered strategy_id")
	}
}

func TestRegisterPersistsSnapshotAndRestores(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, err := store.Open(dir)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer s.Close()

	r := New(s)
	if err := r.Register(RegisterInput{StrategyID: "s3", Exchange: types.Binance, APIKey: "k", SecretKey: "s"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	r2 := New(s)
	found, err := r2.RestoreSnapshot()
	if err != nil {
		t.Fatalf("RestoreSnapshot: %v", err)
	}
	if !found {
		t.Fatal("expected a persisted snapshot to be found")
	}
	if _, err := r2.Get("s3"); err != nil {
		t.Errorf("Get after RestoreSnapshot: %v", err)
	}
}

func TestAllReturnsDisabledAndEnabled(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeStrategyFile(t, dir, "a.json", okxFile("a", true))
	writeStrategyFile(t, dir, "b.json", okxFile("b", false))

	r := New(nil)
	if err := r.LoadDir(dir); err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if got := len(r.All()); got != 2 {
		t.Errorf("All() len = %d, want 2 (both enabled and disabled)", got)
	}
}
