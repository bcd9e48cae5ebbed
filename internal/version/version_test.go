package version

import "testing"

func TestInfoDefaults(t *testing.T) {
	v, c, d := Info()
	if v != "dev" || c != "unknown" || d != "unknown" {
		t.Fatalf("unexpected defaults: %s %s %s", v, c, d)
	}
	if GetVersion() != v {
		t.Fatalf("GetVersion must match Info, got %s", GetVersion())
	}
}

func TestStringUsesLinkerValues(t *testing.T) {
	oldVersion, oldCommit, oldDate := version, commit, date
	t.Cleanup(func() { version, commit, date = oldVersion, oldCommit, oldDate })

	version, commit, date = "1.4.0", "abc123", "2026-01-02"

	want := "checkout-service version=1.4.0 commit=abc123 date=2026-01-02"
	if got := String(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
