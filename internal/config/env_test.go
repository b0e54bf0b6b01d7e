package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnv(t *testing.T) {
	unsetEnv(t, "KEEPER_FUNDING_ACCOUNT")
	unsetEnv(t, "MAKER_ALPHA_KEY")
	unsetEnv(t, "QUOTED")
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "" +
		"# operator secrets\n" +
		"KEEPER_FUNDING_ACCOUNT=Fund1111111111111111111111111111111\n" +
		"MAKER_ALPHA_KEY='alpha-secret'\n" +
		"QUOTED=\"baz\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	if err := LoadEnv(path); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if got := os.Getenv("KEEPER_FUNDING_ACCOUNT"); got != "Fund1111111111111111111111111111111" {
		t.Fatalf("unexpected funding account %q", got)
	}
	if got := os.Getenv("MAKER_ALPHA_KEY"); got != "alpha-secret" {
		t.Fatalf("MAKER_ALPHA_KEY expected alpha-secret, got %q", got)
	}
	if got := os.Getenv("QUOTED"); got != "baz" {
		t.Fatalf("QUOTED expected baz, got %q", got)
	}
}

func TestLoadEnvMissingFile(t *testing.T) {
	if err := LoadEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("expected missing file to be ignored, got %v", err)
	}
}

func TestLoadEnvDoesNotOverrideExisting(t *testing.T) {
	t.Setenv("MAKER_ALPHA_KEY", "existing")
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("MAKER_ALPHA_KEY=bar\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	if err := LoadEnv(path); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if got := os.Getenv("MAKER_ALPHA_KEY"); got != "existing" {
		t.Fatalf("MAKER_ALPHA_KEY expected existing, got %q", got)
	}
}

func unsetEnv(t *testing.T, key string) {
	t.Helper()
	if old, ok := os.LookupEnv(key); ok {
		t.Cleanup(func() { _ = os.Setenv(key, old) })
	} else {
		t.Cleanup(func() { _ = os.Unsetenv(key) })
	}
	_ = os.Unsetenv(key)
}
