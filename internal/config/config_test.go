package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("GG_LOG_LIMIT", "")
	t.Setenv("GG_DEBOUNCE", "")
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.DefaultQuery != "all()" || cfg.Log.Limit != 100 {
		t.Errorf("unexpected log config %+v", cfg.Log)
	}
	if cfg.Revsets.Immutable != "root()" {
		t.Errorf("immutable = %q", cfg.Revsets.Immutable)
	}
	if !cfg.Checkout.AbandonEmpty {
		t.Error("abandon_empty should default to true")
	}
	if cfg.Watch.Debounce != 100*time.Millisecond {
		t.Errorf("debounce = %s", cfg.Watch.Debounce)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	data := `
user:
  name: Ada Lovelace
  email: ada@example.com
log:
  limit: 20
checkout:
  abandon_empty: false
snapshot:
  ignore: ["*.log", "tmp/"]
watch:
  debounce: 250ms
`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.User.Name != "Ada Lovelace" || cfg.User.Email != "ada@example.com" {
		t.Errorf("user = %+v", cfg.User)
	}
	if cfg.Log.Limit != 20 {
		t.Errorf("limit = %d", cfg.Log.Limit)
	}
	if cfg.Log.DefaultQuery != "all()" {
		t.Errorf("unset fields should keep defaults, got %q", cfg.Log.DefaultQuery)
	}
	if cfg.Checkout.AbandonEmpty {
		t.Error("abandon_empty should be false")
	}
	if len(cfg.Snapshot.Ignore) != 2 {
		t.Errorf("ignore = %v", cfg.Snapshot.Ignore)
	}
	if cfg.Watch.Debounce != 250*time.Millisecond {
		t.Errorf("debounce = %s", cfg.Watch.Debounce)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GG_AUTHOR_NAME", "Env Name")
	t.Setenv("GG_AUTHOR_EMAIL", "env@example.com")
	t.Setenv("GG_LOG_LIMIT", "7")
	t.Setenv("GG_DEBOUNCE", "1s")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.User.Name != "Env Name" || cfg.User.Email != "env@example.com" {
		t.Errorf("user = %+v", cfg.User)
	}
	if cfg.Log.Limit != 7 {
		t.Errorf("limit = %d", cfg.Log.Limit)
	}
	if cfg.Watch.Debounce != time.Second {
		t.Errorf("debounce = %s", cfg.Watch.Debounce)
	}
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("log:\n  limit: 0\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Error("expected error for zero limit")
	}

	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("log: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Error("expected parse error")
	}
}

func TestSave_RoundTrip(t *testing.T) {
	t.Setenv("GG_AUTHOR_NAME", "")
	t.Setenv("GG_AUTHOR_EMAIL", "")
	t.Setenv("GG_DEBOUNCE", "")
	dir := t.TempDir()
	cfg := Default()
	cfg.User = UserConfig{Name: "Saved", Email: "saved@example.com"}
	cfg.Watch.Debounce = 2 * time.Second
	if err := cfg.Save(dir); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.User != cfg.User || loaded.Watch.Debounce != cfg.Watch.Debounce {
		t.Errorf("loaded %+v, want %+v", loaded, cfg)
	}
}
