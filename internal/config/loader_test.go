package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_ExpandsVariables(t *testing.T) {
	t.Setenv("TABKEEPER_TEST_BALANCE", "250.00")
	path := filepath.Join(t.TempDir(), "tabkeeper.yaml")
	writeFile(t, path, `
version: "1"
modules:
  payment.engine:
    initial_balance: "${TABKEEPER_TEST_BALANCE}"
    currency: "${TABKEEPER_TEST_CURRENCY:-eur}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	node := cfg.Modules["payment.engine"]
	var engine struct {
		InitialBalance string `yaml:"initial_balance"`
		Currency       string `yaml:"currency"`
	}
	if err := node.Decode(&engine); err != nil {
		t.Fatal(err)
	}
	if engine.InitialBalance != "250.00" || engine.Currency != "eur" {
		t.Errorf("engine = %+v", engine)
	}
}

func TestLoad_DotEnvNextToConfig(t *testing.T) {
	dir := t.TempDir()
	// Registered for cleanup so the value set by the .env file is undone.
	t.Setenv("TABKEEPER_TEST_DOTENV", "")
	_ = os.Unsetenv("TABKEEPER_TEST_DOTENV")
	t.Setenv("TABKEEPER_TEST_PRESET", "from-env")

	writeFile(t, filepath.Join(dir, ".env"), "TABKEEPER_TEST_DOTENV=from-file\nTABKEEPER_TEST_PRESET=from-file\n")
	path := filepath.Join(dir, "tabkeeper.yaml")
	writeFile(t, path, `
version: "1"
modules:
  api.http:
    bind: "${TABKEEPER_TEST_DOTENV}"
    auth:
      bearer_token: "${TABKEEPER_TEST_PRESET}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	var api struct {
		Bind string `yaml:"bind"`
		Auth struct {
			BearerToken string `yaml:"bearer_token"`
		} `yaml:"auth"`
	}
	node := cfg.Modules["api.http"]
	if err := node.Decode(&api); err != nil {
		t.Fatal(err)
	}
	if api.Bind != "from-file" {
		t.Errorf("bind = %q, want value from .env", api.Bind)
	}
	if api.Auth.BearerToken != "from-env" {
		t.Errorf("bearer_token = %q, .env must not override the environment", api.Auth.BearerToken)
	}
}

func TestLoad_UnresolvedVariables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tabkeeper.yaml")
	writeFile(t, path, `
version: "1"
modules:
  store.postgres:
    dsn: "${TABKEEPER_TEST_MISSING_DSN}"
  paygate.http:
    api_key: "${TABKEEPER_TEST_MISSING_KEY}"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unresolved variables")
	}
	for _, name := range []string{"TABKEEPER_TEST_MISSING_DSN", "TABKEEPER_TEST_MISSING_KEY"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error should mention %s: %v", name, err)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestExpandEnv_EscapedDefault(t *testing.T) {
	got, err := expandEnv([]byte(`url: ${TABKEEPER_TEST_UNSET_URL:-https://pay.example.test/a\}b}`))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(got), `url: https://pay.example.test/a\}b`) {
		t.Errorf("expanded = %q", got)
	}
}
