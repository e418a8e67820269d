package secrets

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"fusion-trading-bot/config"
)

// TestLoadFromEnvironment verifies the fallback source with Vault disabled.
func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv(envAPIKey, "env-key")
	t.Setenv(envSecretKey, "env-secret")

	loader, err := NewLoader(config.VaultConfig{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}

	creds, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if creds.APIKey != "env-key" || creds.SecretKey != "env-secret" {
		t.Errorf("creds = %+v, want the environment pair", creds)
	}
}

// TestLoadMissingEnvironment verifies an incomplete pair is rejected.
func TestLoadMissingEnvironment(t *testing.T) {
	t.Setenv(envAPIKey, "env-key")
	t.Setenv(envSecretKey, "")

	loader, err := NewLoader(config.VaultConfig{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}

	if _, err := loader.Load(context.Background()); err == nil {
		t.Error("Load() with half a credential pair should error")
	}
}

// TestLoadFromVault verifies the KV v2 read path.
func TestLoadFromVault(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/secret/data/trading-bot/exchange" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"data":{"api_key":"vault-key","secret_key":"vault-secret"},"metadata":{"version":1}}}`))
	}))
	defer server.Close()

	cfg := config.VaultConfig{
		Enabled:    true,
		Address:    server.URL,
		Token:      "test-token",
		MountPath:  "secret",
		SecretPath: "trading-bot/exchange",
	}
	loader, err := NewLoader(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}

	creds, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if creds.APIKey != "vault-key" || creds.SecretKey != "vault-secret" {
		t.Errorf("creds = %+v, want the vault pair", creds)
	}
}

// TestVaultFailureFallsBackToEnvironment verifies the degradation path.
func TestVaultFailureFallsBackToEnvironment(t *testing.T) {
	t.Setenv(envAPIKey, "env-key")
	t.Setenv(envSecretKey, "env-secret")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "sealed", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := config.VaultConfig{
		Enabled:    true,
		Address:    server.URL,
		Token:      "test-token",
		MountPath:  "secret",
		SecretPath: "trading-bot/exchange",
	}
	loader, err := NewLoader(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}

	creds, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if creds.APIKey != "env-key" {
		t.Errorf("creds = %+v, want the environment fallback", creds)
	}
}
