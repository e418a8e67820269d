package secrets

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/vault/api"
	"github.com/rs/zerolog"

	"fusion-trading-bot/config"
)

// Environment variable names for the fallback credential source.
const (
	envAPIKey    = "BINANCE_API_KEY"
	envSecretKey = "BINANCE_SECRET_KEY"
)

// Credentials holds the exchange API key pair.
type Credentials struct {
	APIKey    string
	SecretKey string
}

// Loader resolves exchange credentials from Vault with an environment
// fallback. Nothing else in the process reads credential sources.
type Loader struct {
	client *api.Client
	cfg    config.VaultConfig
	logger zerolog.Logger
}

// NewLoader builds the loader. The Vault client is only constructed when
// Vault is enabled; a disabled loader resolves from the environment.
func NewLoader(cfg config.VaultConfig, logger zerolog.Logger) (*Loader, error) {
	l := &Loader{
		cfg:    cfg,
		logger: logger.With().Str("component", "secrets").Logger(),
	}
	if !cfg.Enabled {
		return l, nil
	}

	vaultConfig := api.DefaultConfig()
	if cfg.Address != "" {
		vaultConfig.Address = cfg.Address
	}

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{
			CACert: cfg.CACert,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("secrets: configure vault TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("secrets: create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	l.client = client
	return l, nil
}

// Load resolves the credential pair. A Vault failure degrades to the
// environment fallback with a logged warning, never silently.
func (l *Loader) Load(ctx context.Context) (Credentials, error) {
	if l.cfg.Enabled {
		creds, err := l.fromVault(ctx)
		if err == nil {
			l.logger.Info().Str("source", "vault").Msg("Exchange credentials loaded")
			return creds, nil
		}
		l.logger.Warn().Err(err).Msg("Vault credential read failed, falling back to environment")
	}

	creds, err := l.fromEnv()
	if err != nil {
		return Credentials{}, err
	}
	l.logger.Info().Str("source", "environment").Msg("Exchange credentials loaded")
	return creds, nil
}

func (l *Loader) fromVault(ctx context.Context) (Credentials, error) {
	path := fmt.Sprintf("%s/data/%s", l.cfg.MountPath, l.cfg.SecretPath)

	secret, err := l.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return Credentials{}, fmt.Errorf("read %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return Credentials{}, fmt.Errorf("no secret at %s", path)
	}

	// KV v2 nests the payload under a "data" key.
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return Credentials{}, fmt.Errorf("unexpected secret format at %s", path)
	}

	creds := Credentials{
		APIKey:    getString(data, "api_key"),
		SecretKey: getString(data, "secret_key"),
	}
	if creds.APIKey == "" || creds.SecretKey == "" {
		return Credentials{}, fmt.Errorf("secret at %s is missing api_key or secret_key", path)
	}
	return creds, nil
}

func (l *Loader) fromEnv() (Credentials, error) {
	creds := Credentials{
		APIKey:    os.Getenv(envAPIKey),
		SecretKey: os.Getenv(envSecretKey),
	}
	if creds.APIKey == "" || creds.SecretKey == "" {
		return Credentials{}, fmt.Errorf("secrets: %s and %s are not both set", envAPIKey, envSecretKey)
	}
	return creds, nil
}

// Health reports whether Vault is reachable and unsealed. A disabled
// loader is always healthy.
func (l *Loader) Health() error {
	if !l.cfg.Enabled {
		return nil
	}

	health, err := l.client.Sys().Health()
	if err != nil {
		return fmt.Errorf("secrets: vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("secrets: vault is sealed")
	}
	return nil
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
