package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"
	"github.com/rs/zerolog"

	"resilient-trading-bot/config"
)

// Credentials holds exchange API credentials.
type Credentials struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	IsTestnet bool   `json:"is_testnet"`
}

// Client fetches exchange credentials from HashiCorp Vault. When Vault
// is disabled the configured environment keys are used directly, so the
// rest of the runtime never branches on the secret backend.
type Client struct {
	client   *api.Client
	config   config.VaultConfig
	fallback Credentials
	logger   zerolog.Logger

	mu     sync.RWMutex
	cached *Credentials
}

// NewClient creates a Vault client. The fallback credentials are served
// when Vault is disabled or the secret is missing.
func NewClient(cfg config.VaultConfig, fallback Credentials, logger zerolog.Logger) (*Client, error) {
	c := &Client{
		config:   cfg,
		fallback: fallback,
		logger:   logger.With().Str("component", "vault").Logger(),
	}

	if !cfg.Enabled {
		return c, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{CACert: cfg.CACert}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	c.client = client
	c.logger.Info().Str("address", cfg.Address).Msg("vault client configured")
	return c, nil
}

// secretPath builds the KV v2 read path for the exchange credentials.
func (c *Client) secretPath() string {
	return fmt.Sprintf("%s/data/%s", c.config.MountPath, c.config.SecretPath)
}

// LoadCredentials returns the exchange credentials, preferring Vault and
// falling back to the configured keys. Successful reads are cached for
// the process lifetime.
func (c *Client) LoadCredentials(ctx context.Context) (*Credentials, error) {
	if !c.config.Enabled {
		return &c.fallback, nil
	}

	c.mu.RLock()
	if c.cached != nil {
		cached := *c.cached
		c.mu.RUnlock()
		return &cached, nil
	}
	c.mu.RUnlock()

	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath())
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		c.logger.Warn().Str("path", c.secretPath()).
			Msg("no credentials in vault, using configured keys")
		return &c.fallback, nil
	}

	// KV v2 nests the payload under "data"
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected vault secret format at %s", c.secretPath())
	}

	creds := &Credentials{
		APIKey:    stringField(data, "api_key"),
		SecretKey: stringField(data, "secret_key"),
	}
	if testnet, ok := data["is_testnet"].(bool); ok {
		creds.IsTestnet = testnet
	}

	if creds.APIKey == "" || creds.SecretKey == "" {
		c.logger.Warn().Str("path", c.secretPath()).
			Msg("incomplete credentials in vault, using configured keys")
		return &c.fallback, nil
	}

	c.mu.Lock()
	cached := *creds
	c.cached = &cached
	c.mu.Unlock()

	c.logger.Info().Msg("exchange credentials loaded from vault")
	return creds, nil
}

// InvalidateCache drops the cached credentials so the next load hits
// Vault again. Used after credential rotation.
func (c *Client) InvalidateCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cached = nil
}

func stringField(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
