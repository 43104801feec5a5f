// Package vaultsource reads B2 credentials and the repository password
// from HashiCorp Vault, as an alternative to keeping them in the
// credentials file on disk.
package vaultsource

import (
	"context"
	"errors"
	"fmt"
	"os"

	vault "github.com/hashicorp/vault/api"
)

const (
	approleSecretIDPath = "auth/approle/role/%s/secret-id"
	approleLoginPath    = "auth/approle/login"
)

// Secret field names expected at the configured KV path.
const (
	fieldAccountID  = "b2_account_id"
	fieldAccountKey = "b2_account_key"
	fieldPassword   = "repository_password"
)

// ErrClientInit indicates failure to initialize the Vault API client.
var ErrClientInit = errors.New("vault client initialization failed")

// Option configures the client.
type Option func(*config)

type config struct {
	address  string
	token    string
	roleID   string
	roleName string
}

// WithAddress sets the Vault server address.
func WithAddress(address string) Option {
	return func(c *config) {
		c.address = address
	}
}

// WithToken sets a static token for authentication.
func WithToken(token string) Option {
	return func(c *config) {
		c.token = token
	}
}

// WithAppRole enables AppRole login with the given role ID and name.
func WithAppRole(roleID, roleName string) Option {
	return func(c *config) {
		c.roleID = roleID
		c.roleName = roleName
	}
}

// Client wraps the Vault API client.
type Client struct {
	api    *vault.Client
	config *config
}

// Secrets holds the backup credentials read from Vault.
type Secrets struct {
	AccountID  string
	AccountKey string
	Password   string
}

// NewClient creates and initializes a Vault client using the provided
// options. AppRole login is performed when both role ID and role name
// are set; otherwise a static token (from env or WithToken) is used.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := &config{
		address: os.Getenv("VAULT_ADDR"),
		token:   os.Getenv("VAULT_TOKEN"),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	apiCfg := vault.DefaultConfig()
	if cfg.address != "" {
		apiCfg.Address = cfg.address
	}

	api, err := vault.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClientInit, err)
	}

	client := &Client{api: api, config: cfg}
	if cfg.token != "" {
		client.api.SetToken(cfg.token)
	}

	if cfg.roleID != "" && cfg.roleName != "" {
		if err := client.loginAppRole(ctx); err != nil {
			return nil, fmt.Errorf("approle login failed: %w", err)
		}
	}

	return client, nil
}

// loginAppRole generates a secret ID for the configured role and logs
// in with it.
func (c *Client) loginAppRole(ctx context.Context) error {
	path := fmt.Sprintf(approleSecretIDPath, c.config.roleName)
	resp, err := c.api.Logical().WriteWithContext(ctx, path, nil)
	if err != nil {
		return fmt.Errorf("generate secret_id: %w", err)
	}
	sid, ok := resp.Data["secret_id"].(string)
	if !ok || sid == "" {
		return fmt.Errorf("no secret_id returned from %s", path)
	}

	loginData := map[string]any{
		"role_id":   c.config.roleID,
		"secret_id": sid,
	}
	loginResp, err := c.api.Logical().WriteWithContext(ctx, approleLoginPath, loginData)
	if err != nil {
		return fmt.Errorf("approle login request: %w", err)
	}
	if loginResp.Auth == nil || loginResp.Auth.ClientToken == "" {
		return errors.New("no token in login response")
	}
	c.api.SetToken(loginResp.Auth.ClientToken)
	return nil
}

// BackupSecrets reads the backup credentials at the given KV path.
// Both KV v1 and v2 response shapes are handled.
func (c *Client) BackupSecrets(ctx context.Context, path string) (*Secrets, error) {
	secret, err := c.api.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no data found at path: %s", path)
	}

	data := secret.Data
	// KV v2 nests the fields one level down.
	if nested, ok := data["data"].(map[string]any); ok {
		data = nested
	}

	s := &Secrets{}
	s.AccountID, _ = data[fieldAccountID].(string)
	s.AccountKey, _ = data[fieldAccountKey].(string)
	s.Password, _ = data[fieldPassword].(string)

	if s.AccountID == "" || s.AccountKey == "" {
		return nil, fmt.Errorf("incomplete credentials at path: %s", path)
	}
	return s, nil
}
