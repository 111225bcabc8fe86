package internal

import (
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Store     StoreConfig       `yaml:"store"`
	Documents DocumentsConfig   `yaml:"documents"`
	Assets    AssetsConfig      `yaml:"assets"`
	Display   DisplayConfig     `yaml:"display"`
	Auth      AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.Documents.Validate(); err != nil {
		return err
	}
	if err := c.Assets.Validate(); err != nil {
		return err
	}
	if err := c.Display.Validate(c.App.HTTP.Port); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StoreConfig holds the SQLite relational store location.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// DocumentsConfig holds the document-log root. ClientID tags the updates
// this process appends; distinct writers sharing a root need distinct ids.
type DocumentsConfig struct {
	Root     string `yaml:"root"`
	ClientID uint64 `yaml:"client_id"`
}

// Validate validates the documents configuration.
func (c *DocumentsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
	)
}

// AssetsConfig holds the content-addressed asset store and the per-note
// resource roots legacy data is resolved against.
type AssetsConfig struct {
	Root                string   `yaml:"root"`
	ResourceRoots       []string `yaml:"resource_roots"`
	LegacyResourceRoots []string `yaml:"legacy_resource_roots"`
}

// Validate validates the assets configuration.
func (c *AssetsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
		validation.Field(&c.ResourceRoots, validation.Each(validation.Required)),
		validation.Field(&c.LegacyResourceRoots, validation.Each(validation.Required)),
	)
}

// Roots returns the resource roots in lookup order.
func (c *AssetsConfig) Roots() []string {
	return append(append([]string{}, c.ResourceRoots...), c.LegacyResourceRoots...)
}

// DisplayConfig controls display locators handed to the renderer.
//
// BaseURL prefixes every locator and defaults to the local HTTP address.
// StrictStorage rejects saves that still contain locators this process
// never issued.
type DisplayConfig struct {
	BaseURL       string `yaml:"base_url"`
	StrictStorage bool   `yaml:"strict_storage"`
}

// Validate validates the display configuration, filling BaseURL from port
// when it is empty.
func (c *DisplayConfig) Validate(port int) error {
	if c.BaseURL == "" {
		c.BaseURL = fmt.Sprintf("http://127.0.0.1:%d", port)
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required, is.URL),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 7777,
			},
		},
		Store: StoreConfig{
			Path: "./data/quire.db",
		},
		Documents: DocumentsConfig{
			Root:     "./data/rte",
			ClientID: 1,
		},
		Assets: AssetsConfig{
			Root: "./data/assets",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
