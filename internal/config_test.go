package internal

import (
	"strings"
	"testing"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDisplayConfig_DefaultsBaseURLFromPort(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.App.HTTP.Port = 9090
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Display.BaseURL != "http://127.0.0.1:9090" {
		t.Errorf("base_url = %q", cfg.Display.BaseURL)
	}
}

func TestDisplayConfig_InvalidBaseURL(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Display.BaseURL = "not a url"
	if err := cfg.Validate(); err == nil {
		t.Fatal("invalid base_url should fail validation")
	}
}

func TestAssetsConfig_RootsOrder(t *testing.T) {
	cfg := AssetsConfig{
		Root:                "a",
		ResourceRoots:       []string{"r1", "r2"},
		LegacyResourceRoots: []string{"old"},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	got := strings.Join(cfg.Roots(), ",")
	if got != "r1,r2,old" {
		t.Errorf("roots = %s", got)
	}
	cfg.LegacyResourceRoots = []string{""}
	if err := cfg.Validate(); err == nil {
		t.Error("empty legacy root should fail validation")
	}
}

func TestFullConfig_RequiredPaths(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"store":     func(c *Config) { c.Store.Path = "" },
		"documents": func(c *Config) { c.Documents.Root = "" },
		"assets":    func(c *Config) { c.Assets.Root = "" },
		"port":      func(c *Config) { c.App.HTTP.Port = 70000 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
