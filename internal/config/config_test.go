package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/spf13/cobra"
)

// testOptions mirrors the shape of the CLI options struct.
type testOptions struct {
	Config string `help:"Settings file path"`

	Host         string   `toml:"server.host" env:"HOST"`
	Port         int      `toml:"server.port" env:"PORT" envAlias:"APP_PORT"`
	Debug        bool     `toml:"server.debug" env:"DEBUG"`
	Origins      []string `toml:"server.origins" env:"ORIGINS"`
	LoggingLevel string   `toml:"logging.level" env:"LOGGING_LEVEL"`
}

func writeSettings(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "camnode.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigFromTOML(t *testing.T) {
	path := writeSettings(t, `
[server]
host = "0.0.0.0"
port = 9000
debug = true
origins = ["http://a.local", "http://b.local"]

[logging]
level = "debug"
`)

	opts := &testOptions{Config: path}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if opts.Host != "0.0.0.0" {
		t.Errorf("Host = %q", opts.Host)
	}
	if opts.Port != 9000 {
		t.Errorf("Port = %d", opts.Port)
	}
	if !opts.Debug {
		t.Error("Debug should be true")
	}
	if want := []string{"http://a.local", "http://b.local"}; !reflect.DeepEqual(opts.Origins, want) {
		t.Errorf("Origins = %v", opts.Origins)
	}
	if opts.LoggingLevel != "debug" {
		t.Errorf("LoggingLevel = %q", opts.LoggingLevel)
	}
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("CAMNODE_HOST", "10.0.0.5")
	t.Setenv("CAMNODE_PORT", "8800")
	t.Setenv("CAMNODE_DEBUG", "true")
	t.Setenv("CAMNODE_ORIGINS", "http://x.local, http://y.local")

	opts := &testOptions{}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if opts.Host != "10.0.0.5" {
		t.Errorf("Host = %q", opts.Host)
	}
	if opts.Port != 8800 {
		t.Errorf("Port = %d", opts.Port)
	}
	if !opts.Debug {
		t.Error("Debug should be true")
	}
	if want := []string{"http://x.local", "http://y.local"}; !reflect.DeepEqual(opts.Origins, want) {
		t.Errorf("Origins = %v", opts.Origins)
	}
}

func TestLoadConfigEnvAlias(t *testing.T) {
	t.Setenv("APP_PORT", "8123")

	opts := &testOptions{}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if opts.Port != 8123 {
		t.Errorf("Port = %d, want the APP_PORT alias applied", opts.Port)
	}

	// The prefixed form wins over the alias.
	t.Setenv("CAMNODE_PORT", "8124")
	opts = &testOptions{}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if opts.Port != 8124 {
		t.Errorf("Port = %d, want CAMNODE_PORT to win over APP_PORT", opts.Port)
	}
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := writeSettings(t, `
[server]
port = 9000
`)
	t.Setenv("CAMNODE_PORT", "9001")

	opts := &testOptions{Config: path}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if opts.Port != 9001 {
		t.Errorf("Port = %d, environment should override the file", opts.Port)
	}
}

func TestLoadConfigRespectsChangedFlags(t *testing.T) {
	path := writeSettings(t, `
[server]
port = 9000
host = "0.0.0.0"
`)
	t.Setenv("CAMNODE_PORT", "9001")

	cmd := &cobra.Command{}
	cmd.Flags().Int("port", 8000, "")
	cmd.Flags().String("host", "127.0.0.1", "")
	if err := cmd.Flags().Set("port", "7777"); err != nil {
		t.Fatal(err)
	}

	opts := &testOptions{Config: path, Port: 7777}
	if err := LoadConfig(opts, cmd); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if opts.Port != 7777 {
		t.Errorf("Port = %d, an explicit flag must not be overwritten", opts.Port)
	}
	if opts.Host != "0.0.0.0" {
		t.Errorf("Host = %q, unset flags should still load from the file", opts.Host)
	}
}

func TestLoadConfigMissingFileIsFine(t *testing.T) {
	opts := &testOptions{Config: filepath.Join(t.TempDir(), "absent.toml"), Port: 8000}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if opts.Port != 8000 {
		t.Errorf("Port = %d, defaults should survive a missing file", opts.Port)
	}
}

func TestLoadConfigRejectsMalformedTOML(t *testing.T) {
	path := writeSettings(t, `[server`)
	opts := &testOptions{Config: path}
	if err := LoadConfig(opts, nil); err == nil {
		t.Fatal("expected an error for malformed TOML")
	}
}

func TestLoadLoggingConfig(t *testing.T) {
	path := writeSettings(t, `
[logging]
level = "warn"
format = "json"
worker = "debug"
api = "error"
`)

	cfg := LoadLoggingConfig(path)
	if cfg.Level != "warn" {
		t.Errorf("Level = %q", cfg.Level)
	}
	if cfg.Format != "json" {
		t.Errorf("Format = %q", cfg.Format)
	}
	if cfg.Modules["worker"] != "debug" || cfg.Modules["api"] != "error" {
		t.Errorf("Modules = %v", cfg.Modules)
	}
}

func TestLoadLoggingConfigDefaults(t *testing.T) {
	cfg := LoadLoggingConfig(filepath.Join(t.TempDir(), "absent.toml"))
	if cfg.Level != "info" || cfg.Format != "text" {
		t.Errorf("defaults = %+v", cfg)
	}
}
