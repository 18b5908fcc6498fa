package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server          ServerConfig
	LLM             LLMConfig
	Embedding       EmbeddingConfig
	Storage         StorageConfig
	Profiles        ProfilesConfig
	Retrieval       RetrievalConfig
	Differentiation DifferentiationConfig
	Log             LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type LLMConfig struct {
	AnthropicAPIKey string
}

type EmbeddingConfig struct {
	BaseURL string
	Model   string
}

type StorageConfig struct {
	DataDir string
}

type ProfilesConfig struct {
	Path string
}

type RetrievalConfig struct {
	TopK int
}

type DifferentiationConfig struct {
	DefaultLevel float64
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 8080,
		},
		Embedding: EmbeddingConfig{
			BaseURL: "http://localhost:11434",
			Model:   "nomic-embed-text",
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Profiles: ProfilesConfig{
			Path: "profiles.yaml",
		},
		Retrieval: RetrievalConfig{
			TopK: 3,
		},
		Differentiation: DifferentiationConfig{
			DefaultLevel: 50,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.obi.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/obi/config.json
// and secrets must be provided via environment variables.
//
// Environment variables (OBI_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try platform keychain for the API key if still empty.
	if cfg.LLM.AnthropicAPIKey == "" {
		if key, err := kc.Get("obi", "anthropic_api_key"); err == nil && key != "" {
			cfg.LLM.AnthropicAPIKey = key
		}
	}

	if cfg.LLM.AnthropicAPIKey == "" {
		msg := "missing required config: Anthropic API key. " +
			"Set it via environment variable OBI_ANTHROPIC_API_KEY" +
			apiKeyHint()
		return Config{}, fmt.Errorf("%s", msg)
	}

	return cfg, nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
