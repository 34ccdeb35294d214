// Package config provides environment-based configuration for the hotfix toolchain.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the hotfix toolchain.
type Config struct {
	// ProjectRoot is the game project directory; relative paths resolve against it.
	ProjectRoot string
	// SettingsPath is the YAML settings file holding the hotfix descriptors.
	SettingsPath string

	// Build configuration
	Build BuildConfig

	// Delivery store and server configuration
	Delivery DeliveryConfig

	// DatabaseDSN enables the build history store when set.
	DatabaseDSN string

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration

	// Logging
	LogLevel string
	LogJSON  bool
}

// BuildConfig holds compile-related configuration.
type BuildConfig struct {
	// ScriptAssembliesDir is the toolchain output directory holding <name>.dll files.
	ScriptAssembliesDir string
	// ScratchDir receives compiler output before it is copied to the output folder.
	ScratchDir string
	// CompilerPath is the csc-compatible compiler executable.
	CompilerPath string
	// TargetPlatform is the player platform the modules are built for.
	TargetPlatform string
	// APILevel is the API compatibility level.
	APILevel string
	// Defines are preprocessor symbols passed to every compile.
	Defines []string
	// References are assembly paths passed to every compile.
	References []string
	// BusyMarkers are files whose presence means the host is compiling or
	// entering play mode; sync is skipped while any exists.
	BusyMarkers []string
	// CompileTimeout bounds a single compiler invocation.
	CompileTimeout time.Duration
}

// DeliveryConfig holds delivery store configuration.
type DeliveryConfig struct {
	// StoreDir is the content-addressed blob directory.
	StoreDir string
	// Endpoint is the delivery server URL used by clients.
	Endpoint string
	// Host and Port are where the delivery server listens.
	Host string
	Port int

	// PublishToken authenticates publishes to Endpoint; without it publishing
	// writes to StoreDir.
	PublishToken string

	// JWTSecret signs publisher tokens.
	JWTSecret string
	JWTExpiry time.Duration

	// AgePublicKey seals published blobs when set.
	// Format: age1... (Bech32 encoded)
	AgePublicKey string
	// AgePrivateKey opens sealed blobs on the loading side.
	// Format: AGE-SECRET-KEY-1... (Bech32 encoded)
	AgePrivateKey string

	FetchTimeout time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := LoadWithDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that configuration values are usable.
func (c *Config) Validate() error {
	if c.ProjectRoot == "" {
		return fmt.Errorf("HOTFIX_PROJECT_ROOT is required")
	}
	if c.Build.TargetPlatform == "" {
		return fmt.Errorf("HOTFIX_TARGET_PLATFORM is required")
	}
	if c.Delivery.JWTSecret != "" && len(c.Delivery.JWTSecret) < 32 {
		return fmt.Errorf("HOTFIX_JWT_SECRET must be at least 32 characters")
	}
	if c.Delivery.Port <= 0 || c.Delivery.Port > 65535 {
		return fmt.Errorf("HOTFIX_DELIVERY_PORT must be between 1 and 65535")
	}
	return nil
}

// LoadWithDefaults loads configuration with defaults for development.
// It does not validate, useful for testing.
func LoadWithDefaults() *Config {
	root := getEnv("HOTFIX_PROJECT_ROOT", ".")

	return &Config{
		ProjectRoot:  root,
		SettingsPath: getEnv("HOTFIX_SETTINGS", filepath.Join(root, "ProjectSettings", "HotfixSettings.yaml")),
		Build: BuildConfig{
			ScriptAssembliesDir: getEnv("HOTFIX_SCRIPT_ASSEMBLIES", filepath.Join(root, "Library", "ScriptAssemblies")),
			ScratchDir:          getEnv("HOTFIX_SCRATCH_DIR", filepath.Join(root, "Temp", "HotfixBuild")),
			CompilerPath:        getEnv("HOTFIX_COMPILER", "csc"),
			TargetPlatform:      getEnv("HOTFIX_TARGET_PLATFORM", "Android"),
			APILevel:            getEnv("HOTFIX_API_LEVEL", "NET_Standard_2_0"),
			Defines:             getListEnv("HOTFIX_DEFINES", nil),
			References:          getListEnv("HOTFIX_REFERENCES", nil),
			BusyMarkers: getListEnv("HOTFIX_BUSY_MARKERS", []string{
				filepath.Join(root, "Temp", "HotfixCompiling.lock"),
			}),
			CompileTimeout: getDurationEnv("HOTFIX_COMPILE_TIMEOUT", 5*time.Minute),
		},
		Delivery: DeliveryConfig{
			StoreDir:      getEnv("HOTFIX_STORE_DIR", filepath.Join(root, "HotfixStore")),
			Endpoint:      getEnv("HOTFIX_DELIVERY_ENDPOINT", "http://localhost:8088"),
			Host:          getEnv("HOTFIX_DELIVERY_HOST", "0.0.0.0"),
			Port:          getIntEnv("HOTFIX_DELIVERY_PORT", 8088),
			PublishToken:  getEnv("HOTFIX_PUBLISH_TOKEN", ""),
			JWTSecret:     getEnv("HOTFIX_JWT_SECRET", ""),
			JWTExpiry:     getDurationEnv("HOTFIX_JWT_EXPIRY", 24*time.Hour),
			AgePublicKey:  getEnv("HOTFIX_AGE_PUBLIC_KEY", ""),
			AgePrivateKey: getEnv("HOTFIX_AGE_PRIVATE_KEY", ""),
			FetchTimeout:  getDurationEnv("HOTFIX_FETCH_TIMEOUT", 30*time.Second),
		},
		DatabaseDSN:     getEnv("DATABASE_URL", ""),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogJSON:         getBoolEnv("LOG_JSON", true),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getListEnv splits a value on the OS path list separator.
func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range filepath.SplitList(value) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
