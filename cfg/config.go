package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// StorageConfiguration controls the per-actor database.
type StorageConfiguration struct {
	StatementCacheSize      int    `toml:"statement_cache_size"`       // Compiled statements kept per actor
	VoluntarySizeLimitBytes int64  `toml:"voluntary_size_limit_bytes"` // 0 = unlimited
	CompressThresholdBytes  int    `toml:"compress_threshold_bytes"`   // KV values larger than this are zstd-compressed
	BusyTimeoutMS           int    `toml:"busy_timeout_ms"`
	JournalMode             string `toml:"journal_mode"` // "WAL" or "DELETE"
	MailboxSize             int    `toml:"mailbox_size"` // Pending calls queued per actor
}

// PolicyConfiguration controls the SQL authorizer.
type PolicyConfiguration struct {
	ReservedPatterns []string `toml:"reserved_patterns"`
	VTableModules    []string `toml:"vtable_modules"`
	DeniedFunctions  []string `toml:"denied_functions"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// AdminConfiguration for the operator HTTP surface
type AdminConfiguration struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
	Secret      string `toml:"secret"` // Empty disables authentication
}

// Configuration is the main configuration structure
type Configuration struct {
	HostID  uint64 `toml:"host_id"`
	DataDir string `toml:"data_dir"`

	Storage    StorageConfiguration    `toml:"storage"`
	Policy     PolicyConfiguration     `toml:"policy"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
	Admin      AdminConfiguration      `toml:"admin"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	HostIDFlag     = flag.Uint64("host-id", 0, "Host ID (overrides config, 0=auto)")
	AdminPortFlag  = flag.Int("admin-port", 0, "Admin HTTP port (overrides config)")
)

// Default configuration
var Config = Default()

// Default returns a fresh configuration populated with defaults.
func Default() *Configuration {
	return &Configuration{
		HostID:  0, // Auto-generate
		DataDir: "./durasql-data",

		Storage: StorageConfiguration{
			StatementCacheSize:      100,
			VoluntarySizeLimitBytes: 0,
			CompressThresholdBytes:  4096,
			BusyTimeoutMS:           5000,
			JournalMode:             "WAL",
			MailboxSize:             64,
		},

		Policy: PolicyConfiguration{
			ReservedPatterns: []string{"__durasql_*", "sqlite_*"},
			VTableModules:    []string{"fts5", "fts4", "fts3", "rtree"},
			DeniedFunctions:  []string{"load_extension", "fts3_tokenizer", "readfile", "writefile", "edit"},
		},

		Logging: LoggingConfiguration{
			Verbose: false,
			Format:  "console",
		},

		Prometheus: PrometheusConfiguration{
			Enabled: true,
		},

		Admin: AdminConfiguration{
			Enabled:     true,
			BindAddress: "127.0.0.1",
			Port:        8787,
		},
	}
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	// Load from file if it exists
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *HostIDFlag != 0 {
		Config.HostID = *HostIDFlag
	}
	if *AdminPortFlag != 0 {
		Config.Admin.Port = *AdminPortFlag
	}

	// Auto-generate host ID if not set
	if Config.HostID == 0 {
		var err error
		Config.HostID, err = generateHostID()
		if err != nil {
			return fmt.Errorf("failed to generate host ID: %w", err)
		}
		log.Info().Uint64("host_id", Config.HostID).Msg("Auto-generated host ID")
	}

	// Ensure data directory exists
	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// generateHostID creates a unique host ID based on machine ID
func generateHostID() (uint64, error) {
	id, err := machineid.ProtectedID("durasql")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks configuration for errors
func Validate() error {
	if Config.DataDir == "" {
		return fmt.Errorf("data directory must be set")
	}

	if Config.Storage.StatementCacheSize < 1 {
		return fmt.Errorf("statement cache size must be >= 1")
	}

	if Config.Storage.VoluntarySizeLimitBytes < 0 {
		return fmt.Errorf("voluntary size limit must be >= 0")
	}

	if Config.Storage.CompressThresholdBytes < 0 {
		return fmt.Errorf("compress threshold must be >= 0")
	}

	if Config.Storage.BusyTimeoutMS < 0 {
		return fmt.Errorf("busy timeout must be >= 0")
	}

	if Config.Storage.MailboxSize < 1 {
		return fmt.Errorf("mailbox size must be >= 1")
	}

	switch Config.Storage.JournalMode {
	case "WAL", "DELETE":
	default:
		return fmt.Errorf("invalid journal mode: %s", Config.Storage.JournalMode)
	}

	if len(Config.Policy.ReservedPatterns) == 0 {
		return fmt.Errorf("at least one reserved pattern is required")
	}

	if Config.Logging.Format != "console" && Config.Logging.Format != "json" {
		return fmt.Errorf("invalid logging format: %s", Config.Logging.Format)
	}

	if Config.Admin.Enabled && (Config.Admin.Port < 1 || Config.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", Config.Admin.Port)
	}

	return nil
}

// ActorsDir returns the directory holding one database file per actor.
func ActorsDir() string {
	return filepath.Join(Config.DataDir, "actors")
}

// CatalogDir returns the directory of the actor lifecycle catalog.
func CatalogDir() string {
	return filepath.Join(Config.DataDir, "catalog")
}
