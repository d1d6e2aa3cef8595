package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cloudmason/snapguard/pkg/security"
)

// Defaults for tunables that are usually left alone.
const (
	DefaultPolicyInterval     = 60 * time.Minute
	DefaultSnapshotInterval   = 60 * time.Minute
	DefaultMaxSnapshotSizeGB  = 260
	DefaultTriggerPoll        = 10 * time.Second
	DefaultVolumeWorkers      = 8
	DefaultAssignmentChunk    = 500
	DefaultSessionCacheSize   = 64
	DefaultSessionTTL         = 50 * time.Minute
	DefaultRequestTimeout     = 30 * time.Second
	DefaultInventoryStaleness = time.Hour
)

// Config is the process configuration, sourced entirely from the environment.
type Config struct {
	// Restore surface
	RestoreEnabled        bool
	RestoreDryRun         bool
	RestoreCleanupVolumes bool

	// Snapshot worker
	PolicyInterval     time.Duration
	SnapshotInterval   time.Duration
	MaxSnapshotSizeGB  int
	SnapshotDryRun     bool
	TriggerPoll        time.Duration
	VolumeWorkers      int
	AssignmentChunk    int
	InventoryStaleness time.Duration

	// Service user
	ServiceUserEmail    string
	ServiceUserPassword string
	ServiceUserDisabled bool

	// Cloud endpoint
	IdentityEndpoint string
	Region           string
	UserDomain       string

	// Logging
	LogLevel string
	LogJSON  bool

	// Local state
	DataDir   string
	RulesPath string
	ListenAddr string

	// Session cache
	SessionCacheSize int
	SessionTTL       time.Duration

	// Cloud request policy
	RequestTimeout time.Duration
}

// Load reads the recognized environment keys and applies defaults. A
// misconfigured encrypted password is fatal here, not at first use.
func Load() (*Config, error) {
	cfg := &Config{
		RestoreEnabled:        envBool("RESTORE_ENABLED", false),
		RestoreDryRun:         envBool("RESTORE_DRY_RUN", false),
		RestoreCleanupVolumes: envBool("RESTORE_CLEANUP_VOLUMES", false),

		PolicyInterval:     envMinutes("POLICY_ASSIGN_INTERVAL_MINUTES", DefaultPolicyInterval),
		SnapshotInterval:   envMinutes("AUTO_SNAPSHOT_INTERVAL_MINUTES", DefaultSnapshotInterval),
		MaxSnapshotSizeGB:  envInt("AUTO_SNAPSHOT_MAX_SIZE_GB", DefaultMaxSnapshotSizeGB),
		SnapshotDryRun:     envBool("AUTO_SNAPSHOT_DRY_RUN", false),
		TriggerPoll:        DefaultTriggerPoll,
		VolumeWorkers:      envInt("AUTO_SNAPSHOT_WORKERS", DefaultVolumeWorkers),
		AssignmentChunk:    DefaultAssignmentChunk,
		InventoryStaleness: DefaultInventoryStaleness,

		ServiceUserEmail:    os.Getenv("SNAPSHOT_SERVICE_USER_EMAIL"),
		ServiceUserDisabled: envBool("SNAPSHOT_SERVICE_USER_DISABLED", false),

		IdentityEndpoint: os.Getenv("OS_AUTH_URL"),
		Region:           os.Getenv("OS_REGION_NAME"),
		UserDomain:       envString("OS_USER_DOMAIN_NAME", "Default"),

		LogLevel: envString("LOG_LEVEL", "info"),
		LogJSON:  envBool("LOG_JSON", true),

		DataDir:    envString("SNAPGUARD_DATA_DIR", "./snapguard-data"),
		RulesPath:  envString("SNAPGUARD_RULES_FILE", "./rules.json"),
		ListenAddr: envString("SNAPGUARD_LISTEN_ADDR", "127.0.0.1:8750"),

		SessionCacheSize: DefaultSessionCacheSize,
		SessionTTL:       DefaultSessionTTL,
		RequestTimeout:   DefaultRequestTimeout,
	}

	plain := os.Getenv("SNAPSHOT_SERVICE_USER_PASSWORD")
	encrypted := os.Getenv("SNAPSHOT_USER_PASSWORD_ENCRYPTED")
	key := os.Getenv("SNAPSHOT_PASSWORD_KEY")

	switch {
	case plain != "" && encrypted != "":
		return nil, fmt.Errorf("SNAPSHOT_SERVICE_USER_PASSWORD and SNAPSHOT_USER_PASSWORD_ENCRYPTED are mutually exclusive")
	case plain != "":
		cfg.ServiceUserPassword = plain
	case encrypted != "":
		if key == "" {
			return nil, fmt.Errorf("SNAPSHOT_USER_PASSWORD_ENCRYPTED requires SNAPSHOT_PASSWORD_KEY")
		}
		password, err := security.DecryptPassword(encrypted, key)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt service user password: %w", err)
		}
		cfg.ServiceUserPassword = password
	}

	if cfg.VolumeWorkers < 1 {
		cfg.VolumeWorkers = 1
	}
	return cfg, nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envMinutes(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Minute
}
