package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrRegionNotPermitted means the selected region is outside the allow-list
	ErrRegionNotPermitted = errors.New("region not in permitted list")
	// ErrInstanceIDMissing means the single-instance job has no target
	ErrInstanceIDMissing = errors.New("RDS_INSTANCE_ID undefined")
)

type Config struct {
	AWS      AWSConfig      `yaml:"aws"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Jobs     JobsConfig     `yaml:"jobs"`
	Lock     LockConfig     `yaml:"lock"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type AWSConfig struct {
	Region           string   `yaml:"region"`
	PermittedRegions []string `yaml:"permittedRegions"`
	// BreakerMaxFailures consecutive failed API calls open the circuit breaker
	BreakerMaxFailures int `yaml:"breakerMaxFailures"`
	// BreakerTimeoutSeconds is how long the breaker stays open
	BreakerTimeoutSeconds int `yaml:"breakerTimeoutSeconds"`
}

type SnapshotConfig struct {
	// Policy selects the named default policy: "standard" (02) or "offset" (03)
	Policy string `yaml:"policy"`
	// DefaultSchedule overrides the policy schedule when set
	DefaultSchedule string `yaml:"defaultSchedule"`
	// DefaultRetentionDays overrides the policy retention when > 0
	DefaultRetentionDays int `yaml:"defaultRetentionDays"`
	// InstanceID is the target of the single-instance job
	InstanceID string `yaml:"instanceID"`
}

type JobsConfig struct {
	TakeSnapshotsCron   string `yaml:"takeSnapshotsCron"`
	DeleteSnapshotsCron string `yaml:"deleteSnapshotsCron"`
	TimeoutMinutes      int    `yaml:"timeoutMinutes"`
}

type LockConfig struct {
	// DatabaseURL enables PostgreSQL advisory locks when set
	DatabaseURL    string `yaml:"databaseURL"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgatewayURL"`
}

const DefaultRegion = "eu-north-1"

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		AWS: AWSConfig{
			Region:                DefaultRegion,
			PermittedRegions:      []string{"eu-north-1", "eu-central-1"},
			BreakerMaxFailures:    5,
			BreakerTimeoutSeconds: 60,
		},
		Snapshot: SnapshotConfig{
			Policy: "standard",
		},
		Jobs: JobsConfig{
			TakeSnapshotsCron:   "0 * * * *",
			DeleteSnapshotsCron: "30 * * * *",
			TimeoutMinutes:      30,
		},
		Lock: LockConfig{
			TimeoutSeconds: 30,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and the environment,
// in that order of precedence (environment wins)
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.AWS.Region = getEnv("AWS_REGION", cfg.AWS.Region)
	if regions := getEnv("PERMITTED_REGIONS", ""); regions != "" {
		cfg.AWS.PermittedRegions = splitList(regions)
	}
	cfg.AWS.BreakerMaxFailures = getEnvAsInt("BREAKER_MAX_FAILURES", cfg.AWS.BreakerMaxFailures)
	cfg.AWS.BreakerTimeoutSeconds = getEnvAsInt("BREAKER_TIMEOUT_SECONDS", cfg.AWS.BreakerTimeoutSeconds)

	cfg.Snapshot.Policy = getEnv("SNAPSHOT_POLICY", cfg.Snapshot.Policy)
	cfg.Snapshot.DefaultSchedule = getEnv("SNAPSHOT_DEFAULT_SCHEDULE", cfg.Snapshot.DefaultSchedule)
	cfg.Snapshot.DefaultRetentionDays = getEnvAsInt("SNAPSHOT_DEFAULT_RETENTION_DAYS", cfg.Snapshot.DefaultRetentionDays)
	cfg.Snapshot.InstanceID = getEnv("RDS_INSTANCE_ID", cfg.Snapshot.InstanceID)

	cfg.Jobs.TakeSnapshotsCron = getEnv("TAKE_SNAPSHOTS_CRON", cfg.Jobs.TakeSnapshotsCron)
	cfg.Jobs.DeleteSnapshotsCron = getEnv("DELETE_SNAPSHOTS_CRON", cfg.Jobs.DeleteSnapshotsCron)
	cfg.Jobs.TimeoutMinutes = getEnvAsInt("JOB_TIMEOUT_MINUTES", cfg.Jobs.TimeoutMinutes)

	cfg.Lock.DatabaseURL = getEnv("LOCK_DATABASE_URL", cfg.Lock.DatabaseURL)
	cfg.Lock.TimeoutSeconds = getEnvAsInt("LOCK_TIMEOUT_SECONDS", cfg.Lock.TimeoutSeconds)

	cfg.Metrics.PushgatewayURL = getEnv("PUSHGATEWAY_URL", cfg.Metrics.PushgatewayURL)
}

// ValidateRegion checks the selected region against the allow-list
func (c *Config) ValidateRegion() error {
	for _, r := range c.AWS.PermittedRegions {
		if r == c.AWS.Region {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrRegionNotPermitted, c.AWS.Region)
}

// RequireInstanceID returns the single-instance target or ErrInstanceIDMissing
func (c *Config) RequireInstanceID() (string, error) {
	if c.Snapshot.InstanceID == "" {
		return "", ErrInstanceIDMissing
	}
	return c.Snapshot.InstanceID, nil
}

func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.Jobs.TimeoutMinutes) * time.Minute
}

func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.Lock.TimeoutSeconds) * time.Second
}

func (c *Config) BreakerTimeout() time.Duration {
	return time.Duration(c.AWS.BreakerTimeoutSeconds) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
