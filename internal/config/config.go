package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vertextoedge/app-installer/internal/domain/vo"
	"github.com/vertextoedge/app-installer/internal/service/installer"
)

// EnvPrefix prefixes environment overrides, e.g. APPINSTALLER_DOWNLOAD_TIMEOUT_MINUTES
const EnvPrefix = "APPINSTALLER"

// Config represents the entire application configuration
type Config struct {
	Download DownloadConfig `mapstructure:"download"`
	Install  InstallConfig  `mapstructure:"install"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
}

// DownloadConfig contains transfer settings
type DownloadConfig struct {
	TimeoutMinutes               int    `mapstructure:"timeout_minutes"`
	BufferSizeKB                 int    `mapstructure:"buffer_size_kb"`
	MaxRetryAttempts             int    `mapstructure:"max_retry_attempts"`
	EnableResumeDownload         bool   `mapstructure:"enable_resume_download"`
	PreservePartialDownloads     bool   `mapstructure:"preserve_partial_downloads"`
	CancellationCheckFrequencyKB int    `mapstructure:"cancellation_check_frequency_kb"`
	MaxConcurrentDownloads       int    `mapstructure:"max_concurrent_downloads"`
	MaxBytesPerSecond            int64  `mapstructure:"max_bytes_per_second"`
	UserAgent                    string `mapstructure:"user_agent"`
}

// InstallConfig contains install and housekeeping settings
type InstallConfig struct {
	BaseDir             string `mapstructure:"base_dir"`
	CatalogDir          string `mapstructure:"catalog_dir"`
	DependencyTimeout   string `mapstructure:"dependency_timeout"`
	ElevateDependencies bool   `mapstructure:"elevate_dependencies"`
	TempFileMaxAge      string `mapstructure:"temp_file_max_age"`
	RunRetention        string `mapstructure:"run_retention"`
	CleanupInterval     string `mapstructure:"cleanup_interval"`
}

// HTTPConfig contains status server configuration
type HTTPConfig struct {
	BindAddr      string `mapstructure:"bind_addr"`
	AdminUsername string `mapstructure:"admin_username"`
	AdminPassword string `mapstructure:"admin_password"`
	ReadTimeout   string `mapstructure:"read_timeout"`
	WriteTimeout  string `mapstructure:"write_timeout"`
	IdleTimeout   string `mapstructure:"idle_timeout"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	baseDir := defaultBaseDir()

	v.SetDefault("download.timeout_minutes", 30)
	v.SetDefault("download.buffer_size_kb", 64)
	v.SetDefault("download.max_retry_attempts", 3)
	v.SetDefault("download.enable_resume_download", true)
	v.SetDefault("download.preserve_partial_downloads", true)
	v.SetDefault("download.cancellation_check_frequency_kb", 512)
	v.SetDefault("download.max_concurrent_downloads", 2)
	v.SetDefault("download.max_bytes_per_second", 0)
	v.SetDefault("download.user_agent", "app-installer/1.0")
	v.SetDefault("install.base_dir", baseDir)
	v.SetDefault("install.catalog_dir", filepath.Join(baseDir, "catalog"))
	v.SetDefault("install.dependency_timeout", "10m")
	v.SetDefault("install.elevate_dependencies", true)
	v.SetDefault("install.temp_file_max_age", "24h")
	v.SetDefault("install.run_retention", "720h")
	v.SetDefault("install.cleanup_interval", "1h")
	v.SetDefault("http.bind_addr", "127.0.0.1:8090")
	v.SetDefault("http.admin_username", "admin")
	v.SetDefault("http.admin_password", "")
	v.SetDefault("http.read_timeout", "30s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")
	v.SetDefault("database.path", "")
}

func defaultBaseDir() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(dir, "Apps")
	}
	return filepath.Join(os.TempDir(), "apps")
}

// Load loads configuration from the specified file path. An empty path
// yields the defaults plus environment overrides.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Database.Path == "" {
		config.Database.Path = filepath.Join(config.Install.BaseDir, ".app-installer", "installs.db")
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Download.TimeoutMinutes < 0 {
		return fmt.Errorf("download.timeout_minutes must not be negative")
	}
	if c.Download.BufferSizeKB <= 0 {
		return fmt.Errorf("download.buffer_size_kb must be positive")
	}
	if c.Download.MaxRetryAttempts < 1 || c.Download.MaxRetryAttempts > 10 {
		return fmt.Errorf("download.max_retry_attempts must be between 1 and 10")
	}
	if c.Download.CancellationCheckFrequencyKB <= 0 {
		return fmt.Errorf("download.cancellation_check_frequency_kb must be positive")
	}
	if c.Download.MaxConcurrentDownloads < 1 || c.Download.MaxConcurrentDownloads > 16 {
		return fmt.Errorf("download.max_concurrent_downloads must be between 1 and 16")
	}
	if c.Download.MaxBytesPerSecond < 0 {
		return fmt.Errorf("download.max_bytes_per_second must not be negative")
	}

	if c.Install.BaseDir == "" {
		return fmt.Errorf("install.base_dir is required")
	}
	for key, value := range map[string]string{
		"install.dependency_timeout": c.Install.DependencyTimeout,
		"install.temp_file_max_age":  c.Install.TempFileMaxAge,
		"install.run_retention":      c.Install.RunRetention,
		"install.cleanup_interval":   c.Install.CleanupInterval,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
		// Valid formats
	default:
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}

	return nil
}

// GetAttemptTimeout returns the per-attempt transfer timeout
func (c *DownloadConfig) GetAttemptTimeout() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

// GetBufferSize returns the buffer size in bytes
func (c *DownloadConfig) GetBufferSize() int {
	if c.BufferSizeKB <= 0 {
		return int(64 * vo.KB)
	}
	return int(vo.FileSizeFromKB(c.BufferSizeKB).Bytes())
}

// GetCheckpointBytes returns the cancellation/progress checkpoint interval in bytes
func (c *DownloadConfig) GetCheckpointBytes() int64 {
	if c.CancellationCheckFrequencyKB <= 0 {
		return 512 * vo.KB
	}
	return vo.FileSizeFromKB(c.CancellationCheckFrequencyKB).Bytes()
}

// GetDependencyTimeout returns the dependency installer timeout
func (c *InstallConfig) GetDependencyTimeout() time.Duration {
	d, _ := time.ParseDuration(c.DependencyTimeout)
	if d == 0 {
		return 10 * time.Minute
	}
	return d
}

// GetTempFileMaxAge returns the age after which orphaned temp files are swept
func (c *InstallConfig) GetTempFileMaxAge() time.Duration {
	d, _ := time.ParseDuration(c.TempFileMaxAge)
	if d == 0 {
		return 24 * time.Hour
	}
	return d
}

// GetRunRetention returns how long finished runs are kept
func (c *InstallConfig) GetRunRetention() time.Duration {
	d, _ := time.ParseDuration(c.RunRetention)
	if d == 0 {
		return 30 * 24 * time.Hour
	}
	return d
}

// GetCleanupInterval returns how often maintenance runs
func (c *InstallConfig) GetCleanupInterval() time.Duration {
	d, _ := time.ParseDuration(c.CleanupInterval)
	if d == 0 {
		return time.Hour
	}
	return d
}

// GetReadTimeout returns the read timeout as time.Duration
func (c *HTTPConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(c.ReadTimeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetWriteTimeout returns the write timeout as time.Duration
func (c *HTTPConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(c.WriteTimeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetIdleTimeout returns the idle timeout as time.Duration
func (c *HTTPConfig) GetIdleTimeout() time.Duration {
	d, _ := time.ParseDuration(c.IdleTimeout)
	if d == 0 {
		return 60 * time.Second
	}
	return d
}

// InstallerConfig maps the file settings onto the installer service
func (c *Config) InstallerConfig() installer.Config {
	cfg := installer.DefaultConfig()
	cfg.AttemptTimeout = c.Download.GetAttemptTimeout()
	cfg.BufferSize = c.Download.GetBufferSize()
	cfg.MaxRetryAttempts = c.Download.MaxRetryAttempts
	cfg.EnableResume = c.Download.EnableResumeDownload
	cfg.PreservePartial = c.Download.PreservePartialDownloads
	cfg.CheckpointBytes = c.Download.GetCheckpointBytes()
	cfg.MaxBytesPerSecond = c.Download.MaxBytesPerSecond
	cfg.MaxConcurrent = c.Download.MaxConcurrentDownloads
	cfg.DependencyTimeout = c.Install.GetDependencyTimeout()
	cfg.ElevateDependencies = c.Install.ElevateDependencies
	return cfg
}
