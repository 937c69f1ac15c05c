package config

import (
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/juju/errors"
)

// Config holds all configuration for the exporter
type Config struct {
	DBFile       string
	BaseAPIURL   string
	AdminEmail   string
	AdminPass    string
	ElectionID   string
	ExportRoot   string
	DataSource   string
	RedisURL     string
	APIAddr      string
	GoogleCreds  string
	GoogleSheet  string
	DownloadAtts bool

	ConcurrentWorkers int
	PageSize          int
	AttachmentRetries int
	HTTPTimeout       time.Duration
	LockTimeout       time.Duration
}

// LoadConfig reads configuration from environment variables (.env file)
func LoadConfig(envFiles ...string) (*Config, error) {
	// Don't fail if .env is not present, production sets the environment directly.
	_ = godotenv.Load(envFiles...)

	cfg := &Config{
		BaseAPIURL:  getEnv("BASE_API_URL", ""),
		AdminEmail:  getEnv("ADMIN_EMAIL", ""),
		AdminPass:   getEnv("ADMIN_PASSWORD", ""),
		ElectionID:  getEnv("ELECTION_ID", ""),
		DataSource:  getEnv("DATA_SOURCE", "Coalition"),
		RedisURL:    getEnv("REDIS_URL", ""),
		APIAddr:     getEnv("API_ADDR", ":8080"),
		GoogleCreds: getEnv("GOOGLE_CREDENTIALS_PATH", ""),
		GoogleSheet: getEnv("GOOGLE_SHEET_ID", ""),
	}

	cfg.ExportRoot = getEnv("EXPORT_ROOT", filepath.Join("exported-data", cfg.ElectionID))
	cfg.DBFile = getEnv("DB_FILE", filepath.Join(cfg.ExportRoot, "export.db"))

	var err error
	if cfg.DownloadAtts, err = getBool("DOWNLOAD_ATTACHMENTS", false); err != nil {
		return nil, err
	}
	if cfg.ConcurrentWorkers, err = getInt("CONCURRENT_WORKERS", 8); err != nil {
		return nil, err
	}
	if cfg.PageSize, err = getInt("PAGE_SIZE", 100); err != nil {
		return nil, err
	}
	if cfg.AttachmentRetries, err = getInt("ATTACHMENT_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.HTTPTimeout, err = getDuration("HTTP_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.LockTimeout, err = getDuration("LOCK_TIMEOUT", 10*time.Minute); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the keys a run cannot start without.
func (c *Config) Validate() error {
	var missing []string
	for key, value := range map[string]string{
		"BASE_API_URL":   c.BaseAPIURL,
		"ADMIN_EMAIL":    c.AdminEmail,
		"ADMIN_PASSWORD": c.AdminPass,
		"ELECTION_ID":    c.ElectionID,
	} {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return errors.NotValidf("configuration: missing %s", strings.Join(missing, ", "))
	}
	if c.ConcurrentWorkers < 1 {
		return errors.NotValidf("CONCURRENT_WORKERS %d", c.ConcurrentWorkers)
	}
	if c.PageSize < 1 {
		return errors.NotValidf("PAGE_SIZE %d", c.PageSize)
	}
	return nil
}

// GoogleSheetsEnabled reports whether both Google Sheets settings are present.
func (c *Config) GoogleSheetsEnabled() bool {
	return c.GoogleCreds != "" && c.GoogleSheet != ""
}

// AttachmentsDir is where downloaded attachments are materialized.
func (c *Config) AttachmentsDir() string {
	return filepath.Join(c.ExportRoot, "attachments")
}

// WorkbookPath is the xlsx snapshot rewritten by every run.
func (c *Config) WorkbookPath() string {
	return filepath.Join(c.ExportRoot, "form_submissions.xlsx")
}

// Helper function to get env var or return default
func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) (bool, error) {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return false, errors.NotValidf("%s=%q", key, value)
	}
	return b, nil
}

func getInt(key string, defaultValue int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, errors.NotValidf("%s=%q", key, value)
	}
	return n, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, errors.NotValidf("%s=%q", key, value)
	}
	return d, nil
}
