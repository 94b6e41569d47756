package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/xelth-com/eckpick/internal/models"
	"github.com/xelth-com/eckpick/internal/picking"
)

// Store backends for the per-session cache mirror
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreBadger = "badger"
	StoreGorm   = "gorm"
)

// Config holds all application configuration
type Config struct {
	Env       string
	Port      string
	LogLevel  string
	Locale    string
	ZonesFile string
	Zones     []models.Zone
	Odoo      OdooConfig
	Database  DatabaseConfig
	Store     StoreConfig
	Timing    picking.Timing
}

// OdooConfig holds the ERP connection settings
type OdooConfig struct {
	URL      string
	Database string
	Username string
	Password string
	Timeout  time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	Silent   bool
}

// StoreConfig selects where session caches are persisted
type StoreConfig struct {
	Backend string
	Dir     string // file backend
	Path    string // badger directory
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads the process environment without touching .env
func FromEnv() (*Config, error) {
	odooURL := strings.TrimRight(os.Getenv("ODOO_URL"), "/")
	if odooURL == "" {
		return nil, fmt.Errorf("ODOO_URL is required")
	}

	st, err := storeFromEnv()
	if err != nil {
		return nil, err
	}

	timing, err := loadTiming()
	if err != nil {
		return nil, err
	}
	odooTimeout, err := getEnvDuration("ODOO_TIMEOUT_SEC", 30, time.Second)
	if err != nil {
		return nil, err
	}

	zonesFile := os.Getenv("ZONES_FILE")
	zones, err := LoadZones(zonesFile)
	if err != nil {
		return nil, err
	}

	return &Config{
		Env:       getEnv("APP_ENV", "development"),
		Port:      getEnv("PORT", "3210"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		Locale:    getEnv("LOCALE", "en"),
		ZonesFile: zonesFile,
		Zones:     zones,
		Odoo: OdooConfig{
			URL:      odooURL,
			Database: getEnv("ODOO_DB", "odoo"),
			Username: getEnv("ODOO_USER", "admin"),
			Password: os.Getenv("ODOO_PASSWORD"),
			Timeout:  odooTimeout,
		},
		Database: databaseFromEnv(),
		Store:    st,
		Timing:   timing,
	}, nil
}

// LoadStorage reads only the store and database settings, for offline tools
func LoadStorage() (*Config, error) {
	_ = godotenv.Load()
	st, err := storeFromEnv()
	if err != nil {
		return nil, err
	}
	return &Config{
		Env:      getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "warn"),
		Database: databaseFromEnv(),
		Store:    st,
	}, nil
}

func storeFromEnv() (StoreConfig, error) {
	backend := strings.ToLower(getEnv("STORE_BACKEND", StoreFile))
	switch backend {
	case StoreMemory, StoreFile, StoreBadger, StoreGorm:
	default:
		return StoreConfig{}, fmt.Errorf("STORE_BACKEND %q is not one of memory, file, badger, gorm", backend)
	}
	return StoreConfig{
		Backend: backend,
		Dir:     getEnv("STORE_DIR", "./data/sessions"),
		Path:    getEnv("BADGER_PATH", "./data/badger"),
	}, nil
}

func databaseFromEnv() DatabaseConfig {
	return DatabaseConfig{
		Host:     getEnv("PG_HOST", "localhost"),
		Port:     getEnv("PG_PORT", "5432"),
		Username: getEnv("PG_USERNAME", "postgres"),
		Password: os.Getenv("PG_PASSWORD"),
		Database: getEnv("PG_DATABASE", "eckpick"),
		Silent:   getEnv("DB_SILENT", "true") == "true",
	}
}

// loadTiming overrides the picking defaults from the environment
func loadTiming() (picking.Timing, error) {
	t := picking.DefaultTiming()
	var err error

	ints := []struct {
		key string
		dst *int
	}{
		{"PREFETCH_COUNT", &t.PrefetchCount},
		{"REFRESH_LOCATION_LIMIT", &t.RefreshLocationLimit},
	}
	for _, v := range ints {
		if *v.dst, err = getEnvInt(v.key, *v.dst); err != nil {
			return t, err
		}
	}

	durations := []struct {
		key  string
		unit time.Duration
		dst  *time.Duration
	}{
		{"PREFETCH_PACE_MS", time.Millisecond, &t.PrefetchPace},
		{"REFRESH_PACE_MS", time.Millisecond, &t.RefreshPace},
		{"REFRESH_INTERVAL_SEC", time.Second, &t.RefreshInterval},
		{"ADVANCE_DELAY_MS", time.Millisecond, &t.AdvanceDelay},
		{"CELEBRATION_MS", time.Millisecond, &t.CelebrationDuration},
		{"SCAN_ALERT_MS", time.Millisecond, &t.ScanAlertDuration},
		{"WRITE_TIMEOUT_SEC", time.Second, &t.WriteTimeout},
	}
	for _, v := range durations {
		if *v.dst, err = getEnvDuration(v.key, int(*v.dst / v.unit), v.unit); err != nil {
			return t, err
		}
	}
	return t, nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", key, value)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue int, unit time.Duration) (time.Duration, error) {
	n, err := getEnvInt(key, defaultValue)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * unit, nil
}
