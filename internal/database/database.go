package database

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/xelth-com/eckpick/internal/config"
)

const (
	embeddedDataPath = "./data/postgres"
	embeddedPort     = 5434
	embeddedPassword = "postgres"
)

// DB is the gorm handle of the session store, plus the embedded server when
// this process started one
type DB struct {
	*gorm.DB
	embedded *embeddedpostgres.EmbeddedPostgres
	log      zerolog.Logger
}

// Embedded reports whether cfg selects the bundled PostgreSQL:
// a local host and no password
func Embedded(cfg config.DatabaseConfig) bool {
	return cfg.Host == "localhost" && cfg.Password == ""
}

// DSN renders the libpq connection string for cfg
func DSN(cfg config.DatabaseConfig) string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database)
}

// Connect opens PostgreSQL, starting the embedded server first when
// Embedded(cfg) holds
func Connect(cfg config.DatabaseConfig, log zerolog.Logger) (*DB, error) {
	log = log.With().Str("component", "database").Logger()

	var embedded *embeddedpostgres.EmbeddedPostgres
	if Embedded(cfg) {
		var err error
		if embedded, cfg, err = startEmbedded(cfg, log); err != nil {
			return nil, err
		}
	} else {
		log.Info().Str("host", cfg.Host).Str("port", cfg.Port).Msg("🌐 Mode: [External PostgreSQL]")
	}

	level := logger.Warn
	if cfg.Silent {
		level = logger.Silent
	}
	db, err := gorm.Open(postgres.Open(DSN(cfg)), &gorm.Config{
		Logger:  logger.Default.LogMode(level),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		if embedded != nil {
			_ = embedded.Stop()
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// session entries are small and written in short bursts
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxIdleConns(2)
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	log.Info().Str("database", cfg.Database).Msg("✅ Database connection established")
	return &DB{DB: db, embedded: embedded, log: log}, nil
}

// startEmbedded boots the bundled server and returns cfg rewritten to reach it
func startEmbedded(cfg config.DatabaseConfig, log zerolog.Logger) (*embeddedpostgres.EmbeddedPostgres, config.DatabaseConfig, error) {
	log.Info().Str("path", embeddedDataPath).Msg("📦 Mode: [Embedded PostgreSQL]")

	reclaimStalePostmaster(filepath.Join(embeddedDataPath, "postmaster.pid"), log)
	if !waitPortFree(embeddedPort, 3*time.Second) {
		return nil, cfg, fmt.Errorf("port %d is still in use by another process", embeddedPort)
	}

	pg := embeddedpostgres.NewDatabase(embeddedpostgres.DefaultConfig().
		DataPath(embeddedDataPath).
		Port(uint32(embeddedPort)).
		Database(cfg.Database).
		Username(cfg.Username).
		Password(embeddedPassword))
	if err := pg.Start(); err != nil {
		return nil, cfg, fmt.Errorf("failed to start embedded database: %w", err)
	}

	cfg.Port = strconv.Itoa(embeddedPort)
	cfg.Password = embeddedPassword
	log.Info().Int("port", embeddedPort).Msg("✅ Embedded PostgreSQL started")
	return pg, cfg, nil
}

// reclaimStalePostmaster stops a server left running by a crashed process and
// removes its pid file, so the embedded start does not fail on a locked data dir
func reclaimStalePostmaster(pidFile string, log zerolog.Logger) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return
	}
	first, _, _ := strings.Cut(string(data), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil {
		log.Warn().Err(err).Msg("⚠️  Unreadable postmaster.pid")
		return
	}
	defer os.Remove(pidFile)

	proc, err := os.FindProcess(pid)
	if err != nil || proc.Signal(syscall.Signal(0)) != nil {
		log.Info().Int("pid", pid).Msg("🧹 Removing stale postmaster.pid")
		return
	}

	log.Warn().Int("pid", pid).Msg("⚠️  Stopping orphaned PostgreSQL")
	_ = proc.Signal(syscall.SIGTERM)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		time.Sleep(500 * time.Millisecond)
		if proc.Signal(syscall.Signal(0)) != nil {
			return
		}
	}
	log.Warn().Int("pid", pid).Msg("⚠️  Orphaned PostgreSQL ignored SIGTERM, killing")
	_ = proc.Kill()
	time.Sleep(500 * time.Millisecond)
}

// waitPortFree polls until nothing accepts on the local port or timeout passes
func waitPortFree(port int, timeout time.Duration) bool {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, 250*time.Millisecond)
		if err != nil {
			return true
		}
		conn.Close()
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(500 * time.Millisecond)
	}
}

// Close closes the pool, then stops the embedded server if this process owns one
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err == nil {
		err = sqlDB.Close()
	}
	if db.embedded != nil {
		db.log.Info().Msg("🛑 Stopping embedded PostgreSQL")
		if stopErr := db.embedded.Stop(); stopErr != nil && err == nil {
			err = stopErr
		}
	}
	return err
}
