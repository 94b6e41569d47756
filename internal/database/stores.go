package database

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/xelth-com/eckpick/internal/config"
	"github.com/xelth-com/eckpick/internal/picking/store"
)

// SessionStores is the opened backend for per-session cache mirrors
type SessionStores struct {
	Factory store.Factory
	close   func() error
}

// Close releases the backend (database connection, badger files)
func (s *SessionStores) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// OpenSessionStores opens the backend selected by STORE_BACKEND
func OpenSessionStores(cfg *config.Config, log zerolog.Logger) (*SessionStores, error) {
	switch cfg.Store.Backend {
	case config.StoreMemory:
		log.Warn().Msg("⚠️  Session caches are kept in memory only")
		return &SessionStores{Factory: store.MemoryFactory()}, nil

	case config.StoreFile:
		factory, err := store.FileFactory(cfg.Store.Dir)
		if err != nil {
			return nil, err
		}
		log.Info().Str("dir", cfg.Store.Dir).Msg("💾 Session caches stored as files")
		return &SessionStores{Factory: factory}, nil

	case config.StoreBadger:
		db, err := store.OpenBadger(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", cfg.Store.Path).Msg("💾 Session caches stored in badger")
		return &SessionStores{Factory: store.BadgerFactory(db), close: db.Close}, nil

	case config.StoreGorm:
		db, err := Connect(cfg.Database, log)
		if err != nil {
			return nil, err
		}
		factory, err := store.GormFactory(db.DB)
		if err != nil {
			db.Close()
			return nil, err
		}
		log.Info().Msg("🚀 Session caches stored in PostgreSQL")
		return &SessionStores{Factory: factory, close: db.Close}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}
