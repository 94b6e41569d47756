package store

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionEntry is one persisted entry of one picking session
type SessionEntry struct {
	SessionID string         `gorm:"primaryKey;size:128" json:"session_id"`
	Name      string         `gorm:"primaryKey;size:32" json:"name"`
	Payload   datatypes.JSON `gorm:"type:jsonb" json:"payload"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (SessionEntry) TableName() string {
	return "picking_session_entries"
}

// GormStore persists a session in PostgreSQL
type GormStore struct {
	db        *gorm.DB
	sessionID string
}

func NewGormStore(db *gorm.DB, sessionID string) *GormStore {
	return &GormStore{db: db, sessionID: sessionID}
}

// GormFactory migrates the entry table and returns a Factory over db
func GormFactory(db *gorm.DB) (Factory, error) {
	if err := db.AutoMigrate(&SessionEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate session entries: %w", err)
	}
	return func(sessionID string) (Store, error) {
		return NewGormStore(db, sessionID), nil
	}, nil
}

func (s *GormStore) Load() (map[string][]byte, error) {
	var rows []SessionEntry
	if err := s.db.Where("session_id = ?", s.sessionID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load session entries: %w", err)
	}
	out := make(map[string][]byte, len(rows))
	for _, row := range rows {
		out[row.Name] = []byte(row.Payload)
	}
	return out, nil
}

func (s *GormStore) Save(entries map[string][]byte) error {
	now := time.Now()
	rows := make([]SessionEntry, 0, len(entries))
	for name, payload := range entries {
		rows = append(rows, SessionEntry{
			SessionID: s.sessionID,
			Name:      name,
			Payload:   datatypes.JSON(payload),
			UpdatedAt: now,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
		}).Create(&rows).Error
	})
	if err != nil {
		return fmt.Errorf("failed to save session entries: %w", err)
	}
	return nil
}

func (s *GormStore) Clear() error {
	if err := s.db.Where("session_id = ?", s.sessionID).Delete(&SessionEntry{}).Error; err != nil {
		return fmt.Errorf("failed to clear session entries: %w", err)
	}
	return nil
}

func (s *GormStore) Close() error { return nil }
