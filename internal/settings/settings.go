// Package settings is a small persistent key/value store for operator
// configuration that outlives restarts: the bot token, the web auth
// secret, recognizer credentials. Values set here override the YAML
// config, letting secrets stay out of the config file.
package settings

import (
	"errors"
	"fmt"

	"github.com/zulandar/calliope/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Well-known setting keys.
const (
	KeyBotToken      = "discord_token"
	KeyAuthSecret    = "web_auth_secret"
	KeyRecognizerKey = "recognizer_api_key"
)

// ErrNotFound reports a missing key.
var ErrNotFound = errors.New("settings: not found")

// Store reads and writes settings rows.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store.
func NewStore(gdb *gorm.DB) (*Store, error) {
	if gdb == nil {
		return nil, fmt.Errorf("settings: db is required")
	}
	return &Store{db: gdb}, nil
}

// Get returns the value for key, or ErrNotFound.
func (s *Store) Get(key string) (string, error) {
	var row models.Setting
	err := s.db.Where("`key` = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("settings: get %s: %w", key, err)
	}
	return row.Value, nil
}

// GetDefault returns the value for key, or def if absent.
func (s *Store) GetDefault(key, def string) string {
	v, err := s.Get(key)
	if err != nil {
		return def
	}
	return v
}

// Set writes key to value, inserting or updating as needed.
func (s *Store) Set(key, value string) error {
	row := models.Setting{Key: key, Value: value}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("settings: set %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is a no-op.
func (s *Store) Delete(key string) error {
	if err := s.db.Where("`key` = ?", key).Delete(&models.Setting{}).Error; err != nil {
		return fmt.Errorf("settings: delete %s: %w", key, err)
	}
	return nil
}

// All returns every setting, ordered by key.
func (s *Store) All() ([]models.Setting, error) {
	var rows []models.Setting
	if err := s.db.Order("`key`").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("settings: list: %w", err)
	}
	return rows, nil
}
