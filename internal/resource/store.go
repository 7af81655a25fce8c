package resource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jmylchreest/esplayer/internal/models"
)

// ErrSessionNotFound is returned when no session has the connection id.
var ErrSessionNotFound = errors.New("resource: session not found")

// Store persists resource sessions.
type Store struct {
	db *gorm.DB
}

// NewStore returns a session store on db. The sessions table must exist.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new session.
func (s *Store) Create(ctx context.Context, sess *models.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(sess).Error; err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// Get returns the session with the connection id.
func (s *Store) Get(ctx context.Context, connectionID string) (*models.Session, error) {
	var sess models.Session
	err := s.db.WithContext(ctx).Where("connection_id = ?", connectionID).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return &sess, nil
}

// Update writes the given columns of the session with the connection id.
func (s *Store) Update(ctx context.Context, connectionID string, fields map[string]any) error {
	res := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("connection_id = ?", connectionID).
		Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("updating session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// List returns all sessions, newest first.
func (s *Store) List(ctx context.Context) ([]models.Session, error) {
	var out []models.Session
	if err := s.db.WithContext(ctx).Order("id DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return out, nil
}

// PruneBefore deletes released and revoked sessions that ended before cutoff.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("state IN ? AND released_at IS NOT NULL AND released_at < ?",
			[]models.SessionState{models.SessionReleased, models.SessionRevoked}, cutoff.UTC()).
		Delete(&models.Session{})
	if res.Error != nil {
		return 0, fmt.Errorf("pruning sessions: %w", res.Error)
	}
	return res.RowsAffected, nil
}
