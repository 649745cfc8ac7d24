package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/amoylab/gameroom/internal/common/config"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// activeSlot is the value held by the unique active_slot column of the one
// live row. Closed rows hold NULL, which the unique index ignores.
const activeSlot = "live"

// sessionModel is the database row of a Session
type sessionModel struct {
	ID             string     `gorm:"column:id;primaryKey;size:64"`
	SeatAIdentity  string     `gorm:"column:seat_a_identity;size:255"`
	SeatAChannel   string     `gorm:"column:seat_a_channel;size:64"`
	SeatAName      string     `gorm:"column:seat_a_name;size:255"`
	SeatBIdentity  string     `gorm:"column:seat_b_identity;size:255"`
	SeatBChannel   string     `gorm:"column:seat_b_channel;size:64"`
	SeatBName      string     `gorm:"column:seat_b_name;size:255"`
	Observers      string     `gorm:"column:observers;type:text"`
	State          string     `gorm:"column:state;type:text"`
	History        string     `gorm:"column:history;type:text"`
	Status         string     `gorm:"column:status;size:16;index"`
	Outcome        string     `gorm:"column:outcome;size:32"`
	ActiveSlot     *string    `gorm:"column:active_slot;size:8;uniqueIndex"`
	CreatedAt      time.Time  `gorm:"column:created_at;index"`
	LastActivityAt time.Time  `gorm:"column:last_activity_at;index"`
	ClosedAt       *time.Time `gorm:"column:closed_at"`
	Version        int64      `gorm:"column:version"`
}

func (sessionModel) TableName() string {
	return "game_sessions"
}

func fromSession(s *Session) (*sessionModel, error) {
	observers, err := json.Marshal(s.Observers)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal observers: %w", err)
	}
	history, err := json.Marshal(s.History)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal history: %w", err)
	}
	m := &sessionModel{
		ID:             s.ID,
		SeatAIdentity:  s.SeatA.Identity,
		SeatAChannel:   s.SeatA.Channel,
		SeatAName:      s.SeatA.DisplayName,
		SeatBIdentity:  s.SeatB.Identity,
		SeatBChannel:   s.SeatB.Channel,
		SeatBName:      s.SeatB.DisplayName,
		Observers:      string(observers),
		State:          s.State,
		History:        string(history),
		Status:         string(s.Status),
		Outcome:        string(s.Outcome),
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.LastActivityAt,
		ClosedAt:       s.ClosedAt,
		Version:        s.Version,
	}
	if s.IsLive() {
		slot := activeSlot
		m.ActiveSlot = &slot
	}
	return m, nil
}

func (m *sessionModel) toSession() (*Session, error) {
	s := &Session{
		ID:             m.ID,
		SeatA:          Seat{Identity: m.SeatAIdentity, Channel: m.SeatAChannel, DisplayName: m.SeatAName},
		SeatB:          Seat{Identity: m.SeatBIdentity, Channel: m.SeatBChannel, DisplayName: m.SeatBName},
		State:          m.State,
		Status:         Status(m.Status),
		Outcome:        Outcome(m.Outcome),
		CreatedAt:      m.CreatedAt,
		LastActivityAt: m.LastActivityAt,
		ClosedAt:       m.ClosedAt,
		Version:        m.Version,
	}
	if err := json.Unmarshal([]byte(m.Observers), &s.Observers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal observers of %s: %w", m.ID, err)
	}
	if err := json.Unmarshal([]byte(m.History), &s.History); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history of %s: %w", m.ID, err)
	}
	if s.Observers == nil {
		s.Observers = []Observer{}
	}
	if s.History == nil {
		s.History = []Move{}
	}
	return s, nil
}

// DBStore implements Store using a relational database through gorm
type DBStore struct {
	logger *zap.Logger
	db     *gorm.DB
}

var _ Store = (*DBStore)(nil)

// NewDBStore creates a new database-based session store
func NewDBStore(logger *zap.Logger, cfg *config.DatabaseConfig) (*DBStore, error) {
	logger = logger.Named("session.store.db")

	dsn, err := cfg.GetDSN()
	if err != nil {
		return nil, err
	}

	var dialector gorm.Dialector
	switch cfg.Type {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.Type == "sqlite" {
		// sqlite serialises writers; a single connection avoids SQLITE_BUSY
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&sessionModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate sessions table: %w", err)
	}

	logger.Info("session database ready", zap.String("type", cfg.Type))
	return &DBStore{
		logger: logger,
		db:     db,
	}, nil
}

// CreateActive implements Store.CreateActive
func (s *DBStore) CreateActive(ctx context.Context, sess *Session) error {
	model, err := fromSession(sess)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var live int64
		if err := tx.Model(&sessionModel{}).Where("active_slot = ?", activeSlot).Count(&live).Error; err != nil {
			return err
		}
		if live > 0 {
			return ErrActiveExists
		}
		return tx.Create(model).Error
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrActiveExists):
		return err
	case errors.Is(err, gorm.ErrDuplicatedKey):
		// lost the race for active_slot, or the id already exists
		if _, getErr := s.Get(ctx, sess.ID); getErr == nil {
			return ErrConflict
		}
		return ErrActiveExists
	default:
		return unavailable("create session", err)
	}
}

// Get implements Store.Get
func (s *DBStore) Get(ctx context.Context, id string) (*Session, error) {
	var model sessionModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get session", err)
	}
	return model.toSession()
}

// FindActive implements Store.FindActive
func (s *DBStore) FindActive(ctx context.Context) (*Session, error) {
	var model sessionModel
	err := s.db.WithContext(ctx).Where("active_slot = ?", activeSlot).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("find active session", err)
	}
	return model.toSession()
}

// List implements Store.List
func (s *DBStore) List(ctx context.Context, statuses ...Status) ([]*Session, error) {
	query := s.db.WithContext(ctx).Order("created_at ASC")
	if len(statuses) > 0 {
		values := make([]string, len(statuses))
		for i, st := range statuses {
			values[i] = string(st)
		}
		query = query.Where("status IN ?", values)
	}

	var models []sessionModel
	if err := query.Find(&models).Error; err != nil {
		return nil, unavailable("list sessions", err)
	}

	out := make([]*Session, 0, len(models))
	for i := range models {
		sess, err := models[i].toSession()
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

// Update implements Store.Update
func (s *DBStore) Update(ctx context.Context, sess *Session) error {
	model, err := fromSession(sess)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stored sessionModel
		if err := tx.Select("id", "version", "active_slot").Where("id = ?", sess.ID).First(&stored).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if stored.Version != sess.Version {
			return ErrConflict
		}
		if model.ActiveSlot != nil && stored.ActiveSlot == nil {
			var live int64
			if err := tx.Model(&sessionModel{}).
				Where("active_slot = ? AND id <> ?", activeSlot, sess.ID).
				Count(&live).Error; err != nil {
				return err
			}
			if live > 0 {
				return ErrActiveExists
			}
		}

		result := tx.Model(&sessionModel{}).
			Where("id = ? AND version = ?", sess.ID, sess.Version).
			Updates(map[string]any{
				"seat_a_identity":  model.SeatAIdentity,
				"seat_a_channel":   model.SeatAChannel,
				"seat_a_name":      model.SeatAName,
				"seat_b_identity":  model.SeatBIdentity,
				"seat_b_channel":   model.SeatBChannel,
				"seat_b_name":      model.SeatBName,
				"observers":        model.Observers,
				"state":            model.State,
				"history":          model.History,
				"status":           model.Status,
				"outcome":          model.Outcome,
				"active_slot":      model.ActiveSlot,
				"last_activity_at": model.LastActivityAt,
				"closed_at":        model.ClosedAt,
				"version":          sess.Version + 1,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrConflict
		}
		return nil
	})

	switch {
	case err == nil:
		sess.Version++
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict), errors.Is(err, ErrActiveExists):
		return err
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrActiveExists
	default:
		return unavailable("update session", err)
	}
}

// Delete implements Store.Delete
func (s *DBStore) Delete(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&sessionModel{})
	if result.Error != nil {
		return unavailable("delete session", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the underlying connection pool
func (s *DBStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
