package history

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// turnRecord is the conversation_turns row; the auto-increment primary key
// gives the append order
type turnRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	TurnID    string    `gorm:"size:36;uniqueIndex"`
	UserID    string    `gorm:"size:255;not null;index:idx_turn_session,priority:1"`
	SessionID string    `gorm:"size:255;not null;index:idx_turn_session,priority:2"`
	Tool      string    `gorm:"size:32"`
	Question  string    `gorm:"type:text"`
	Query     string    `gorm:"type:text"`
	Answer    string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name
func (turnRecord) TableName() string {
	return "conversation_turns"
}

// SQLStore keeps history in a relational table through gorm
type SQLStore struct {
	db *gorm.DB
}

// NewSQLStore migrates the turn table and returns the store
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&turnRecord{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// OpenSQL opens the history database. driver is "sqlite" (pure Go, file or
// ":memory:" DSN) or "postgres".
func OpenSQL(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported sql driver: %s", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases shared across goroutines
	if driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// Append inserts one row
func (s *SQLStore) Append(ctx context.Context, turn Turn) error {
	turn = prepare(turn)
	rec := &turnRecord{
		TurnID:    turn.ID,
		UserID:    turn.UserID,
		SessionID: turn.SessionID,
		Tool:      turn.Tool,
		Question:  turn.Question,
		Query:     turn.Query,
		Answer:    turn.Answer,
		CreatedAt: turn.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(rec).Error
}

// Read returns the session's rows in insertion order
func (s *SQLStore) Read(ctx context.Context, userID, sessionID string) ([]Turn, error) {
	var recs []turnRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND session_id = ?", userID, sessionID).
		Order("id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}

	turns := make([]Turn, 0, len(recs))
	for _, r := range recs {
		turns = append(turns, Turn{
			ID:        r.TurnID,
			UserID:    r.UserID,
			SessionID: r.SessionID,
			Tool:      r.Tool,
			Question:  r.Question,
			Query:     r.Query,
			Answer:    r.Answer,
			CreatedAt: r.CreatedAt,
		})
	}
	return turns, nil
}
