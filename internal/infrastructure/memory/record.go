// Package memory implements long-term conversational memory: pattern-based
// extraction from assistant output, surprise-gated storage in SQLite, and
// full-text retrieval with importance decay. The subsystem never fails a
// request; every error here is logged and swallowed.
package memory

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Record is one stored memory.
type Record struct {
	ID             int64   `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID      *string `gorm:"index" json:"session_id,omitempty"`
	Content        string  `gorm:"not null" json:"content"`
	Type           string  `gorm:"index" json:"type"`
	Category       string  `gorm:"index" json:"category,omitempty"`
	Importance     float64 `json:"importance"`
	SurpriseScore  float64 `json:"surprise_score"`
	AccessCount    int     `json:"access_count"`
	DecayFactor    float64 `json:"decay_factor"`
	SourceTurnID   string  `json:"source_turn_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	Metadata       string     `json:"metadata,omitempty"` // JSON blob
}

// TableName keeps the historical table name.
func (Record) TableName() string { return "memories" }

// Memory types produced by extraction.
const (
	TypePreference   = "preference"
	TypeDecision     = "decision"
	TypeFact         = "fact"
	TypeEntity       = "entity"
	TypeRelationship = "relationship"
)

// baseImportance is the per-type starting importance before the surprise
// contribution.
var baseImportance = map[string]float64{
	TypePreference:   0.7,
	TypeDecision:     0.8,
	TypeFact:         0.6,
	TypeEntity:       0.4,
	TypeRelationship: 0.5,
}

// Open opens (or creates) the memory database, migrates the memories
// table, and installs the FTS5 mirror with its sync triggers. The mirror
// is contentless-external: it indexes the content column keyed by rowid.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open memory database: %w", err)
	}

	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("failed to migrate memory schema: %w", err)
	}

	stmts := []string{
		`CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
			content,
			content='memories',
			content_rowid='id'
		)`,
		`CREATE TRIGGER IF NOT EXISTS memories_ai AFTER INSERT ON memories BEGIN
			INSERT INTO memories_fts(rowid, content) VALUES (new.id, new.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS memories_ad AFTER DELETE ON memories BEGIN
			INSERT INTO memories_fts(memories_fts, rowid, content) VALUES ('delete', old.id, old.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS memories_au AFTER UPDATE OF content ON memories BEGIN
			INSERT INTO memories_fts(memories_fts, rowid, content) VALUES ('delete', old.id, old.content);
			INSERT INTO memories_fts(rowid, content) VALUES (new.id, new.content);
		END`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return nil, fmt.Errorf("failed to install FTS mirror: %w", err)
		}
	}
	return db, nil
}
