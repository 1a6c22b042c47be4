package memory

import (
	"context"
	"sync"
	"time"

	"github.com/relaygate/relaygate/pkg/safego"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Config tunes storage gating and upkeep.
type Config struct {
	SurpriseThreshold   float64       // minimum surprise to store (default 0.3)
	DedupLookback       int           // recent memories compared for duplicates (default 5)
	RecentWindow        int           // priors consulted for surprise (default 100)
	HalfLifeDays        float64       // decay half-life (default 30)
	MaxAgeDays          int           // prune memories older than this, 0 = never
	MaxCount            int           // hard cap on stored memories, 0 = unlimited
	MaintenanceInterval time.Duration // decay/prune cadence (default 15m)
}

func (c Config) withDefaults() Config {
	if c.SurpriseThreshold == 0 {
		c.SurpriseThreshold = 0.3
	}
	if c.DedupLookback == 0 {
		c.DedupLookback = 5
	}
	if c.RecentWindow == 0 {
		c.RecentWindow = 100
	}
	if c.HalfLifeDays == 0 {
		c.HalfLifeDays = 30
	}
	if c.MaintenanceInterval == 0 {
		c.MaintenanceInterval = 15 * time.Minute
	}
	return c
}

// Store is the memory subsystem. Writes serialize through a single mutex;
// reads run concurrently. No method ever propagates an error to a request
// path: failures log and degrade to no-ops or empty results.
type Store struct {
	db     *gorm.DB
	cfg    Config
	logger *zap.Logger

	writeMu sync.Mutex
}

// NewStore creates a Store over an Open'd database.
func NewStore(db *gorm.DB, cfg Config, logger *zap.Logger) *Store {
	return &Store{db: db, cfg: cfg.withDefaults(), logger: logger}
}

// Ping checks the underlying database connection. Used by the readiness
// probe.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Capture extracts memorable fragments from assistant text and stores the
// ones that pass the surprise gate and dedup. Returns the stored count.
func (s *Store) Capture(ctx context.Context, sessionID *string, turnID, assistantText string) int {
	candidates := Extract(assistantText)
	if len(candidates) == 0 {
		return 0
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	stored := 0
	for _, cand := range candidates {
		priors, err := s.recentContents(ctx, sessionID, cand.Type, s.cfg.RecentWindow)
		if err != nil {
			s.logger.Warn("Memory prior lookup failed", zap.Error(err))
			continue
		}

		surprise := surpriseScore(cand.Content, priors)
		if surprise < s.cfg.SurpriseThreshold {
			continue
		}

		if s.isDuplicate(ctx, sessionID, cand.Content) {
			continue
		}

		rec := Record{
			SessionID:     sessionID,
			Content:       cand.Content,
			Type:          cand.Type,
			Importance:    importanceOf(cand.Type, surprise),
			SurpriseScore: surprise,
			DecayFactor:   1.0,
			SourceTurnID:  turnID,
		}
		if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
			s.logger.Warn("Memory insert failed", zap.Error(err))
			continue
		}
		stored++
	}

	if stored > 0 {
		s.logger.Debug("Stored memories", zap.Int("count", stored))
	}
	return stored
}

// recentContents returns the contents of the most recent memories of one
// type, scoped to the session when one is set.
func (s *Store) recentContents(ctx context.Context, sessionID *string, memType string, limit int) ([]string, error) {
	q := s.db.WithContext(ctx).Model(&Record{}).
		Where("type = ?", memType).
		Order("created_at DESC").
		Limit(limit)
	if sessionID != nil {
		q = q.Where("session_id = ?", *sessionID)
	}
	var contents []string
	if err := q.Pluck("content", &contents).Error; err != nil {
		return nil, err
	}
	return contents, nil
}

// isDuplicate compares the candidate against the session's last few stored
// memories by normalized text.
func (s *Store) isDuplicate(ctx context.Context, sessionID *string, content string) bool {
	q := s.db.WithContext(ctx).Model(&Record{}).
		Order("created_at DESC").
		Limit(s.cfg.DedupLookback)
	if sessionID != nil {
		q = q.Where("session_id = ?", *sessionID)
	}
	var recent []string
	if err := q.Pluck("content", &recent).Error; err != nil {
		s.logger.Warn("Memory dedup lookup failed", zap.Error(err))
		return false
	}
	want := normalizeText(content)
	for _, prior := range recent {
		if normalizeText(prior) == want {
			return true
		}
	}
	return false
}

// Filters narrows a retrieval.
type Filters struct {
	Type          string
	Category      string
	SessionID     *string
	MinImportance float64
	Limit         int
}

// Search retrieves memories matching the query, ordered by FTS rank then
// importance. Each hit's decay factor is recomputed and its access
// counters bumped. A failed retrieval yields an empty list.
func (s *Store) Search(ctx context.Context, query string, f Filters) []Record {
	match := SanitizeQuery(query)
	if match == "" {
		return nil
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 10
	}

	sql := `SELECT m.* FROM memories m
		JOIN memories_fts fts ON m.id = fts.rowid
		WHERE memories_fts MATCH ?`
	args := []interface{}{match}
	if f.Type != "" {
		sql += " AND m.type = ?"
		args = append(args, f.Type)
	}
	if f.Category != "" {
		sql += " AND m.category = ?"
		args = append(args, f.Category)
	}
	if f.SessionID != nil {
		sql += " AND m.session_id = ?"
		args = append(args, *f.SessionID)
	}
	if f.MinImportance > 0 {
		sql += " AND m.importance >= ?"
		args = append(args, f.MinImportance)
	}
	sql += " ORDER BY fts.rank, m.importance DESC LIMIT ?"
	args = append(args, limit)

	var records []Record
	if err := s.db.WithContext(ctx).Raw(sql, args...).Scan(&records).Error; err != nil {
		s.logger.Warn("Memory search failed", zap.Error(err))
		return nil
	}

	now := time.Now().UTC()
	for i := range records {
		age := now.Sub(records[i].CreatedAt).Hours() / 24
		records[i].DecayFactor = decayFactor(age, s.cfg.HalfLifeDays)
		records[i].AccessCount++
	}
	s.touch(ctx, records, now)
	return records
}

// touch persists access bookkeeping for retrieved records.
func (s *Store) touch(ctx context.Context, records []Record, now time.Time) {
	if len(records) == 0 {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	for _, rec := range records {
		err := s.db.WithContext(ctx).Model(&Record{}).
			Where("id = ?", rec.ID).
			Updates(map[string]interface{}{
				"access_count":     rec.AccessCount,
				"decay_factor":     rec.DecayFactor,
				"last_accessed_at": now,
			}).Error
		if err != nil {
			s.logger.Warn("Memory access update failed", zap.Error(err))
		}
	}
}

// StartMaintenance launches the background decay/prune loop. It stops when
// ctx is cancelled.
func (s *Store) StartMaintenance(ctx context.Context) {
	safego.Go(s.logger, "memory-maintenance", func() {
		ticker := time.NewTicker(s.cfg.MaintenanceInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunMaintenance(ctx)
			}
		}
	})
}

// RunMaintenance recomputes decay factors in bulk and prunes aged or
// excess memories.
func (s *Store) RunMaintenance(ctx context.Context) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := time.Now().UTC()

	var records []Record
	if err := s.db.WithContext(ctx).Select("id", "created_at").Find(&records).Error; err != nil {
		s.logger.Warn("Memory maintenance scan failed", zap.Error(err))
		return
	}
	for _, rec := range records {
		age := now.Sub(rec.CreatedAt).Hours() / 24
		err := s.db.WithContext(ctx).Model(&Record{}).
			Where("id = ?", rec.ID).
			Update("decay_factor", decayFactor(age, s.cfg.HalfLifeDays)).Error
		if err != nil {
			s.logger.Warn("Memory decay update failed", zap.Error(err))
		}
	}

	if s.cfg.MaxAgeDays > 0 {
		cutoff := now.AddDate(0, 0, -s.cfg.MaxAgeDays)
		if err := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&Record{}).Error; err != nil {
			s.logger.Warn("Memory age prune failed", zap.Error(err))
		}
	}

	if s.cfg.MaxCount > 0 {
		var total int64
		if err := s.db.WithContext(ctx).Model(&Record{}).Count(&total).Error; err != nil {
			s.logger.Warn("Memory count failed", zap.Error(err))
			return
		}
		if excess := total - int64(s.cfg.MaxCount); excess > 0 {
			// Drop the least valuable first: lowest decayed importance.
			err := s.db.WithContext(ctx).Exec(`DELETE FROM memories WHERE id IN (
				SELECT id FROM memories
				ORDER BY importance * decay_factor ASC, created_at ASC
				LIMIT ?)`, excess).Error
			if err != nil {
				s.logger.Warn("Memory count prune failed", zap.Error(err))
			}
		}
	}
}
