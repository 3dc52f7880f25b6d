package registry

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/adaptive-router/internal/types"
)

const (
	// DefaultMinSamples is the number of outcomes a model needs before it is recommended
	DefaultMinSamples = 5
	// DefaultRecommendationLimit caps the number of learned recommendations
	DefaultRecommendationLimit = 5

	successRankWeight = 0.6
	qualityRankWeight = 0.4
	costRankWeight    = 0.2
	costRankReference = 0.05
)

// SQLiteStore is a KnowledgeStore backed by a sqlite outcomes table
type SQLiteStore struct {
	db         *sql.DB
	minSamples int
	logger     *logrus.Logger
}

// NewSQLiteStore opens (or creates) the knowledge store at path. Use ":memory:"
// for an ephemeral store.
func NewSQLiteStore(path string, minSamples int, logger *logrus.Logger) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create knowledge store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open knowledge store: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	store, err := newSQLiteStoreWithDB(db, minSamples, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func newSQLiteStoreWithDB(db *sql.DB, minSamples int, logger *logrus.Logger) (*SQLiteStore, error) {
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}
	store := &SQLiteStore{db: db, minSamples: minSamples, logger: logger}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("migrate knowledge store: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS outcomes (
		id TEXT PRIMARY KEY,
		timestamp DATETIME NOT NULL,
		domain TEXT NOT NULL,
		model TEXT NOT NULL,
		success INTEGER NOT NULL,
		quality REAL NOT NULL DEFAULT 0,
		latency_ms INTEGER NOT NULL DEFAULT 0,
		cost_usd REAL NOT NULL DEFAULT 0,
		source TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_outcomes_domain_model ON outcomes(domain, model);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordOutcome inserts one outcome row
func (s *SQLiteStore) RecordOutcome(ctx context.Context, outcome types.Outcome) error {
	if outcome.Timestamp.IsZero() {
		outcome.Timestamp = time.Now()
	}
	domain := outcome.Domain
	if domain == "" {
		domain = string(types.DomainGeneral)
	}
	success := 0
	if outcome.Success {
		success = 1
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outcomes (id, timestamp, domain, model, success, quality, latency_ms, cost_usd, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), outcome.Timestamp.UTC(), domain, outcome.Provider, success,
		outcome.Quality, outcome.Latency.Milliseconds(), outcome.CostUSD, outcome.Source,
	)
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// GetRecommendations ranks models with enough outcomes in the domain. An empty
// result means the store has nothing learned yet.
func (s *SQLiteStore) GetRecommendations(ctx context.Context, domain types.Domain, rc RecommendationContext) ([]Recommendation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT model, COUNT(*), AVG(success), AVG(quality), AVG(cost_usd)
		FROM outcomes WHERE domain = ?
		GROUP BY model HAVING COUNT(*) >= ?`,
		string(domain), s.minSamples,
	)
	if err != nil {
		return nil, fmt.Errorf("query recommendations: %w", err)
	}
	defer rows.Close()

	var recs []Recommendation
	for rows.Next() {
		var rec Recommendation
		if err := rows.Scan(&rec.Provider, &rec.Samples, &rec.SuccessRate, &rec.AvgQuality, &rec.AvgCostUSD); err != nil {
			return nil, fmt.Errorf("scan recommendation: %w", err)
		}
		rec.Score = rankScore(rec, rc.Budget)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recommendations: %w", err)
	}

	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Score != recs[j].Score {
			return recs[i].Score > recs[j].Score
		}
		return recs[i].Provider < recs[j].Provider
	})

	limit := rc.Limit
	if limit <= 0 {
		limit = DefaultRecommendationLimit
	}
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

func rankScore(rec Recommendation, budget types.BudgetTier) float64 {
	score := rec.SuccessRate*successRankWeight + rec.AvgQuality*qualityRankWeight
	if budget == types.BudgetCostSensitive {
		score -= math.Min(1, rec.AvgCostUSD/costRankReference) * costRankWeight
	}
	return score
}

var _ KnowledgeStore = (*SQLiteStore)(nil)
