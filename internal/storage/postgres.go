package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/cartridge/summarizer/internal/types"
)

const schema = `
	CREATE TABLE IF NOT EXISTS epoch_history (
		run_id        TEXT             NOT NULL,
		epoch         INTEGER          NOT NULL,
		max_epoch     INTEGER          NOT NULL,
		mean_reward   DOUBLE PRECISION NOT NULL,
		baseline      DOUBLE PRECISION NOT NULL,
		cost          DOUBLE PRECISION NOT NULL,
		learning_rate DOUBLE PRECISION NOT NULL,
		best_reward   DOUBLE PRECISION NOT NULL,
		best_picks    JSONB            NOT NULL,
		recorded_at   TIMESTAMPTZ      NOT NULL,
		PRIMARY KEY (run_id, epoch)
	)`

// PostgresStore implements HistoryStore backed by PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects to dsn and ensures the history table exists
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	store := NewPostgresStore(db)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStore wraps an existing connection pool
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the epoch_history table if needed
func (p *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create epoch_history: %w", err)
	}
	return nil
}

func (p *PostgresStore) AppendEpoch(ctx context.Context, record types.EpochRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	picks, err := json.Marshal(record.BestPicks)
	if err != nil {
		return fmt.Errorf("failed to encode best picks: %w", err)
	}

	query := `
		INSERT INTO epoch_history (run_id, epoch, max_epoch, mean_reward, baseline,
								   cost, learning_rate, best_reward, best_picks, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = p.db.ExecContext(ctx, query,
		record.RunID, record.Epoch, record.MaxEpoch, record.MeanReward, record.Baseline,
		record.Cost, record.LearningRate, record.BestReward, picks, record.RecordedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to append epoch: %w", err)
	}
	return nil
}

func (p *PostgresStore) ListEpochs(ctx context.Context, runID string) ([]types.EpochRecord, error) {
	query := `
		SELECT run_id, epoch, max_epoch, mean_reward, baseline, cost,
			   learning_rate, best_reward, best_picks, recorded_at
		FROM epoch_history WHERE run_id = $1 ORDER BY epoch`

	rows, err := p.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list epochs: %w", err)
	}
	defer rows.Close()

	var out []types.EpochRecord
	for rows.Next() {
		var record types.EpochRecord
		var picks []byte
		if err := rows.Scan(&record.RunID, &record.Epoch, &record.MaxEpoch,
			&record.MeanReward, &record.Baseline, &record.Cost, &record.LearningRate,
			&record.BestReward, &picks, &record.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan epoch: %w", err)
		}
		if err := json.Unmarshal(picks, &record.BestPicks); err != nil {
			return nil, fmt.Errorf("failed to decode best picks: %w", err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list epochs: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// Close releases the connection pool
func (p *PostgresStore) Close() error {
	return p.db.Close()
}

// unique_violation, see https://www.postgresql.org/docs/current/errcodes-appendix.html
const uniqueViolation pq.ErrorCode = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
