// Package store is the system of record: a PostgreSQL-backed persistence
// layer for documents, chunks, similarity links, the self-healing ledger,
// and reboot events. It replaces the teacher's embedded bbolt KV store with
// a relational schema, since the appliance's state is inherently relational
// (documents own chunks, chunks are weakly referenced by the vector store
// and BM25 index) rather than a flat key/value space.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cuemby/aegis/pkg/log"
)

// Store wraps a connection pool and exposes the query methods used by every
// component that reads or writes persistent state.
type Store struct {
	Pool *pgxpool.Pool
}

// Open creates the connection pool, retrying with backoff since the
// database may still be starting when the appliance does (the original
// collector.py retries connection 10 times at 5s intervals on init).
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	var pool *pgxpool.Pool
	var err error

	const maxAttempts = 10
	const retryDelay = 5 * time.Second

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		pool, err = pgxpool.New(ctx, databaseURL)
		if err == nil {
			if pingErr := pool.Ping(ctx); pingErr == nil {
				break
			} else {
				err = pingErr
				pool.Close()
			}
		}

		if attempt == maxAttempts {
			return nil, fmt.Errorf("connect to database after %d attempts: %w", maxAttempts, err)
		}
		log.Logger.Warn().Err(err).Int("attempt", attempt).Msg("database not ready, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}

	return &Store{Pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.Pool.Close()
}

// PGInterval renders a Go duration as text Postgres's interval parser
// accepts unambiguously ("N seconds"), since time.Duration.String()'s
// "720h0m0s" form is not valid interval input.
func PGInterval(d time.Duration) string {
	return fmt.Sprintf("%d seconds", int64(d.Seconds()))
}

// PoolStats reports in-use/idle connection counts for the telemetry and
// health surfaces.
type PoolStats struct {
	TotalConns    int32
	IdleConns     int32
	AcquiredConns int32
}

func (s *Store) PoolStats() PoolStats {
	st := s.Pool.Stat()
	return PoolStats{
		TotalConns:    st.TotalConns(),
		IdleConns:     st.IdleConns(),
		AcquiredConns: st.AcquiredConns(),
	}
}
