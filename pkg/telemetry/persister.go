package telemetry

import (
	"context"
	"time"

	"github.com/cuemby/aegis/pkg/log"
	"github.com/cuemby/aegis/pkg/store"
)

// Persister flushes the sampler's latest reading to the store on its own,
// slower cadence. Only the most recent buffered sample is written on each
// flush, not a queue of everything collected since the last flush — a
// deliberate match to the original's "metrics_buffer[-1]; metrics_buffer.clear()"
// behavior, since only the newest value is ever meaningful for a dashboard.
type Persister struct {
	st      *store.Store
	sampler *Sampler
}

func NewPersister(st *store.Store, sampler *Sampler) *Persister {
	return &Persister{st: st, sampler: sampler}
}

// SlowQueryThreshold is the latency above which a persist is counted as
// slow but still allowed to complete; it must never block the live loop.
const SlowQueryThreshold = 500 * time.Millisecond

// Run persists a sample every period and prunes retention every cleanupEvery
// periods, until ctx is cancelled.
func (p *Persister) Run(ctx context.Context, period time.Duration, cleanupEvery int, retention time.Duration) {
	logger := log.WithComponent("telemetry")
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	cycles := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cycles++
			start := time.Now()
			if err := p.flush(ctx); err != nil {
				logger.Error().Err(err).Msg("telemetry persist failed")
			}
			if elapsed := time.Since(start); elapsed > SlowQueryThreshold {
				logger.Warn().Dur("elapsed", elapsed).Msg("slow telemetry persist")
			}

			if cycles%cleanupEvery == 0 {
				if err := p.st.Pool.QueryRow(ctx, `SELECT cleanup_old_metrics($1)`, store.PGInterval(retention)).Scan(new(int)); err != nil {
					logger.Warn().Err(err).Msg("metrics retention cleanup failed")
				}
			}
		}
	}
}

func (p *Persister) flush(ctx context.Context) error {
	s := p.sampler.Latest()
	if s.Timestamp.IsZero() {
		return nil
	}

	tx, err := p.st.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO metrics_cpu ("timestamp", percent) VALUES ($1,$2) ON CONFLICT ("timestamp") DO NOTHING
	`, s.Timestamp, s.CPUPercent); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO metrics_ram ("timestamp", percent) VALUES ($1,$2) ON CONFLICT ("timestamp") DO NOTHING
	`, s.Timestamp, s.RAMPercent); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO metrics_disk ("timestamp", percent) VALUES ($1,$2) ON CONFLICT ("timestamp") DO NOTHING
	`, s.Timestamp, s.DiskPercent); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO metrics_temperature ("timestamp", celsius) VALUES ($1,$2) ON CONFLICT ("timestamp") DO NOTHING
	`, s.Timestamp, s.TempCelsius); err != nil {
		return err
	}
	for _, g := range s.GPU {
		if _, err := tx.Exec(ctx, `
			INSERT INTO metrics_gpu ("timestamp", gpu_index, name, temperature, utilization, memory_used_mb, memory_total_mb, power_draw_watts)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8) ON CONFLICT ("timestamp") DO NOTHING
		`, s.Timestamp, g.Index, g.Name, g.Temperature, g.Utilization, g.MemoryUsedMB, g.MemoryTotalMB, g.PowerDrawWatts); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
