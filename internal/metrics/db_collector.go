package metrics

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DBStatsCollector collects database connection statistics
type DBStatsCollector struct {
	pgxPool *pgxpool.Pool
	sqlxDB  *sql.DB
	logger  *slog.Logger
	stopCh  chan struct{}
}

// NewDBStatsCollector creates a new database stats collector
func NewDBStatsCollector(pgxPool *pgxpool.Pool, sqlxDB *sql.DB, logger *slog.Logger) *DBStatsCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &DBStatsCollector{
		pgxPool: pgxPool,
		sqlxDB:  sqlxDB,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting database statistics at regular intervals
func (c *DBStatsCollector) Start(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		// Collect initial stats
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				return
			}
		}
	}()

	c.logger.Info("database stats collector started", slog.Duration("interval", interval))
}

// Stop stops the database stats collector
func (c *DBStatsCollector) Stop() {
	close(c.stopCh)
	c.logger.Info("database stats collector stopped")
}

// Pool label values for the connection gauges.
const (
	PoolPgx         = "pgxpool"
	PoolDatabaseSQL = "database_sql"
)

type poolStats struct {
	open, inUse, idle, maxOpen int
}

// collect gathers database statistics and updates Prometheus metrics.
// The sqlx handle wraps the same pgx pool, so each view is reported under
// its own label instead of being added together.
func (c *DBStatsCollector) collect() {
	if c.pgxPool != nil {
		stat := c.pgxPool.Stat()
		setPoolStats(PoolPgx, poolStats{
			open:    int(stat.TotalConns()),
			inUse:   int(stat.AcquiredConns()),
			idle:    int(stat.IdleConns()),
			maxOpen: int(stat.MaxConns()),
		})
	}

	if c.sqlxDB != nil {
		setPoolStats(PoolDatabaseSQL, sqlPoolStats(c.sqlxDB.Stats()))
	}
}

func sqlPoolStats(stats sql.DBStats) poolStats {
	return poolStats{
		open:    stats.OpenConnections,
		inUse:   stats.InUse,
		idle:    stats.Idle,
		maxOpen: stats.MaxOpenConnections,
	}
}

func setPoolStats(pool string, s poolStats) {
	DBConnectionsOpen.WithLabelValues(pool).Set(float64(s.open))
	DBConnectionsInUse.WithLabelValues(pool).Set(float64(s.inUse))
	DBConnectionsIdle.WithLabelValues(pool).Set(float64(s.idle))
	DBConnectionsMaxOpen.WithLabelValues(pool).Set(float64(s.maxOpen))
}

// RecordQueryDuration records the duration of a database query
func RecordQueryDuration(operation string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// TimeQuery is a helper function to time database queries
// Usage: defer metrics.TimeQuery("select_user")()
func TimeQuery(operation string) func() {
	start := time.Now()
	return func() {
		RecordQueryDuration(operation, time.Since(start))
	}
}

// PingDatabase checks database connectivity and records the result
func PingDatabase(ctx context.Context, pool *pgxpool.Pool) error {
	start := time.Now()
	err := pool.Ping(ctx)
	RecordQueryDuration("ping", time.Since(start))
	return err
}
