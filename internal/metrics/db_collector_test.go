package metrics

import (
	"database/sql"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("read gauge: %v", err)
	}
	return m.GetGauge().GetValue()
}

func TestSetPoolStats_KeepsPoolsSeparate(t *testing.T) {
	DBConnectionsOpen.Reset()
	DBConnectionsInUse.Reset()

	// Two connections held through database/sql are also acquired from pgxpool.
	setPoolStats(PoolPgx, poolStats{open: 4, inUse: 2, idle: 2, maxOpen: 20})
	setPoolStats(PoolDatabaseSQL, sqlPoolStats(sql.DBStats{OpenConnections: 2, InUse: 2}))

	if got := gaugeValue(t, DBConnectionsOpen.WithLabelValues(PoolPgx)); got != 4 {
		t.Errorf("pgxpool open = %v, want 4", got)
	}
	if got := gaugeValue(t, DBConnectionsInUse.WithLabelValues(PoolPgx)); got != 2 {
		t.Errorf("pgxpool in use = %v, want 2 (not summed with database_sql)", got)
	}
	if got := gaugeValue(t, DBConnectionsOpen.WithLabelValues(PoolDatabaseSQL)); got != 2 {
		t.Errorf("database_sql open = %v, want 2", got)
	}
}

func TestDBStatsCollector_NilHandles(t *testing.T) {
	c := NewDBStatsCollector(nil, nil, nil)
	c.collect()
}
