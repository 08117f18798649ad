package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fjmerc/partstream/internal/models"
	"github.com/fjmerc/partstream/internal/repository"
)

// collectTimeout bounds the database queries run on each scrape
const collectTimeout = 5 * time.Second

// SessionMetricsCollector reports session counts from the database on each scrape
type SessionMetricsCollector struct {
	sessions repository.UploadSessionRepository

	openSessions       *prometheus.Desc
	completingSessions *prometheus.Desc
}

// NewSessionMetricsCollector creates a new collector
func NewSessionMetricsCollector(sessions repository.UploadSessionRepository) *SessionMetricsCollector {
	return &SessionMetricsCollector{
		sessions: sessions,
		openSessions: prometheus.NewDesc(
			"partstream_open_sessions",
			"Number of upload sessions accepting parts",
			nil, nil,
		),
		completingSessions: prometheus.NewDesc(
			"partstream_completing_sessions",
			"Number of upload sessions inside completion",
			nil, nil,
		),
	}
}

// Describe sends metric descriptors to Prometheus
func (c *SessionMetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.openSessions
	ch <- c.completingSessions
}

// Collect queries current session counts and sends them to Prometheus.
// Query failures report zero rather than failing the scrape.
func (c *SessionMetricsCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()

	ch <- prometheus.MustNewConstMetric(c.openSessions, prometheus.GaugeValue, c.count(ctx, models.SessionOpen))
	ch <- prometheus.MustNewConstMetric(c.completingSessions, prometheus.GaugeValue, c.count(ctx, models.SessionCompleting))
}

func (c *SessionMetricsCollector) count(ctx context.Context, state models.SessionState) float64 {
	n, err := c.sessions.CountByState(ctx, state)
	if err != nil {
		slog.Error("failed to query session metrics", "state", state, "error", err)
		return 0
	}
	return float64(n)
}
