package history

import (
	"context"
	"fmt"
	"os"

	"github.com/dennisdiepolder/kpiboard/internal/types"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
)

// Measurement is the InfluxDB measurement leaderboard rows are written to
const Measurement = "leaderboard_row"

// Config holds the InfluxDB connection settings. An empty URL disables history.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// LoadConfig reads the INFLUX_* environment variables
func LoadConfig() Config {
	return Config{
		URL:    os.Getenv("INFLUX_URL"),
		Token:  os.Getenv("INFLUX_TOKEN"),
		Org:    getEnv("INFLUX_ORG", "kpiboard"),
		Bucket: getEnv("INFLUX_BUCKET", "leaderboards"),
	}
}

// Enabled reports whether a history sink is configured
func (c Config) Enabled() bool {
	return c.URL != ""
}

// InfluxRecorder writes every committed leaderboard row as a point
type InfluxRecorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	org      string
	bucket   string
	logger   zerolog.Logger
}

// NewInfluxRecorder connects to InfluxDB and checks its health
func NewInfluxRecorder(ctx context.Context, cfg Config, logger zerolog.Logger) (*InfluxRecorder, error) {
	logger = logger.With().Str("component", "history").Logger()
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}
	if health.Status != "pass" {
		logger.Warn().Str("status", string(health.Status)).Msg("InfluxDB health check not passing")
	}

	logger.Info().
		Str("url", cfg.URL).
		Str("org", cfg.Org).
		Str("bucket", cfg.Bucket).
		Msg("InfluxDB history enabled")

	return &InfluxRecorder{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		org:      cfg.Org,
		bucket:   cfg.Bucket,
		logger:   logger,
	}, nil
}

// RecordLeaderboard writes one point per row of lb
func (r *InfluxRecorder) RecordLeaderboard(ctx context.Context, lb types.Leaderboard) error {
	points := PointsFor(lb)
	if len(points) == 0 {
		return nil
	}
	if err := r.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("failed to write to InfluxDB: %w", err)
	}
	r.logger.Debug().Str("month", lb.MonthID).Int("points", len(points)).Msg("leaderboard history written")
	return nil
}

// Close releases the client
func (r *InfluxRecorder) Close() {
	r.client.Close()
}

// PointsFor converts the rows of a leaderboard to InfluxDB points stamped
// with the leaderboard's computation time
func PointsFor(lb types.Leaderboard) []*write.Point {
	points := make([]*write.Point, 0, len(lb.Rows))
	for _, row := range lb.Rows {
		tags := map[string]string{
			"month":    lb.MonthID,
			"agent_id": row.AgentID,
			"client":   row.Client,
			"band":     string(row.Band),
		}
		if row.Position != "" {
			tags["position"] = row.Position
		}
		fields := map[string]interface{}{
			"rank":             row.Rank,
			"overall":          row.Overall,
			"task_score":       row.TaskScore,
			"attendance_score": row.AttendanceScore,
			"attitude_score":   row.AttitudeScore,
			"total_tasks":      row.TotalTasks,
			"target":           row.Target,
		}
		points = append(points, influxdb2.NewPoint(Measurement, tags, fields, lb.ComputedAt))
	}
	return points
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
