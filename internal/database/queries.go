package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"

	"voip-monitor/internal/models"
)

// Reader serves read-only queries over partitions. Handles are opened in
// SQLite read-only mode, so readers never take the write lock and always
// see the partition as of the last committed batch.
type Reader struct {
	dataDir string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

// NewReader creates a reader over dataDir.
func NewReader(dataDir string) *Reader {
	return &Reader{dataDir: dataDir, dbs: make(map[string]*sql.DB)}
}

// Aggregate holds SQL-side totals for a time range.
type Aggregate struct {
	Total      int
	Timeouts   int
	MinLatency sql.NullFloat64
	MaxLatency sql.NullFloat64
	AvgLatency sql.NullFloat64
	First      *time.Time
	Last       *time.Time
}

func (r *Reader) handle(target string) (*sql.DB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if db, ok := r.dbs[target]; ok {
		return db, nil
	}
	db, err := openReader(PartitionPath(r.dataDir, target))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	r.dbs[target] = db
	return db, nil
}

// Exists reports whether a partition exists for the target.
func (r *Reader) Exists(target string) bool {
	_, err := os.Stat(PartitionPath(r.dataDir, target))
	return err == nil
}

// Targets lists every partition found under the data directory.
func (r *Reader) Targets(ctx context.Context) ([]models.TargetInfo, error) {
	entries, err := os.ReadDir(r.dataDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var targets []models.TargetInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(r.dataDir, e.Name(), partitionFile)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		info, err := readTargetInfo(ctx, path)
		if err != nil || info.Address == "" {
			info = models.TargetInfo{Address: e.Name()}
		}
		targets = append(targets, info)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].Address < targets[j].Address })
	return targets, nil
}

func readTargetInfo(ctx context.Context, path string) (models.TargetInfo, error) {
	db, err := openReader(path)
	if err != nil {
		return models.TargetInfo{}, err
	}
	defer db.Close()

	var info models.TargetInfo
	var created string
	err = db.QueryRowContext(ctx, `SELECT address, name, created_at FROM target_info LIMIT 1`).
		Scan(&info.Address, &info.Name, &created)
	if err != nil {
		return models.TargetInfo{}, err
	}
	info.CreatedAt, _ = parseTimestamp(created)
	return info, nil
}

// Summary returns the sample count and time span of a partition.
func (r *Reader) Summary(ctx context.Context, target string) (models.TargetSummary, error) {
	db, err := r.handle(target)
	if err != nil {
		return models.TargetSummary{}, err
	}

	var total int
	var first, last, name sql.NullString
	err = db.QueryRowContext(ctx, `
        SELECT COUNT(*), MIN(timestamp), MAX(timestamp),
            (SELECT name FROM target_info LIMIT 1)
        FROM samples
    `).Scan(&total, &first, &last, &name)
	if err != nil {
		return models.TargetSummary{}, fmt.Errorf("summary %s: %w", target, err)
	}

	return models.TargetSummary{
		Address:    target,
		Name:       name.String,
		TotalPings: total,
		FirstPing:  nullTime(first),
		LastPing:   nullTime(last),
	}, nil
}

// Samples returns one page of samples, newest first, and the total number
// of rows matching the filter. Both are read from the same snapshot.
func (r *Reader) Samples(ctx context.Context, target string, f models.SampleFilter) ([]models.Sample, int, error) {
	db, err := r.handle(target)
	if err != nil {
		return nil, 0, err
	}

	where, args := sampleWhere(f)

	tx, err := db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback()

	query := `SELECT id, timestamp, latency_ms FROM samples WHERE ` + where +
		` ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`
	samples, err := scanSamples(tx.QueryContext(ctx, query, append(args, f.Limit, f.Offset)...))
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM samples WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	for i := range samples {
		samples[i].Target = target
	}
	return samples, total, nil
}

// Since returns every sample at or after from, newest first.
func (r *Reader) Since(ctx context.Context, target string, from time.Time) ([]models.Sample, error) {
	db, err := r.handle(target)
	if err != nil {
		return nil, err
	}
	samples, err := scanSamples(db.QueryContext(ctx, `
        SELECT id, timestamp, latency_ms FROM samples
        WHERE timestamp >= ?
        ORDER BY timestamp DESC, id DESC
    `, from.Format(models.TimestampLayout)))
	if err != nil {
		return nil, err
	}
	for i := range samples {
		samples[i].Target = target
	}
	return samples, nil
}

// Range returns every sample within rng in chronological order.
func (r *Reader) Range(ctx context.Context, target string, rng models.TimeRange) ([]models.Sample, error) {
	db, err := r.handle(target)
	if err != nil {
		return nil, err
	}
	where, args := rangeWhere(rng)
	samples, err := scanSamples(db.QueryContext(ctx,
		`SELECT id, timestamp, latency_ms FROM samples WHERE `+where+` ORDER BY timestamp, id`, args...))
	if err != nil {
		return nil, err
	}
	for i := range samples {
		samples[i].Target = target
	}
	return samples, nil
}

// Aggregate computes totals and the sorted non-loss latencies for a range
// from one consistent snapshot.
func (r *Reader) Aggregate(ctx context.Context, target string, rng models.TimeRange) (Aggregate, []float64, error) {
	db, err := r.handle(target)
	if err != nil {
		return Aggregate{}, nil, err
	}

	where, args := rangeWhere(rng)

	tx, err := db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return Aggregate{}, nil, err
	}
	defer tx.Rollback()

	var agg Aggregate
	var timeouts sql.NullInt64
	var first, last sql.NullString
	err = tx.QueryRowContext(ctx, `
        SELECT
            COUNT(*) as total_pings,
            SUM(CASE WHEN latency_ms = -1 THEN 1 ELSE 0 END) as timeouts,
            MIN(CASE WHEN latency_ms != -1 THEN latency_ms END) as min_latency,
            MAX(CASE WHEN latency_ms != -1 THEN latency_ms END) as max_latency,
            AVG(CASE WHEN latency_ms != -1 THEN latency_ms END) as avg_latency,
            MIN(timestamp) as first_ping,
            MAX(timestamp) as last_ping
        FROM samples
        WHERE `+where, args...,
	).Scan(&agg.Total, &timeouts, &agg.MinLatency, &agg.MaxLatency, &agg.AvgLatency, &first, &last)
	if err != nil {
		return Aggregate{}, nil, fmt.Errorf("aggregate %s: %w", target, err)
	}
	agg.Timeouts = int(timeouts.Int64)
	agg.First = nullTime(first)
	agg.Last = nullTime(last)

	rows, err := tx.QueryContext(ctx,
		`SELECT latency_ms FROM samples WHERE `+where+` AND latency_ms != -1 ORDER BY latency_ms`, args...)
	if err != nil {
		return Aggregate{}, nil, err
	}
	defer rows.Close()

	latencies := make([]float64, 0, agg.Total-agg.Timeouts)
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return Aggregate{}, nil, err
		}
		latencies = append(latencies, v)
	}
	return agg, latencies, rows.Err()
}

// HourlyPatterns groups the samples of rng by hour of day, ordered by
// hour. Hours without samples are omitted.
func (r *Reader) HourlyPatterns(ctx context.Context, target string, rng models.TimeRange) ([]models.HourlyPattern, error) {
	db, err := r.handle(target)
	if err != nil {
		return nil, err
	}
	where, args := rangeWhere(rng)
	rows, err := db.QueryContext(ctx, `
        SELECT
            CAST(strftime('%H', timestamp) AS INTEGER) as hour,
            COUNT(*) as total_pings,
            SUM(CASE WHEN latency_ms = -1 THEN 1 ELSE 0 END) as timeouts,
            AVG(CASE WHEN latency_ms != -1 THEN latency_ms END) as avg_latency,
            MAX(CASE WHEN latency_ms != -1 THEN latency_ms END) as max_latency,
            COUNT(DISTINCT substr(timestamp, 1, 10)) as days_with_data
        FROM samples
        WHERE `+where+`
        GROUP BY hour
        ORDER BY hour
    `, args...)
	if err != nil {
		return nil, fmt.Errorf("hourly patterns %s: %w", target, err)
	}
	defer rows.Close()

	var patterns []models.HourlyPattern
	for rows.Next() {
		var h models.HourlyPattern
		var avg, peak sql.NullFloat64
		if err := rows.Scan(&h.Hour, &h.TotalPings, &h.Timeouts, &avg, &peak, &h.DaysWithData); err != nil {
			return nil, err
		}
		if avg.Valid {
			h.AvgLatencyMs = &avg.Float64
		}
		if peak.Valid {
			h.MaxLatencyMs = &peak.Float64
		}
		patterns = append(patterns, h)
	}
	return patterns, rows.Err()
}

// Close releases every cached read handle.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs error
	for t, db := range r.dbs {
		errs = multierr.Append(errs, db.Close())
		delete(r.dbs, t)
	}
	return errs
}

func sampleWhere(f models.SampleFilter) (string, []any) {
	where, args := rangeWhere(models.TimeRange{From: f.From, To: f.To})
	clauses := []string{where}

	if f.MinLatency != nil {
		clauses = append(clauses, "latency_ms >= ?")
		args = append(args, *f.MinLatency)
	}
	if f.MaxLatency != nil {
		clauses = append(clauses, "latency_ms <= ?")
		args = append(args, *f.MaxLatency)
	}
	if f.OnlyFailures {
		clauses = append(clauses, "latency_ms = -1")
	}
	return strings.Join(clauses, " AND "), args
}

func rangeWhere(rng models.TimeRange) (string, []any) {
	clauses := []string{"1=1"}
	var args []any

	if rng.From != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, rng.From.Format(models.TimestampLayout))
	}
	if rng.To != nil {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, rng.To.Format(models.TimestampLayout))
	}
	return strings.Join(clauses, " AND "), args
}

func scanSamples(rows *sql.Rows, err error) ([]models.Sample, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	samples := []models.Sample{}
	for rows.Next() {
		var s models.Sample
		var ts string
		if err := rows.Scan(&s.ID, &ts, &s.LatencyMs); err != nil {
			return nil, err
		}
		s.Timestamp, err = parseTimestamp(ts)
		if err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

func parseTimestamp(s string) (time.Time, error) {
	return time.ParseInLocation(models.TimestampLayout, s, time.Local)
}

func nullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := parseTimestamp(s.String)
	if err != nil {
		return nil
	}
	return &t
}
