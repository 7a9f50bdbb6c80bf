package trace

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// RunInfo describes a run persisted by a Store.
type RunInfo struct {
	Mode       string
	Partitions int
	Seed       int64
	EndTime    int64
}

// Store persists barrier traces to SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the SQLite database at path and initializes
// the schema. ":memory:" keeps the trace in memory.
func OpenStore(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open trace db: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	s := NewStore(db)
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate trace db: %w", err)
	}
	return s, nil
}

// NewStore wraps an open database. The caller runs Migrate.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id         TEXT PRIMARY KEY,
		mode       TEXT NOT NULL,
		partitions INTEGER NOT NULL,
		seed       INTEGER NOT NULL,
		end_time   INTEGER NOT NULL,
		started_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS barriers (
		run_id     TEXT NOT NULL REFERENCES runs(id),
		seq        INTEGER NOT NULL,
		barrier    TEXT NOT NULL,
		previous   INTEGER NOT NULL,
		horizon    INTEGER NOT NULL,
		bottleneck INTEGER NOT NULL,
		exchanged  INTEGER NOT NULL,
		broadcasts INTEGER NOT NULL,
		reports    TEXT NOT NULL,
		wall_ns    INTEGER NOT NULL,
		PRIMARY KEY (run_id, seq)
	);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveRun writes info and every barrier record of st in one transaction
// and returns the new run id.
func (s *Store) SaveRun(ctx context.Context, info RunInfo, st *SimulationTrace) (string, error) {
	id := uuid.NewString()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, mode, partitions, seed, end_time, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, info.Mode, info.Partitions, info.Seed, info.EndTime, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	if st != nil {
		for _, r := range st.Records() {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO barriers (run_id, seq, barrier, previous, horizon, bottleneck, exchanged, broadcasts, reports, wall_ns)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				id, r.Seq, r.Barrier, r.Previous, r.Horizon, r.Bottleneck, r.Exchanged, r.Broadcasts,
				encodeReports(r.Reports), int64(r.Wall))
			if err != nil {
				return "", fmt.Errorf("insert barrier %d: %w", r.Seq, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// LoadBarriers returns the barrier records of run id in sequence order.
func (s *Store) LoadBarriers(ctx context.Context, id string) ([]BarrierRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, barrier, previous, horizon, bottleneck, exchanged, broadcasts, reports, wall_ns
		 FROM barriers WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query barriers: %w", err)
	}
	defer rows.Close()

	var out []BarrierRecord
	for rows.Next() {
		var (
			r       BarrierRecord
			reports string
			wall    int64
		)
		if err := rows.Scan(&r.Seq, &r.Barrier, &r.Previous, &r.Horizon, &r.Bottleneck,
			&r.Exchanged, &r.Broadcasts, &reports, &wall); err != nil {
			return nil, fmt.Errorf("scan barrier: %w", err)
		}
		if r.Reports, err = decodeReports(reports); err != nil {
			return nil, fmt.Errorf("barrier %d: %w", r.Seq, err)
		}
		r.Wall = time.Duration(wall)
		out = append(out, r)
	}
	return out, rows.Err()
}

func encodeReports(reports []int64) string {
	parts := make([]string, len(reports))
	for i, r := range reports {
		parts[i] = strconv.FormatInt(r, 10)
	}
	return strings.Join(parts, ",")
}

func decodeReports(s string) ([]int64, error) {
	if s == "" {
		return nil, nil
	}
	fields := strings.Split(s, ",")
	out := make([]int64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode reports: %w", err)
		}
		out[i] = v
	}
	return out, nil
}
