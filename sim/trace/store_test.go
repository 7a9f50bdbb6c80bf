package trace

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTrace() *SimulationTrace {
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelBarriers})
	st.RecordBarrier(BarrierRecord{Seq: 1, Barrier: "init", Previous: 0, Horizon: 50,
		Reports: []int64{100, 50}, Bottleneck: 1, Wall: time.Millisecond})
	st.RecordBarrier(BarrierRecord{Seq: 2, Barrier: "window", Previous: 50, Horizon: 105,
		Reports: []int64{160, 105}, Bottleneck: 1, Exchanged: 4, Wall: 2 * time.Millisecond})
	return st
}

func TestStore_SaveAndLoad_RoundTripsRecords(t *testing.T) {
	s, err := OpenStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	st := sampleTrace()
	id, err := s.SaveRun(ctx, RunInfo{Mode: "synchronous", Partitions: 2, Seed: 7, EndTime: 1000}, st)
	require.NoError(t, err)
	assert.Len(t, id, 36)

	got, err := s.LoadBarriers(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, st.Records(), got)

	other, err := s.LoadBarriers(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestStore_SaveRun_RollsBackOnInsertError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO runs")).
		WithArgs(sqlmock.AnyArg(), "best-effort", 4, int64(1), int64(99), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO barriers")).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	s := NewStore(db)
	_, err = s.SaveRun(context.Background(), RunInfo{Mode: "best-effort", Partitions: 4, Seed: 1, EndTime: 99}, sampleTrace())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert barrier 1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LoadBarriers_RejectsCorruptReports(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"seq", "barrier", "previous", "horizon", "bottleneck", "exchanged", "broadcasts", "reports", "wall_ns"}).
		AddRow(1, "init", 0, 50, 1, 0, 0, "100,x", 10)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT seq, barrier")).
		WithArgs("run-1").
		WillReturnRows(rows)

	s := NewStore(db)
	_, err = s.LoadBarriers(context.Background(), "run-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode reports")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Migrate_PropagatesError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS runs")).
		WillReturnError(errors.New("read-only"))

	err = NewStore(db).Migrate(context.Background())
	assert.EqualError(t, err, "read-only")
}
