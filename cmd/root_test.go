package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partsim/partsim/sim"
	"github.com/partsim/partsim/sim/workload"
)

// setRunFlags sets flags on runCmd as if given on the command line and
// restores them when the test ends.
func setRunFlags(t *testing.T, values map[string]string) {
	t.Helper()
	for name, value := range values {
		f := runCmd.Flags().Lookup(name)
		require.NotNil(t, f, name)
		old := f.Value.String()
		require.NoError(t, runCmd.Flags().Set(name, value))
		t.Cleanup(func() {
			_ = f.Value.Set(old)
			f.Changed = false
		})
	}
}

func smallRunConfig(partitions int) *RunConfig {
	cfg := defaultRunConfig()
	cfg.Cluster.Partitions = partitions
	cfg.Cluster.End = workload.Duration(5 * sim.Millisecond)
	cfg.Workload.Nodes = 12
	return &cfg
}

func TestResolveRunConfig_FlagsOverrideFile(t *testing.T) {
	// GIVEN a config file and an explicit --partitions flag
	path := writeConfig(t, "version: \"1.0\"\ncluster:\n  partitions: 4\n  seed: 7\n")
	old := configPath
	configPath = path
	t.Cleanup(func() { configPath = old })
	setRunFlags(t, map[string]string{"partitions": "2", "end": "3ms"})

	// WHEN the run configuration is resolved
	cfg, err := resolveRunConfig(runCmd)
	require.NoError(t, err)

	// THEN changed flags win and untouched flags leave the file's values alone
	assert.Equal(t, 2, cfg.Cluster.Partitions)
	assert.Equal(t, int64(7), cfg.Cluster.Seed)
	assert.Equal(t, 3*sim.Millisecond, cfg.Cluster.End.Time())
}

func TestResolveRunConfig_WorkloadFileReplacesSection(t *testing.T) {
	// GIVEN a config file with a workload section and a separate workload file
	cfgPath := writeConfig(t, "version: \"1.0\"\nworkload:\n  nodes: 64\n  events_per_node: 3\n")
	specPath := writeConfig(t, "nodes: 16\ndelay:\n  type: constant\n  mean: 2ms\n")
	oldConfig, oldWorkload := configPath, workloadPath
	configPath, workloadPath = cfgPath, specPath
	t.Cleanup(func() { configPath, workloadPath = oldConfig, oldWorkload })
	setRunFlags(t, map[string]string{"seed": "9"})

	// WHEN the run configuration is resolved
	cfg, err := resolveRunConfig(runCmd)
	require.NoError(t, err)

	// THEN the workload file wins over the config section, starting from defaults
	def := workload.DefaultPHOLDSpec()
	assert.Equal(t, 16, cfg.Workload.Nodes)
	assert.Equal(t, def.EventsPerNode, cfg.Workload.EventsPerNode)
	assert.Equal(t, "constant", cfg.Workload.Delay.Type)
	assert.Equal(t, int64(9), cfg.Cluster.Seed)
}

func TestResolveRunConfig_WorkloadFileErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown key", "nodes: 8\nlookahed: 1ms\n", "parsing workload spec"},
		{"negative uniform delay", "delay:\n  type: uniform\n  min: -5ms\n  max: -1ms\n", "delay.min"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			old := workloadPath
			workloadPath = writeConfig(t, tt.body)
			t.Cleanup(func() { workloadPath = old })

			_, err := resolveRunConfig(runCmd)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestResolveRunConfig_InvalidEnd(t *testing.T) {
	setRunFlags(t, map[string]string{"end": "soon"})
	_, err := resolveRunConfig(runCmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--end")
}

func TestResolveRunConfig_InvalidMode(t *testing.T) {
	setRunFlags(t, map[string]string{"mode": "optimistic"})
	_, err := resolveRunConfig(runCmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestRunSimulation_PartitionCountDoesNotChangeOutcome(t *testing.T) {
	// GIVEN the same workload on one and on three partitions
	one, err := runSimulation(context.Background(), smallRunConfig(1))
	require.NoError(t, err)
	three, err := runSimulation(context.Background(), smallRunConfig(3))
	require.NoError(t, err)

	// THEN the synchronous runs agree event for event
	assert.Greater(t, one.EventsExecuted, uint64(0))
	assert.Equal(t, one.Checksum, three.Checksum)
	assert.Equal(t, one.Received, three.Received)
	assert.Equal(t, one.EventsExecuted, three.EventsExecuted)
	assert.Zero(t, one.SentRemote, "a single partition never sends remotely")
	assert.Greater(t, three.SentRemote, uint64(0))
}

func TestRunSimulation_TraceDatabase_ReadableByInspect(t *testing.T) {
	// GIVEN a run with a SQLite trace sink
	cfg := smallRunConfig(2)
	cfg.Trace.DB = filepath.Join(t.TempDir(), "trace.db")

	// WHEN the run finishes
	report, err := runSimulation(context.Background(), cfg)
	require.NoError(t, err)

	// THEN the trace is summarized in the report and stored under the run id
	require.NotNil(t, report.Trace)
	require.NotEmpty(t, report.RunID)
	assert.Equal(t, report.Barriers, report.Trace.Barriers)

	summary, err := inspectTrace(context.Background(), cfg.Trace.DB, report.RunID)
	require.NoError(t, err)
	assert.Equal(t, report.Trace.Barriers, summary.Barriers)
	assert.Equal(t, report.Trace.Advances, summary.Advances)
	assert.Equal(t, report.Trace.Exchanged, summary.Exchanged)
}

func TestInspectTrace_UnknownRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.db")
	_, err := inspectTrace(context.Background(), path, "no-such-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no barrier records")
}

func TestPrintReport_WritesHeaderAndJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printReport(&buf, &RunReport{Mode: "synchronous", Checksum: "00000000000000ff"}))

	out := buf.String()
	assert.Contains(t, out, "=== Simulation Summary ===")
	assert.Contains(t, out, `"checksum": "00000000000000ff"`)
	assert.NotContains(t, out, "run_id", "empty run id is omitted")
}
