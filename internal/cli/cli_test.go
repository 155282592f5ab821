package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/stitts-dev/race-sim/internal/profile"
	"github.com/stitts-dev/race-sim/internal/services"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("LOG_LEVEL", "panic")
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func firstSummary(t *testing.T, out string) services.RunSummary {
	t.Helper()
	var s services.RunSummary
	require.NoError(t, yaml.NewDecoder(strings.NewReader(out)).Decode(&s))
	return s
}

func TestSampleRoundTrips(t *testing.T) {
	out, err := run(t, "sample", "nascar", "--drivers", "12")
	require.NoError(t, err)

	in, err := profile.Load(strings.NewReader(out))
	require.NoError(t, err)
	assert.Len(t, in.Competitors, 12)
	_, err = profile.NewStore(in)
	assert.NoError(t, err)

	_, err = run(t, "sample", "indycar")
	assert.Error(t, err)
}

func TestSimulateFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "race.yaml")
	_, err := run(t, "sample", "f1", "-o", path)
	require.NoError(t, err)

	runPath := filepath.Join(dir, "run.json")
	out, err := run(t, "simulate", "-i", path, "-n", "15", "--seed", "4", "-o", runPath)
	require.NoError(t, err)
	s := firstSummary(t, out)
	assert.Equal(t, services.StatusCompleted, s.Status)
	assert.Equal(t, 15, s.Iterations)

	data, err := os.ReadFile(runPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"series": "f1"`)
}

func TestGTOAndBuildCommands(t *testing.T) {
	out, err := run(t, "gto", "--sample", "nascar", "--drivers", "16", "-n", "12", "--seed", "2", "--top", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "EXPOSURE")

	out, err = run(t, "build", "--sample", "nascar", "--drivers", "16", "-n", "20", "--seed", "2", "--lineups", "3", "--build-seed", "9")
	require.NoError(t, err)
	assert.Contains(t, out, "3 lineups built")
	assert.Contains(t, out, "MEDIAN")
}

func TestPersistedRunIsReused(t *testing.T) {
	db := filepath.Join(t.TempDir(), "race.db")

	out, err := run(t, "simulate", "--sample", "nascar", "--drivers", "14", "-n", "10", "--persist", "--database-url", db)
	require.NoError(t, err)
	id := firstSummary(t, out).RunID
	require.NotEmpty(t, id)

	t.Setenv("RACESIM_DATABASE_URL", db)
	out, err = run(t, "build", "--run-id", id, "--lineups", "2")
	require.NoError(t, err)
	assert.Contains(t, out, id)

	out, err = run(t, "prune")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 0 runs")
}

func TestMigrateUsesEnvironment(t *testing.T) {
	db := filepath.Join(t.TempDir(), "race.db")
	t.Setenv("RACESIM_DATABASE_URL", db)

	out, err := run(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "up to date")
	_, err = os.Stat(db)
	assert.NoError(t, err)
}

func TestInputErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no input", []string{"simulate"}, "--input or --sample"},
		{"both inputs", []string{"simulate", "--sample", "f1", "-i", "x.yaml"}, "mutually exclusive"},
		{"unknown sample", []string{"simulate", "--sample", "indycar"}, "unknown sample"},
		{"bad run id", []string{"gto", "--run-id", "nope", "--database-url", "file::memory:"}, "invalid --run-id"},
		{"unknown site", []string{"simulate", "--sample", "f1", "-n", "5", "--extra-site", "fanduel"}, "no scoring rules"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestExposureLimits(t *testing.T) {
	tests := []struct {
		name    string
		in      map[string]string
		want    float64
		wantErr bool
	}{
		{name: "unset"},
		{name: "fraction", in: map[string]string{"d03": "0.4"}, want: 0.4},
		{name: "above one", in: map[string]string{"d03": "1.5"}, wantErr: true},
		{name: "not a number", in: map[string]string{"d03": "most"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := exposureLimits(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got["d03"].Min)
		})
	}
}

func TestBuildReportsExposureShortfall(t *testing.T) {
	out, err := run(t, "build", "--sample", "nascar", "--drivers", "16", "-n", "20", "--seed", "2",
		"--lineups", "3", "--build-seed", "9", "--min-exposure", "d16=1", "--min-exposure", "d15=1")
	require.NoError(t, err)
	assert.Contains(t, out, "completed_with_warnings")
	assert.Contains(t, out, "requires 100.0%")
}
