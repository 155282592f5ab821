package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSQLite(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"postgres://u:p@localhost:5432/race_sim", false},
		{"postgresql://u:p@localhost/race_sim", false},
		{"host=localhost user=u dbname=race_sim", false},
		{"file::memory:?cache=shared", true},
		{"sqlite://runs.db", true},
		{"./runs.db", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, isSQLite(tt.url))
		})
	}
}

func TestNewRaceSimConnection_SQLiteMemory(t *testing.T) {
	db, err := NewRaceSimConnection("file::memory:", false)
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, "sqlite", db.Dialector.Name())
	assert.NoError(t, db.HealthCheck())
}
