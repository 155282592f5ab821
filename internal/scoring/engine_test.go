package scoring

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitts-dev/race-sim/internal/profile"
)

func TestDraftKingsNascarScore(t *testing.T) {
	rules := DraftKingsNascar()
	tests := []struct {
		name    string
		outcome Outcome
		want    float64
	}{
		{
			name:    "pole sitter wins and dominates",
			outcome: Outcome{StartingPosition: 1, FinishingPosition: 1, LapsLed: 150, FastestLaps: 60},
			want:    45 + 0 + 150*0.25 + 60*0.45,
		},
		{
			name:    "charge from the back",
			outcome: Outcome{StartingPosition: 30, FinishingPosition: 5, FastestLaps: 10},
			want:    39 + 25 + 10*0.45,
		},
		{
			name:    "early wreck loses place differential",
			outcome: Outcome{StartingPosition: 3, FinishingPosition: 38, Incident: true},
			want:    3 - 35,
		},
		{
			name:    "fastest lap flag is not scored on top of counted laps",
			outcome: Outcome{StartingPosition: 10, FinishingPosition: 10, FastestLaps: 1, FastestLap: true},
			want:    34 + 0.45,
		},
		{
			name:    "29th and 30th pay the same",
			outcome: Outcome{StartingPosition: 30, FinishingPosition: 30},
			want:    13,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, rules.Score(tt.outcome), 1e-9)
		})
	}
}

func TestDraftKingsF1Score(t *testing.T) {
	rules := DraftKingsF1()
	tests := []struct {
		name    string
		outcome Outcome
		want    float64
	}{
		{
			name:    "win from pole with fastest lap, beating teammate",
			outcome: Outcome{StartingPosition: 1, FinishingPosition: 1, LapsLed: 50, FastestLaps: 1, FastestLap: true, TeammateFinish: 4},
			want:    25 + 0 + 50*0.1 + 3 + 1 + 5,
		},
		{
			name:    "ten places gained",
			outcome: Outcome{StartingPosition: 18, FinishingPosition: 8, TeammateFinish: 2},
			want:    4 + 5 + 1,
		},
		{
			name:    "small gains are not rewarded",
			outcome: Outcome{StartingPosition: 7, FinishingPosition: 5, TeammateFinish: 9},
			want:    10 + 0 + 1 + 5,
		},
		{
			name:    "retirement loses classified bonus",
			outcome: Outcome{StartingPosition: 2, FinishingPosition: 20, Incident: true, TeammateFinish: 19},
			want:    0 - 5,
		},
		{
			name:    "no teammate, no head to head",
			outcome: Outcome{StartingPosition: 5, FinishingPosition: 3},
			want:    15 + 0 + 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, rules.Score(tt.outcome), 1e-9)
		})
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	rules := DraftKingsF1()
	o := Outcome{StartingPosition: 12, FinishingPosition: 6, LapsLed: 3, TeammateFinish: 11}
	first := rules.Score(o)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, rules.Score(o))
	}
}

func TestScoreConstructor(t *testing.T) {
	rules := DraftKingsF1()
	tests := []struct {
		name string
		a, b Outcome
		want float64
	}{
		{
			name: "one-two with fastest lap",
			a:    Outcome{FinishingPosition: 1, LapsLed: 40, FastestLaps: 1, FastestLap: true},
			b:    Outcome{FinishingPosition: 2, LapsLed: 17},
			want: 25 + 18 + 3 + 57*0.1 + 2 + 5 + 3,
		},
		{
			name: "both in points off the podium",
			a:    Outcome{FinishingPosition: 4},
			b:    Outcome{FinishingPosition: 10},
			want: 12 + 1 + 2 + 5,
		},
		{
			name: "one retirement",
			a:    Outcome{FinishingPosition: 6},
			b:    Outcome{FinishingPosition: 20, Incident: true},
			want: 8,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, rules.ScoreConstructor(tt.a, tt.b), 1e-9)
		})
	}

	assert.Zero(t, DraftKingsNascar().ScoreConstructor(Outcome{FinishingPosition: 1}, Outcome{FinishingPosition: 2}))
}

func TestRuleSetValidate(t *testing.T) {
	tests := []struct {
		name      string
		rules     func() *RuleSet
		fieldSize int
		wantErr   string
	}{
		{"nascar full field", DraftKingsNascar, 40, ""},
		{"nascar oversized field", DraftKingsNascar, 43, "finishing points for position 43"},
		{"f1 grid", DraftKingsF1, 20, ""},
		{"f1 oversized grid", DraftKingsF1, 23, "finishing points for position 23"},
		{"missing place differential", func() *RuleSet {
			r := DraftKingsF1()
			delete(r.PlaceDiffTable, -7)
			return r
		}, 20, "place differential entry for -7"},
		{"missing salary cap", func() *RuleSet {
			r := DraftKingsNascar()
			r.SalaryCap = 0
			return r
		}, 20, "salary cap"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rules().Validate(tt.fieldSize)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()

	rules, err := reg.Lookup("draftkings", profile.SeriesF1)
	require.NoError(t, err)
	assert.Equal(t, 3.0, rules.FastestLapBonus)

	_, err = reg.Lookup("fanduel", profile.SeriesNascar)
	var cfgErr *ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)

	custom := DraftKingsNascar()
	custom.Site = "fanduel"
	custom.LapsLedPoints = 0.1
	reg.Register(custom)
	got, err := reg.Lookup("fanduel", profile.SeriesNascar)
	require.NoError(t, err)
	assert.Equal(t, 0.1, got.LapsLedPoints)
	assert.Equal(t, []string{"draftkings", "fanduel"}, reg.Sites(profile.SeriesNascar))
}

func TestLoadRuleSet(t *testing.T) {
	doc := `
site: fanduel
series: nascar
finishing_points: {1: 43, 2: 40, 3: 38}
place_diff_per_position: 0.5
laps_led: 0.1
fastest_laps: 0
fastest_lap: 0
classified: 0
defeated_teammate: 0
captain_multiplier: 0
salary_cap: 50000
`
	rules, err := LoadRuleSet(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, profile.SeriesNascar, rules.Series)
	assert.Equal(t, 40.0, rules.FinishingPoints[2])
	assert.NoError(t, rules.Validate(3))
	assert.Error(t, rules.Validate(4))

	_, err = LoadRuleSet(strings.NewReader("site: x\nseries: f1\nbogus: 1\n"))
	assert.Error(t, err)

	_, err = LoadRuleSet(strings.NewReader("laps_led: 1\n"))
	var cfgErr *ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}
