package scoring

import (
	"fmt"

	"github.com/stitts-dev/race-sim/internal/profile"
)

// ConfigurationError reports a rule set that cannot score the field.
type ConfigurationError struct {
	Site   string
	Series profile.Series
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid scoring rules %s/%s: %s", e.Site, e.Series, e.Reason)
}

// ConstructorBonuses are paid to an F1 constructor when both of its drivers qualify.
type ConstructorBonuses struct {
	BothClassified float64 `yaml:"both_classified" json:"both_classified"`
	BothInPoints   float64 `yaml:"both_in_points" json:"both_in_points"`
	BothOnPodium   float64 `yaml:"both_on_podium" json:"both_on_podium"`
	PointsCutoff   int     `yaml:"points_cutoff" json:"points_cutoff"`
	PodiumCutoff   int     `yaml:"podium_cutoff" json:"podium_cutoff"`
}

// RuleSet is a site's fantasy scoring for one series, expressed as data.
type RuleSet struct {
	Site   string         `yaml:"site" json:"site"`
	Series profile.Series `yaml:"series" json:"series"`

	FinishingPoints map[int]float64 `yaml:"finishing_points" json:"finishing_points"`
	// Place differential is either linear per position gained or, when
	// PlaceDiffTable is set, looked up by starting minus finishing position.
	PlaceDiffPerPosition float64         `yaml:"place_diff_per_position" json:"place_diff_per_position"`
	PlaceDiffTable       map[int]float64 `yaml:"place_diff_table,omitempty" json:"place_diff_table,omitempty"`

	LapsLedPoints         float64 `yaml:"laps_led" json:"laps_led"`
	FastestLapsPerLap     float64 `yaml:"fastest_laps" json:"fastest_laps"`
	FastestLapBonus       float64 `yaml:"fastest_lap" json:"fastest_lap"`
	ClassifiedBonus       float64 `yaml:"classified" json:"classified"`
	DefeatedTeammateBonus float64 `yaml:"defeated_teammate" json:"defeated_teammate"`

	Constructor *ConstructorBonuses `yaml:"constructor,omitempty" json:"constructor,omitempty"`

	CaptainMultiplier float64 `yaml:"captain_multiplier" json:"captain_multiplier"`
	SalaryCap         int     `yaml:"salary_cap" json:"salary_cap"`
}

// Validate checks that every finishing position and place differential a
// field of fieldSize can produce has a table entry.
func (r *RuleSet) Validate(fieldSize int) error {
	for fp := 1; fp <= fieldSize; fp++ {
		if _, ok := r.FinishingPoints[fp]; !ok {
			return &ConfigurationError{Site: r.Site, Series: r.Series, Reason: fmt.Sprintf("no finishing points for position %d", fp)}
		}
	}
	if r.PlaceDiffTable != nil {
		for d := -(fieldSize - 1); d <= fieldSize-1; d++ {
			if _, ok := r.PlaceDiffTable[d]; !ok {
				return &ConfigurationError{Site: r.Site, Series: r.Series, Reason: fmt.Sprintf("no place differential entry for %+d", d)}
			}
		}
	}
	if r.Constructor != nil && (r.Constructor.PointsCutoff < 1 || r.Constructor.PodiumCutoff < 1) {
		return &ConfigurationError{Site: r.Site, Series: r.Series, Reason: "constructor cutoffs must be positive"}
	}
	if r.SalaryCap <= 0 {
		return &ConfigurationError{Site: r.Site, Series: r.Series, Reason: "salary cap must be positive"}
	}
	return nil
}

// DraftKingsNascar is the DraftKings NASCAR classic scoring.
func DraftKingsNascar() *RuleSet {
	finishing := []float64{
		45, 42, 41, 40, 39, 38, 37, 36, 35, 34,
		32, 31, 30, 29, 28, 27, 26, 25, 24, 23,
		21, 20, 19, 18, 17, 16, 15, 14, 13, 13,
		10, 9, 8, 7, 6, 5, 4, 3, 2, 1,
		0, 0,
	}
	fp := make(map[int]float64, len(finishing))
	for i, pts := range finishing {
		fp[i+1] = pts
	}
	return &RuleSet{
		Site:                 "draftkings",
		Series:               profile.SeriesNascar,
		FinishingPoints:      fp,
		PlaceDiffPerPosition: 1,
		LapsLedPoints:        0.25,
		FastestLapsPerLap:    0.45,
		CaptainMultiplier:    1.5,
		SalaryCap:            50000,
	}
}

// DraftKingsF1 is the DraftKings Formula 1 classic scoring.
func DraftKingsF1() *RuleSet {
	fp := map[int]float64{1: 25, 2: 18, 3: 15, 4: 12, 5: 10, 6: 8, 7: 6, 8: 4, 9: 2, 10: 1}
	for pos := 11; pos <= 22; pos++ {
		fp[pos] = 0
	}

	diff := make(map[int]float64, 43)
	for d := -21; d <= 21; d++ {
		switch {
		case d <= -10:
			diff[d] = -5
		case d <= -5:
			diff[d] = -3
		case d <= -3:
			diff[d] = -2
		case d <= 2:
			diff[d] = 0
		case d <= 4:
			diff[d] = 2
		case d <= 9:
			diff[d] = 3
		default:
			diff[d] = 5
		}
	}

	return &RuleSet{
		Site:                  "draftkings",
		Series:                profile.SeriesF1,
		FinishingPoints:       fp,
		PlaceDiffTable:        diff,
		LapsLedPoints:         0.1,
		FastestLapBonus:       3,
		ClassifiedBonus:       1,
		DefeatedTeammateBonus: 5,
		Constructor: &ConstructorBonuses{
			BothClassified: 2,
			BothInPoints:   5,
			BothOnPodium:   3,
			PointsCutoff:   10,
			PodiumCutoff:   3,
		},
		CaptainMultiplier: 1.5,
		SalaryCap:         50000,
	}
}
