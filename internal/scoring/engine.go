package scoring

// Outcome is one competitor's result in one iteration.
type Outcome struct {
	StartingPosition  int
	FinishingPosition int
	LapsLed           int
	FastestLaps       int
	FastestLap        bool
	Incident          bool
	// TeammateFinish is the teammate's finishing position, 0 when there is none.
	TeammateFinish int
}

// Score is the fantasy points for o. It has no side effects.
func (r *RuleSet) Score(o Outcome) float64 {
	pts := r.FinishingPoints[o.FinishingPosition]

	diff := o.StartingPosition - o.FinishingPosition
	if r.PlaceDiffTable != nil {
		pts += r.PlaceDiffTable[diff]
	} else {
		pts += r.PlaceDiffPerPosition * float64(diff)
	}

	pts += r.LapsLedPoints * float64(o.LapsLed)
	pts += r.FastestLapsPerLap * float64(o.FastestLaps)
	if o.FastestLap {
		pts += r.FastestLapBonus
	}
	if !o.Incident {
		pts += r.ClassifiedBonus
	}
	if o.TeammateFinish > 0 && o.FinishingPosition < o.TeammateFinish {
		pts += r.DefeatedTeammateBonus
	}
	return pts
}

// ScoreConstructor scores a constructor from its two drivers' outcomes.
// Rule sets without constructor bonuses score constructors at zero.
func (r *RuleSet) ScoreConstructor(a, b Outcome) float64 {
	if r.Constructor == nil {
		return 0
	}
	pts := 0.0
	for _, o := range []Outcome{a, b} {
		pts += r.FinishingPoints[o.FinishingPosition]
		pts += r.LapsLedPoints * float64(o.LapsLed)
		pts += r.FastestLapsPerLap * float64(o.FastestLaps)
		if o.FastestLap {
			pts += r.FastestLapBonus
		}
	}

	c := r.Constructor
	if !a.Incident && !b.Incident {
		pts += c.BothClassified
	}
	if a.FinishingPosition <= c.PointsCutoff && b.FinishingPosition <= c.PointsCutoff {
		pts += c.BothInPoints
	}
	if a.FinishingPosition <= c.PodiumCutoff && b.FinishingPosition <= c.PodiumCutoff {
		pts += c.BothOnPodium
	}
	return pts
}

// Captain applies the captain multiplier to a base score.
func (r *RuleSet) Captain(score float64) float64 {
	return score * r.CaptainMultiplier
}
