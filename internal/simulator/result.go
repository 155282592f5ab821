package simulator

import "fmt"

// IterationResult is one simulated race. Every slice is indexed by competitor.
type IterationResult struct {
	FinishingPosition []int
	OriginalSpeedRank []int
	SpeedRank         []int
	LapsLed           []int
	FastestLaps       []int
	FastestLap        []bool
	Incident          []bool
	// Damage is "", "{stage}d", "{stage}D" or "{stage}DNF".
	Damage []string
	// Penalty is "", "{stage}G" or "{stage}Y".
	Penalty []string

	TotalCautions int
	LateCaution   bool
	GreenFlagLaps int
}

func newIterationResult(m int) *IterationResult {
	return &IterationResult{
		FinishingPosition: make([]int, m),
		OriginalSpeedRank: make([]int, m),
		SpeedRank:         make([]int, m),
		LapsLed:           make([]int, m),
		FastestLaps:       make([]int, m),
		FastestLap:        make([]bool, m),
		Incident:          make([]bool, m),
		Damage:            make([]string, m),
		Penalty:           make([]string, m),
	}
}

// IterationComputationError reports an iteration that could not be completed.
// The aggregator retries it with a fresh stream before failing the run.
type IterationComputationError struct {
	Iteration int
	Stage     int
	Profile   string
	Reason    string
}

func (e *IterationComputationError) Error() string {
	return fmt.Sprintf("iteration %d: stage %d: %s profile: %s", e.Iteration, e.Stage, e.Profile, e.Reason)
}
