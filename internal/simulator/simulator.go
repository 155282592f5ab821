package simulator

import (
	"fmt"
	"math/rand/v2"

	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/race-sim/internal/profile"
)

// RaceSimulator produces one independent race outcome per call. Implementations
// read only immutable profile data, so one instance serves every worker.
type RaceSimulator interface {
	Simulate(rng *rand.Rand) (*IterationResult, error)
}

// NewRaceSimulator returns the model for the store's series.
func NewRaceSimulator(store *profile.Store, log *logrus.Entry) (RaceSimulator, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("series", store.Series())

	switch store.Series() {
	case profile.SeriesNascar:
		return newNascarSimulator(store, log), nil
	case profile.SeriesF1:
		return newF1Simulator(store, log), nil
	default:
		return nil, fmt.Errorf("no simulator for series %q", store.Series())
	}
}
