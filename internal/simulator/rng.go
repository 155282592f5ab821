package simulator

import "math/rand/v2"

// NewIterationRand returns the random stream for one attempt of one iteration.
// Streams depend only on (seed, iteration, attempt), so results do not depend on
// which worker runs an iteration.
func NewIterationRand(seed uint64, iteration, attempt int) *rand.Rand {
	return rand.New(rand.NewPCG(seed, uint64(iteration)<<32|uint64(uint32(attempt))))
}

// NewSeed picks a run seed when the caller did not provide one.
func NewSeed() uint64 {
	return rand.Uint64()
}
