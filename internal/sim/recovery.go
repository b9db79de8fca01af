package sim

import "math/rand"

const (
	// recoveryThreshold is the number of consecutive down moves that
	// activates a recovery.
	recoveryThreshold = 5

	recoveryMinStrength = 0.6
	recoveryMaxStrength = 0.9
	recoveryMinTicks    = 8
	recoveryMaxTicks    = 12

	// recoveryPriceMod nudges synthesized prices up while an instrument
	// recovers.
	recoveryPriceMod = 1.01
)

// recoveryState tracks one instrument's losing streak. After five
// consecutive down moves a recovery activates: strength and duration
// are drawn once and held until the recovery runs out, and the down
// counter stops accumulating until then.
type recoveryState struct {
	downMoves int
	lastPrice int64
	active    bool
	strength  float64
	remaining int
}

// observe feeds one tick's price observation into the state.
func (r *recoveryState) observe(price int64, rng *rand.Rand) {
	prev := r.lastPrice
	r.lastPrice = price
	if prev == 0 {
		return
	}

	if r.active {
		r.remaining--
		if r.remaining <= 0 {
			r.active = false
			r.downMoves = 0
		}
		return
	}

	switch {
	case price < prev:
		r.downMoves++
		if r.downMoves >= recoveryThreshold {
			r.active = true
			r.strength = recoveryMinStrength + rng.Float64()*(recoveryMaxStrength-recoveryMinStrength)
			r.remaining = recoveryMinTicks + rng.Intn(recoveryMaxTicks-recoveryMinTicks+1)
		}
	case price > prev:
		r.downMoves = 0
	}
}
