package sim

// Event is one entry of the market event catalog. Symbols lists the
// affected instruments; nil means all. BuyRatio biases synthetic order
// flow (0.5 is neutral) and PriceMod scales synthesized prices.
type Event struct {
	Name          string
	Symbols       []string
	Probability   float64 // per-tick trigger chance
	DurationTicks int
	BuyRatio      float64
	PriceMod      float64
}

// activeEvent is a triggered catalog event counting down its remaining
// ticks.
type activeEvent struct {
	Event
	remaining int
}

// maxActiveEvents caps how many events run concurrently; triggering
// pauses while the cap is reached.
const maxActiveEvents = 2

// Catalog returns the fixed event set the simulator draws from. Symbol
// lists reference the default instrument seed; events naming symbols
// the exchange doesn't trade simply affect nothing.
func Catalog() []Event {
	return []Event{
		{
			Name:          "broad rally",
			Probability:   0.04,
			DurationTicks: 10,
			BuyRatio:      0.68,
			PriceMod:      1.015,
		},
		{
			Name:          "broad sell-off",
			Probability:   0.04,
			DurationTicks: 10,
			BuyRatio:      0.32,
			PriceMod:      0.985,
		},
		{
			Name:          "tech momentum",
			Symbols:       []string{"NOVA", "QBIT"},
			Probability:   0.05,
			DurationTicks: 8,
			BuyRatio:      0.72,
			PriceMod:      1.02,
		},
		{
			Name:          "energy slump",
			Symbols:       []string{"PETRA"},
			Probability:   0.05,
			DurationTicks: 8,
			BuyRatio:      0.30,
			PriceMod:      0.98,
		},
		{
			Name:          "earnings surprise",
			Symbols:       []string{"ACME", "HELIX"},
			Probability:   0.03,
			DurationTicks: 5,
			BuyRatio:      0.75,
			PriceMod:      1.03,
		},
		{
			Name:          "flash crash",
			Probability:   0.01,
			DurationTicks: 3,
			BuyRatio:      0.20,
			PriceMod:      0.95,
		},
	}
}
