package sim

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"bourse/internal/exchange"
	"bourse/internal/orderbook"
)

const (
	// priceBand bounds synthesized prices to this fraction around the
	// instrument's reference price.
	priceBand = 0.07

	// marketOrderRatio is the share of synthetic orders placed as
	// market orders.
	marketOrderRatio = 0.2

	minOrderQuantity = 10
	maxOrderQuantity = 200
)

// Config controls one simulation run.
type Config struct {
	Interval       time.Duration
	OrdersPerCycle int
	// BaseTrend shifts the neutral buy-ratio (positive = drift up)
	// when no event or recovery applies a stronger bias.
	BaseTrend float64
}

// DefaultConfig returns the standing simulation parameters.
func DefaultConfig() Config {
	return Config{
		Interval:       5 * time.Second,
		OrdersPerCycle: 4,
	}
}

// OrderPlacer submits synthetic orders; the exchange.Manager is the
// production implementation, so synthetic flow passes through exactly
// the same admission and matching path as real traders.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*orderbook.Order, []orderbook.Fill, error)
}

// MarketView reads the current traded price per instrument for the
// recovery heuristic.
type MarketView interface {
	CurrentPrice(symbol string) (int64, bool)
}

// PriceSource supplies each instrument's reference (last settled)
// price, used to bound synthetic prices.
type PriceSource interface {
	ReferencePrices(ctx context.Context) (map[string]int64, error)
}

// Simulator synthesizes order flow on a recurring tick: it ages and
// triggers market events, tracks per-instrument losing streaks, and
// submits randomized orders through the exchange manager.
type Simulator struct {
	placer OrderPlacer
	market MarketView
	prices PriceSource
	log    *zap.Logger

	mu       sync.Mutex
	cfg      Config
	rng      *rand.Rand
	catalog  []Event
	active   []*activeEvent
	recovery map[string]*recoveryState

	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

func New(placer OrderPlacer, market MarketView, prices PriceSource, log *zap.Logger) *Simulator {
	return &Simulator{
		placer:   placer,
		market:   market,
		prices:   prices,
		log:      log,
		cfg:      DefaultConfig(),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		catalog:  Catalog(),
		recovery: make(map[string]*recoveryState),
	}
}

// Start launches the tick loop. Starting while already running replaces
// the active configuration: the old loop is stopped first, event and
// recovery state carry over.
func (s *Simulator) Start(cfg Config) {
	s.Stop()

	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.OrdersPerCycle <= 0 {
		cfg.OrdersPerCycle = DefaultConfig().OrdersPerCycle
	}

	s.mu.Lock()
	s.cfg = cfg
	s.running = true
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	stopCh, done := s.stopCh, s.done
	s.mu.Unlock()

	s.log.Info("simulation started",
		zap.Duration("interval", cfg.Interval),
		zap.Int("orders_per_cycle", cfg.OrdersPerCycle),
		zap.Float64("base_trend", cfg.BaseTrend))

	go s.run(stopCh, done, cfg.Interval)
}

// Stop cancels the tick loop and waits for any in-flight tick to
// finish; no tick fires after Stop returns. No-op when not running.
func (s *Simulator) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stopCh, done := s.stopCh, s.done
	s.mu.Unlock()

	close(stopCh)
	<-done
	s.log.Info("simulation stopped")
}

func (s *Simulator) run(stopCh <-chan struct{}, done chan<- struct{}, interval time.Duration) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(context.Background())
		case <-stopCh:
			return
		}
	}
}

// tick runs one simulation cycle: event aging, event triggering,
// recovery tracking, then order synthesis.
func (s *Simulator) tick(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	refs, err := s.prices.ReferencePrices(ctx)
	if err != nil {
		s.log.Warn("reference prices unavailable, skipping tick", zap.Error(err))
		return
	}
	if len(refs) == 0 {
		return
	}

	s.ageEvents()
	s.triggerEvents()
	s.trackRecovery(refs)

	for i := 0; i < s.cfg.OrdersPerCycle; i++ {
		s.synthesizeOrder(ctx, refs)
	}
}

func (s *Simulator) ageEvents() {
	kept := s.active[:0]
	for _, ae := range s.active {
		ae.remaining--
		if ae.remaining > 0 {
			kept = append(kept, ae)
			continue
		}
		s.log.Info("market event expired", zap.String("event", ae.Name))
	}
	s.active = kept
}

func (s *Simulator) triggerEvents() {
	for i := range s.catalog {
		if len(s.active) >= maxActiveEvents {
			return
		}
		ev := s.catalog[i]
		if s.isActive(ev.Name) {
			continue
		}
		if s.rng.Float64() >= ev.Probability {
			continue
		}
		s.active = append(s.active, &activeEvent{Event: ev, remaining: ev.DurationTicks})
		s.log.Info("market event triggered",
			zap.String("event", ev.Name),
			zap.Int("duration_ticks", ev.DurationTicks))
	}
}

func (s *Simulator) isActive(name string) bool {
	for _, ae := range s.active {
		if ae.Name == name {
			return true
		}
	}
	return false
}

func (s *Simulator) trackRecovery(refs map[string]int64) {
	for sym := range refs {
		price, ok := s.market.CurrentPrice(sym)
		if !ok {
			continue
		}
		state := s.recovery[sym]
		if state == nil {
			state = &recoveryState{}
			s.recovery[sym] = state
		}
		wasActive := state.active
		state.observe(price, s.rng)
		if state.active && !wasActive {
			s.log.Info("recovery activated",
				zap.String("symbol", sym),
				zap.Float64("strength", state.strength),
				zap.Int("ticks", state.remaining))
		}
	}
}

// synthesizeOrder builds and submits one synthetic order. Errors are
// logged per order and never abort the rest of the tick.
func (s *Simulator) synthesizeOrder(ctx context.Context, refs map[string]int64) {
	pool := s.affectedSymbols(refs)
	sym := pool[s.rng.Intn(len(pool))]
	ref := refs[sym]

	buyRatio, mod := s.combinedEffect()
	if rec := s.recovery[sym]; rec != nil && rec.active {
		buyRatio = rec.strength
		mod = recoveryPriceMod
	}

	low := int64(math.Round(float64(ref) * (1 - priceBand)))
	high := int64(math.Round(float64(ref) * (1 + priceBand)))
	price := low + s.rng.Int63n(high-low+1)
	price = int64(math.Round(float64(price) * mod))
	if price < low {
		price = low
	}
	if price > high {
		price = high
	}

	req := exchange.OrderRequest{
		Symbol:   sym,
		Quantity: minOrderQuantity + s.rng.Int63n(maxOrderQuantity-minOrderQuantity+1),
	}
	if s.rng.Float64() < marketOrderRatio {
		req.Type = orderbook.Market
	} else {
		req.Type = orderbook.Limit
		req.Price = price
	}
	req.Side = orderbook.Sell
	if s.rng.Float64() < buyRatio {
		req.Side = orderbook.Buy
	}

	if _, _, err := s.placer.PlaceOrder(ctx, req); err != nil {
		if errors.Is(err, orderbook.ErrNoLiquidity) || errors.Is(err, exchange.ErrSessionClosed) {
			s.log.Debug("synthetic order rejected",
				zap.String("symbol", sym),
				zap.Error(err))
			return
		}
		s.log.Warn("synthetic order failed",
			zap.String("symbol", sym),
			zap.Error(err))
	}
}

// affectedSymbols returns the deduplicated, sorted pool of instruments
// touched by active events, or every known instrument when no event
// names any.
func (s *Simulator) affectedSymbols(refs map[string]int64) []string {
	set := make(map[string]struct{})
	for _, ae := range s.active {
		if ae.Symbols == nil {
			for sym := range refs {
				set[sym] = struct{}{}
			}
			continue
		}
		for _, sym := range ae.Symbols {
			if _, known := refs[sym]; known {
				set[sym] = struct{}{}
			}
		}
	}
	if len(set) == 0 {
		for sym := range refs {
			set[sym] = struct{}{}
		}
	}

	pool := make([]string, 0, len(set))
	for sym := range set {
		pool = append(pool, sym)
	}
	sort.Strings(pool)
	return pool
}

// combinedEffect folds active events into one buy-ratio and price
// modifier: the ratio farthest from neutral wins, modifiers multiply.
// BaseTrend sets the neutral point events have to beat.
func (s *Simulator) combinedEffect() (float64, float64) {
	buyRatio := clamp(0.5+s.cfg.BaseTrend, 0.05, 0.95)
	mod := 1.0
	for _, ae := range s.active {
		if math.Abs(ae.BuyRatio-0.5) > math.Abs(buyRatio-0.5) {
			buyRatio = ae.BuyRatio
		}
		mod *= ae.PriceMod
	}
	return buyRatio, mod
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ActiveEventStatus describes one running market event.
type ActiveEventStatus struct {
	Name           string `json:"name"`
	RemainingTicks int    `json:"remaining_ticks"`
}

// Status is the external view of the simulator.
type Status struct {
	Running        bool                `json:"running"`
	IntervalMs     int64               `json:"interval_ms"`
	OrdersPerCycle int                 `json:"orders_per_cycle"`
	BaseTrend      float64             `json:"base_trend"`
	ActiveEvents   []ActiveEventStatus `json:"active_events"`
	Recovering     []string            `json:"recovering"`
}

func (s *Simulator) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:        s.running,
		IntervalMs:     s.cfg.Interval.Milliseconds(),
		OrdersPerCycle: s.cfg.OrdersPerCycle,
		BaseTrend:      s.cfg.BaseTrend,
	}
	for _, ae := range s.active {
		st.ActiveEvents = append(st.ActiveEvents, ActiveEventStatus{Name: ae.Name, RemainingTicks: ae.remaining})
	}
	for sym, rec := range s.recovery {
		if rec.active {
			st.Recovering = append(st.Recovering, sym)
		}
	}
	sort.Strings(st.Recovering)
	return st
}
