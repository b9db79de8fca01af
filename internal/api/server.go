package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"bourse/internal/exchange"
	"bourse/internal/orderbook"
	"bourse/internal/sim"
	"bourse/internal/store"
)

type Server struct {
	mgr         *exchange.Manager
	sim         *sim.Simulator
	store       *store.Store
	gate        *exchange.SessionGate
	sessions    *SessionStore
	hub         *Hub
	log         *zap.Logger
	upgrader    websocket.Upgrader
	corsOrigins []string // empty = allow all
}

func NewServer(mgr *exchange.Manager, simulator *sim.Simulator, st *store.Store, gate *exchange.SessionGate, log *zap.Logger) *Server {
	s := &Server{
		mgr:      mgr,
		sim:      simulator,
		store:    st,
		gate:     gate,
		sessions: NewSessionStore(st),
		hub:      NewHub(),
		log:      log,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return s.checkCORSOrigin(r.Header.Get("Origin"))
		},
	}
	return s
}

// SetCORSOrigins restricts browser access to the given origins.
// An empty slice allows all origins.
func (s *Server) SetCORSOrigins(origins []string) {
	s.corsOrigins = origins
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func (s *Server) checkCORSOrigin(origin string) bool {
	if len(s.corsOrigins) == 0 {
		return true
	}
	if origin == "" {
		return true
	}
	for _, allowed := range s.corsOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	allowedOrigins := s.corsOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/logout", s.handleLogout)

		r.Get("/portfolio", s.handleGetPortfolio)
		r.Get("/instruments", s.handleInstruments)

		r.Post("/orders", s.submitOrder)
		r.Get("/orders", s.getOrders)
		r.Delete("/orders/{id}", s.cancelOrder)

		r.Get("/book/{symbol}", s.getBook)
		r.Get("/trades/{symbol}", s.getTrades)

		r.Get("/market", s.getMarketStatus)
		r.Post("/market/open", s.openMarket)
		r.Post("/market/close", s.closeMarket)

		r.Get("/sim/status", s.getSimStatus)
		r.Post("/sim/start", s.startSim)
		r.Post("/sim/stop", s.stopSim)
	})

	r.Get("/ws", s.handleWebSocket)

	return r
}

type OrderSubmission struct {
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`     // "buy" or "sell"
	Type     string `json:"type"`     // "limit" or "market"
	Price    int64  `json:"price"`    // cents, required for limit orders
	Quantity int64  `json:"quantity"`
}

type OrderResponse struct {
	OrderID   string           `json:"order_id"`
	Fills     []orderbook.Fill `json:"fills"`
	Remaining int64            `json:"remaining"`
}

func (s *Server) submitOrder(w http.ResponseWriter, r *http.Request) {
	session := s.getSession(r)
	if session == nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var req OrderSubmission
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var side orderbook.Side
	switch req.Side {
	case "buy":
		side = orderbook.Buy
	case "sell":
		side = orderbook.Sell
	default:
		http.Error(w, "side must be 'buy' or 'sell'", http.StatusBadRequest)
		return
	}

	var orderType orderbook.OrderType
	switch req.Type {
	case "limit":
		orderType = orderbook.Limit
	case "market":
		orderType = orderbook.Market
	default:
		http.Error(w, "type must be 'limit' or 'market'", http.StatusBadRequest)
		return
	}

	order, fills, err := s.mgr.PlaceOrder(r.Context(), exchange.OrderRequest{
		PortfolioID: session.PortfolioID,
		Symbol:      req.Symbol,
		Side:        side,
		Type:        orderType,
		Price:       req.Price,
		Quantity:    req.Quantity,
	})
	if err != nil {
		s.writeOrderError(w, err)
		return
	}

	s.broadcastBookUpdate(req.Symbol)
	for _, fill := range fills {
		s.hub.Broadcast(map[string]interface{}{
			"type": "trade",
			"fill": fill,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(OrderResponse{
		OrderID:   order.ID,
		Fills:     fills,
		Remaining: order.Remaining(),
	})
}

func (s *Server) writeOrderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, exchange.ErrSessionClosed):
		http.Error(w, "trading session is closed", http.StatusConflict)
	case errors.Is(err, orderbook.ErrNoLiquidity):
		http.Error(w, "no liquidity available", http.StatusUnprocessableEntity)
	case errors.Is(err, exchange.ErrUnknownInstrument):
		http.Error(w, "unknown instrument", http.StatusNotFound)
	case errors.Is(err, exchange.ErrInvalidQuantity), errors.Is(err, exchange.ErrInvalidPrice):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) getOrders(w http.ResponseWriter, r *http.Request) {
	session := s.getSession(r)
	if session == nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	orders := s.mgr.OpenOrders(session.PortfolioID)
	if orders == nil {
		orders = []*orderbook.Order{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(orders)
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	session := s.getSession(r)
	if session == nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	orderID := chi.URLParam(r, "id")
	order, exists := s.mgr.GetOrder(orderID)
	if !exists {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}
	if order.PortfolioID != session.PortfolioID {
		http.Error(w, "you can only cancel your own orders", http.StatusForbidden)
		return
	}

	cancelled := s.mgr.CancelOrder(orderID)
	if cancelled {
		s.broadcastBookUpdate(order.Symbol)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"cancelled": cancelled})
}

type PortfolioResponse struct {
	Username   string             `json:"username"`
	Portfolio  *store.Portfolio   `json:"portfolio"`
	Holdings   []*store.Holding   `json:"holdings"`
	OpenOrders []*orderbook.Order `json:"open_orders"`
}

func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	session := s.getSession(r)
	if session == nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	user, err := s.store.GetUserByID(session.UserID)
	if err != nil {
		http.Error(w, "failed to get user", http.StatusInternalServerError)
		return
	}
	portfolio, err := s.store.GetPortfolioByID(session.PortfolioID)
	if err != nil {
		http.Error(w, "failed to get portfolio", http.StatusInternalServerError)
		return
	}
	holdings, err := s.store.GetHoldings(session.PortfolioID)
	if err != nil {
		http.Error(w, "failed to get holdings", http.StatusInternalServerError)
		return
	}
	if holdings == nil {
		holdings = []*store.Holding{}
	}
	orders := s.mgr.OpenOrders(session.PortfolioID)
	if orders == nil {
		orders = []*orderbook.Order{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(PortfolioResponse{
		Username:   user.Username,
		Portfolio:  portfolio,
		Holdings:   holdings,
		OpenOrders: orders,
	})
}

type InstrumentQuote struct {
	Symbol    string `json:"symbol"`
	Name      string `json:"name"`
	LastClose int64  `json:"last_close"`
	Price     int64  `json:"price"`
	BestBid   int64  `json:"best_bid"`
	BestAsk   int64  `json:"best_ask"`
}

func (s *Server) handleInstruments(w http.ResponseWriter, r *http.Request) {
	instruments, err := s.store.Instruments()
	if err != nil {
		http.Error(w, "failed to list instruments", http.StatusInternalServerError)
		return
	}

	quotes := make([]InstrumentQuote, 0, len(instruments))
	for _, inst := range instruments {
		q := InstrumentQuote{
			Symbol:    inst.Symbol,
			Name:      inst.Name,
			LastClose: inst.LastClose,
		}
		if price, ok := s.mgr.CurrentPrice(inst.Symbol); ok {
			q.Price = price
		} else {
			q.Price = inst.LastClose
		}
		if snap, err := s.mgr.BookSnapshot(inst.Symbol); err == nil {
			if len(snap.Bids) > 0 {
				q.BestBid = snap.Bids[0].Price
			}
			if len(snap.Asks) > 0 {
				q.BestAsk = snap.Asks[0].Price
			}
		}
		quotes = append(quotes, q)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(quotes)
}

func (s *Server) getBook(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	snap, err := s.mgr.BookSnapshot(symbol)
	if err != nil {
		http.Error(w, "unknown instrument", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

func (s *Server) getTrades(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	trades, err := s.store.RecentTransactions(symbol, limit)
	if err != nil {
		http.Error(w, "failed to list trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []*store.Transaction{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trades)
}

func (s *Server) getMarketStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"open": s.gate.IsOpen()})
}

func (s *Server) openMarket(w http.ResponseWriter, r *http.Request) {
	s.gate.Open()
	s.log.Info("trading session opened")
	s.hub.Broadcast(map[string]interface{}{"type": "market", "open": true})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"open": true})
}

func (s *Server) closeMarket(w http.ResponseWriter, r *http.Request) {
	s.gate.Close()

	// Settle each instrument's reference price at the close.
	for _, symbol := range s.mgr.Symbols() {
		price, ok := s.mgr.CurrentPrice(symbol)
		if !ok {
			continue
		}
		if err := s.store.UpdateLastClose(symbol, price); err != nil {
			s.log.Warn("failed to settle close price",
				zap.String("symbol", symbol),
				zap.Error(err))
		}
	}

	s.log.Info("trading session closed")
	s.hub.Broadcast(map[string]interface{}{"type": "market", "open": false})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"open": false})
}

type SimStartRequest struct {
	IntervalMs     int64   `json:"interval_ms"`
	OrdersPerCycle int     `json:"orders_per_cycle"`
	BaseTrend      float64 `json:"base_trend"`
}

func (s *Server) getSimStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.sim.Status())
}

func (s *Server) startSim(w http.ResponseWriter, r *http.Request) {
	cfg := sim.DefaultConfig()
	if r.Body != nil && r.ContentLength != 0 {
		var req SimStartRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.IntervalMs < 0 || req.OrdersPerCycle < 0 {
			http.Error(w, "interval and orders per cycle must not be negative", http.StatusBadRequest)
			return
		}
		if req.BaseTrend < -0.45 || req.BaseTrend > 0.45 {
			http.Error(w, "base trend must be between -0.45 and 0.45", http.StatusBadRequest)
			return
		}
		if req.IntervalMs > 0 {
			cfg.Interval = time.Duration(req.IntervalMs) * time.Millisecond
		}
		if req.OrdersPerCycle > 0 {
			cfg.OrdersPerCycle = req.OrdersPerCycle
		}
		cfg.BaseTrend = req.BaseTrend
	}

	s.sim.Start(cfg)
	s.log.Info("simulator started",
		zap.Duration("interval", cfg.Interval),
		zap.Int("orders_per_cycle", cfg.OrdersPerCycle),
		zap.Float64("base_trend", cfg.BaseTrend))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.sim.Status())
}

func (s *Server) stopSim(w http.ResponseWriter, r *http.Request) {
	s.sim.Stop()
	s.log.Info("simulator stopped")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.sim.Status())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &Client{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	s.hub.Register(client)

	// Send the current state of every book so clients start in sync.
	for _, symbol := range s.mgr.Symbols() {
		if snap, err := s.mgr.BookSnapshot(symbol); err == nil {
			if data, err := json.Marshal(map[string]interface{}{
				"type": "book",
				"book": snap,
			}); err == nil {
				client.send <- data
			}
		}
	}

	go client.WritePump()
	go client.ReadPump()
}

func (s *Server) broadcastBookUpdate(symbol string) {
	snap, err := s.mgr.BookSnapshot(symbol)
	if err != nil {
		return
	}
	s.hub.Broadcast(map[string]interface{}{
		"type": "book",
		"book": snap,
	})
}

// BroadcastBook pushes a book snapshot to all connected clients. The
// simulator wires this in so synthetic flow shows up live.
func (s *Server) BroadcastBook(symbol string) {
	s.broadcastBookUpdate(symbol)
}

// Shutdown stops the session cleanup goroutine and disconnects all
// websocket clients.
func (s *Server) Shutdown() {
	s.sessions.Stop()
	s.hub.Stop()
}
