package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"bourse/internal/api"
	"bourse/internal/exchange"
	"bourse/internal/sim"
	"bourse/internal/store"
)

func main() {
	port := flag.String("port", "8088", "server port")
	dbPath := flag.String("db", "bourse.db", "SQLite database path")
	corsOrigins := flag.String("cors", "", "comma-separated allowed CORS origins (empty = allow all for dev)")
	simInterval := flag.Duration("sim-interval", 5*time.Second, "simulator tick interval")
	simOrders := flag.Int("sim-orders", 4, "synthetic orders per simulator tick")
	simTrend := flag.Float64("sim-trend", 0, "baseline market drift, -0.45 to 0.45")
	simAuto := flag.Bool("sim-auto", true, "start the market simulator on boot")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	var logger *zap.Logger
	var err error
	if *debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	st, err := store.New(*dbPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	if err := st.SeedInstruments(); err != nil {
		logger.Fatal("failed to seed instruments", zap.Error(err))
	}

	instruments, err := st.Instruments()
	if err != nil {
		logger.Fatal("failed to load instruments", zap.Error(err))
	}
	symbols := make([]string, 0, len(instruments))
	for _, inst := range instruments {
		symbols = append(symbols, inst.Symbol)
	}

	gate := exchange.NewSessionGate()
	mgr := exchange.NewManager(gate, st, symbols, logger.Named("exchange"))
	simulator := sim.New(mgr, mgr, st, logger.Named("sim"))

	server := api.NewServer(mgr, simulator, st, gate, logger.Named("api"))

	if *corsOrigins != "" {
		origins := strings.Split(*corsOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		server.SetCORSOrigins(origins)
		logger.Info("CORS restricted", zap.Strings("origins", origins))
	}

	if *simAuto {
		simulator.Start(sim.Config{
			Interval:       *simInterval,
			OrdersPerCycle: *simOrders,
			BaseTrend:      *simTrend,
		})
	}

	addr := ":" + *port
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Router(),
	}

	go func() {
		logger.Info("starting exchange server",
			zap.String("addr", addr),
			zap.String("db", *dbPath),
			zap.Strings("symbols", symbols))

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	simulator.Stop()
	server.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("HTTP server shutdown error", zap.Error(err))
	}

	if err := st.Close(); err != nil {
		logger.Warn("database close error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
