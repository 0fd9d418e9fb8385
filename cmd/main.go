package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"beverage_dispenser/internal/config"
	"beverage_dispenser/internal/handlers"
	"beverage_dispenser/internal/hardware"
	"beverage_dispenser/internal/housekeeping"
	"beverage_dispenser/internal/logger"
	"beverage_dispenser/internal/metrics"
	"beverage_dispenser/internal/repository"
	"beverage_dispenser/internal/repository/db"
	"beverage_dispenser/internal/server"
	"beverage_dispenser/internal/service"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default configs/config.yml)")
	flag.Parse()

	// load config.yml
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Get(logger.InfoLevel).Fatalw("error reading config", "err", err)
	}

	// init logger
	log := logger.Get(cfg.Log.Level)
	defer func() { _ = log.Sync() }()

	// open DB
	conn, err := db.InitDB(cfg.DB.Path)
	if err != nil {
		log.Fatalw("failed to init sqlite", "err", err, "path", cfg.DB.Path)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			log.Errorw("failed to close sqlite", "err", cerr)
		}
	}()

	profiles, err := service.LoadProfilesFile(cfg.Beverages.File)
	if err != nil {
		log.Fatalw("failed to load beverage catalogue", "err", err, "file", cfg.Beverages.File)
	}

	metrics.Init()

	// context for background goroutines
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// start simulator rig
	rig := hardware.NewRig(cfg.Hardware.Sim.RigConfig)
	go rig.Run(ctx, cfg.Hardware.Sim.Tick)

	// wire dependencies
	repos := repository.NewRepository(conn)
	services := service.NewService(repos, service.Hardware{
		Flow:     rig.FlowHardware(),
		Feeder:   rig.FeederHardware(),
		Conveyor: rig.ConveyorHardware(),
		Monitor:  rig.MonitorHardware(),
	}, profiles, cfg.Station(), log)

	if err := services.InitializeSystem(ctx); err != nil {
		log.Fatalw("station initialization failed", "err", err)
	}

	jobs, err := housekeeping.New(cfg.Housekeeping, services.Controller, services.EventLog, log)
	if err != nil {
		log.Fatalw("failed to schedule housekeeping", "err", err)
	}
	jobs.Start()

	apiHandler := handlers.NewHandler(services, log, handlers.WithStreamInterval(cfg.Server.StreamInterval))

	// start HTTP server
	srv := server.New(server.Timeouts{
		ReadHeader: cfg.Server.ReadHeaderTimeout,
		Write:      cfg.Server.WriteTimeout,
		Idle:       cfg.Server.IdleTimeout,
	})
	runHTTPServer(srv, cfg.Server.Port, apiHandler, log)

	// graceful shutdown
	waitForShutdown(cancel, srv, services, jobs, cfg.Server.ShutdownTimeout, log)
}

// runHTTPServer runs the HTTP server in a separate goroutine.
func runHTTPServer(srv *server.Server, port string, handler *handlers.Handler, log *logger.Logger) {
	go func() {
		log.Infow("http_server_started", "port", port)
		if err := srv.Run(port, handler.InitRoutes()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("error starting server", "err", err)
		}
	}()
}

// waitForShutdown listens for termination signals and stops the HTTP server,
// the station and the background jobs in that order.
func waitForShutdown(cancel context.CancelFunc, srv *server.Server, services *service.Service,
	jobs *housekeeping.Scheduler, timeout time.Duration, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server...")

	ctx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	// allow in-flight requests to complete
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("server forced to shutdown", "err", err)
	}

	// closes the valve, stops the belt and persists the counters
	if err := services.Shutdown(ctx); err != nil {
		log.Errorw("station shutdown incomplete", "err", err)
	}

	if err := jobs.Stop(ctx); err != nil {
		log.Errorw("housekeeping stop incomplete", "err", err)
	}

	// stop the simulator
	cancel()
	log.Infow("shutdown complete")
}
