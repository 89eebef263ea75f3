package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aevon-lab/klaviyo-sync/internal/aggregation"
	corecfg "github.com/aevon-lab/klaviyo-sync/internal/core/config"
	"github.com/aevon-lab/klaviyo-sync/internal/klaviyo"
	"github.com/aevon-lab/klaviyo-sync/internal/server"
	"github.com/aevon-lab/klaviyo-sync/internal/syncer"
	"github.com/aevon-lab/klaviyo-sync/internal/warehouse"
	"github.com/aevon-lab/klaviyo-sync/internal/warehouse/bigquery"
	"github.com/aevon-lab/klaviyo-sync/internal/warehouse/clickhouse"
	"github.com/aevon-lab/klaviyo-sync/internal/warehouse/postgres"
)

func main() {
	configPath := flag.String("config", "klaviyo-sync.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to an optional dotenv file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath, *envFile)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config",
		"warehouse", cfg.Warehouse.Type,
		"message_id", cfg.Report.MessageID,
		"window", cfg.Report.WindowStart+"/"+cfg.Report.WindowEnd,
	)

	loc, err := cfg.Report.Location()
	if err != nil {
		slog.Error("Invalid report timezone", "value", cfg.Report.Timezone, "error", err)
		os.Exit(1)
	}
	window, err := cfg.Report.Window()
	if err != nil {
		slog.Error("Invalid report window", "error", err)
		os.Exit(1)
	}
	timeout, err := time.ParseDuration(cfg.Klaviyo.Timeout)
	if err != nil {
		slog.Error("Invalid klaviyo timeout", "value", cfg.Klaviyo.Timeout, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Initialize Warehouse
	wh, closeWarehouse, err := openWarehouse(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize warehouse", "type", cfg.Warehouse.Type, "error", err)
		os.Exit(1)
	}
	defer closeWarehouse()

	// 3. Initialize Klaviyo client and aggregation pass
	client := klaviyo.NewClient(cfg.Klaviyo.BaseURL, cfg.Klaviyo.EffectiveAPIKey(),
		klaviyo.WithTimeout(timeout),
		klaviyo.WithRevision(cfg.Klaviyo.Revision),
		klaviyo.WithRateLimit(cfg.Klaviyo.RequestsPerSecond, cfg.Klaviyo.Burst),
	)
	agg := aggregation.NewAggregator(client, aggregation.Options{
		MessageID:         cfg.Report.MessageID,
		Window:            window,
		Interval:          cfg.Report.Interval,
		SubscriberSegment: cfg.Report.SubscriberSegment,
	})

	// 4. Initialize Sync service
	svc := syncer.NewService(agg, warehouse.NewReconciler(wh), loc)

	// 5. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), wh, cfg.Warehouse.Type, cfg.Server.Mode)
	svc.RegisterRoutes(srv.Engine)

	// 6. Start Services
	if cfg.Scheduler.Enabled {
		interval, err := time.ParseDuration(cfg.Scheduler.Interval)
		if err != nil {
			slog.Error("Invalid scheduler interval", "value", cfg.Scheduler.Interval, "error", err)
			os.Exit(1)
		}
		scheduler := syncer.NewScheduler(interval, svc, cfg.Scheduler.RunOnStart)
		go func() {
			if err := scheduler.Start(ctx); err != nil {
				slog.Error("Scheduler stopped with error", "error", err)
			}
		}()
	} else {
		slog.Info("Sync scheduler disabled by config")
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}

// openWarehouse builds the configured backend and a func releasing its connections.
func openWarehouse(ctx context.Context, cfg *corecfg.Config) (warehouse.Warehouse, func(), error) {
	switch cfg.Warehouse.Type {
	case corecfg.WarehousePostgres:
		db, err := postgres.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
		if err != nil {
			return nil, nil, err
		}
		return postgres.New(db), func() { db.Close() }, nil

	case corecfg.WarehouseBigQuery:
		wh, err := bigquery.New(ctx, bigquery.Config{
			ProjectID:       cfg.BigQuery.ProjectID,
			Dataset:         cfg.BigQuery.Dataset,
			Table:           cfg.Warehouse.Table,
			Location:        cfg.BigQuery.Location,
			CredentialsFile: cfg.BigQuery.CredentialsFile,
		})
		if err != nil {
			return nil, nil, err
		}
		return wh, func() { wh.Close() }, nil

	case corecfg.WarehouseClickHouse:
		conn, err := clickhouse.Open(ctx, cfg.ClickHouse.DSN)
		if err != nil {
			return nil, nil, err
		}
		return clickhouse.New(conn, cfg.Warehouse.Table), func() { conn.Close() }, nil

	case corecfg.WarehouseMemory:
		slog.Warn("Using in-memory warehouse; rows are lost on restart")
		return warehouse.NewMemory(cfg.Warehouse.Table), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unsupported warehouse type %q", cfg.Warehouse.Type)
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
