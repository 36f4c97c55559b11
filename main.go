package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	bidding "auction-engine/internal/biddingService"
	"auction-engine/internal/config"
	"auction-engine/internal/gateway"
	"auction-engine/internal/metrics"
	"auction-engine/internal/notifier"
	"auction-engine/internal/orders"
	"auction-engine/internal/repository"
	"auction-engine/internal/server"
	"auction-engine/internal/statemachine"
	"auction-engine/internal/sweeper"
	"auction-engine/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		utils.Fatal("failed to load configuration", map[string]any{"error": err.Error()})
	}
	utils.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		utils.Fatal("auction engine stopped with error", map[string]any{"error": err.Error()})
	}
	utils.Info("auction engine stopped", nil)
}

func run(ctx context.Context, cfg config.Config) error {
	db, err := openStore(cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	machine := statemachine.NewMachine(db, statemachine.Settings{
		ExtensionWindow: cfg.ExtensionWindow,
		MaxRetries:      cfg.MaxBidRetries,
	})

	g, gctx := errgroup.WithContext(ctx)

	hub := gateway.NewHub(m)
	var broadcaster bidding.Broadcaster = hub
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		relay := gateway.NewRedisRelay(rdb, hub, gateway.DefaultChannel)
		broadcaster = relay
		g.Go(func() error { return relay.Run(gctx) })
		utils.Info("relaying auction events through redis", map[string]any{"addr": cfg.RedisAddr})
	}

	var notify bidding.Notifier = notifier.LogNotifier{}
	if cfg.AMQPURL != "" {
		conn, amqpNotifier, err := notifier.DialAMQP(cfg.AMQPURL, cfg.NotifyExchange)
		if err != nil {
			return err
		}
		defer conn.Close()
		async := notifier.NewAsync(amqpNotifier, 0)
		notify = async
		g.Go(func() error { return async.Run(gctx) })
		utils.Info("publishing notifications to amqp", map[string]any{"exchange": cfg.NotifyExchange})
	}

	var orderCreator bidding.OrderCreator = orders.NewMemoryCreator()
	if cfg.OrderServiceURL != "" {
		orderCreator = orders.NewHTTPCreator(cfg.OrderServiceURL, &http.Client{Timeout: 10 * time.Second})
	} else {
		utils.Warn("ORDER_SERVICE_URL not set, orders are kept in memory", nil)
	}

	service := bidding.NewBiddingService(machine, broadcaster, notify, orderCreator, bidding.WithMetrics(m))

	sw, err := sweeper.New(service, sweeper.Settings{
		Interval:        cfg.SweepInterval,
		ArchiveSchedule: cfg.ArchiveSchedule,
		Retention:       cfg.RetentionWindow,
	}, m)
	if err != nil {
		return err
	}
	g.Go(func() error { return sw.Run(gctx) })

	router := server.SetupRouter(service, hub, server.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		Gatherer:       reg,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		utils.Info("starting auction server", map[string]any{
			"port":         cfg.Port,
			"store_driver": cfg.StoreDriver,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openStore(cfg config.Config) (repository.AuctionDB, error) {
	if cfg.StoreDriver != config.DriverMySQL {
		utils.Warn("using in-memory auction store, state is lost on restart", nil)
		return repository.NewMemoryRepo(), nil
	}
	gdb, err := repository.OpenMySQL(cfg.MySQLDSN)
	if err != nil {
		return nil, err
	}
	return repository.NewGormRepo(gdb), nil
}
