package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"angelone_tickstream/angel"
	"angelone_tickstream/catalog"
	"angelone_tickstream/config"
	"angelone_tickstream/db"
	"angelone_tickstream/monitoring"
	"angelone_tickstream/pipeline"
	"angelone_tickstream/publisher"
	"angelone_tickstream/resolver"
	"angelone_tickstream/subscription"
	"angelone_tickstream/utils"
	"angelone_tickstream/ws"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger, err := utils.InitLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		utils.Error(err, "Tick stream stopped")
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("Tick stream stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) error {
	exchange, _ := cfg.ExchangeType()
	mode, _ := cfg.SubscriptionMode()

	// Resolve the instance's tokens
	cat, err := catalog.LoadFile(cfg.Stream.InstrumentsFile)
	if err != nil {
		return err
	}
	res := resolver.New()
	tokens, invalid, err := cat.Subscribe(res, exchange, cfg.Stream.Symbols,
		cfg.Stream.InstanceNumber, cfg.Stream.TokensPerInstance)
	if len(invalid) > 0 {
		logger.Warnw("Invalid symbols discarded for subscription", "symbols", invalid)
	}
	if err != nil {
		return err
	}
	logger.Infow("Instruments loaded",
		"catalog", cat.Len(),
		"instance", cfg.Stream.InstanceNumber,
		"tokens", len(tokens),
		"exchange", exchange.String(),
		"mode", mode.String())

	creds, err := credentials(ctx, cfg)
	if err != nil {
		return err
	}

	sink, sinkCheck, closeSink, err := openSink(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeSink(); err != nil {
			utils.Error(err, "Failed to close sink")
		}
	}()

	emitter := pipeline.NewEmitter(res, sink, pipeline.Options{Source: pipeline.DefaultSource}, logger)
	registry := subscription.NewRegistry(res)
	client, err := ws.NewClient(ws.Options{
		URL:               cfg.Stream.URL,
		Name:              fmt.Sprintf("smartapi-%d", cfg.Stream.InstanceNumber),
		CorrelationID:     cfg.Stream.CorrelationID,
		HeartbeatInterval: cfg.Stream.HeartbeatInterval,
		HeartbeatTimeout:  cfg.Stream.HeartbeatTimeout,
		HandshakeTimeout:  cfg.Stream.HandshakeTimeout,
		ReadTimeout:       cfg.Stream.ReadTimeout,
	}, creds, registry, emitter, logger)
	if err != nil {
		return err
	}

	// Registered now, sent on every connect
	list := make([]string, 0, len(tokens))
	for token := range tokens {
		list = append(list, token)
	}
	sort.Strings(list)
	if _, err := client.Subscribe(exchange, mode, list); err != nil && !errors.Is(err, ws.ErrNotConnected) {
		return err
	}

	health := monitoring.NewHealth()
	health.Register("websocket", func() error {
		if s := client.State(); s != ws.StateConnected {
			return fmt.Errorf("connection %s", s)
		}
		return nil
	})
	health.Register("sink", sinkCheck)
	monitoring.StartRuntimeCollection(ctx, 5*time.Second)

	mux := http.NewServeMux()
	mux.Handle("/health", health)
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              cfg.App.HTTPAddr,
		Handler:           utils.RequestLogger(monitoring.Instrument(mux)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Error(err, "Metrics server error")
		}
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-client.Errors():
				logger.Debugw("Connection error", "error", err)
			}
		}
	}()

	err = ws.RunWithReconnect(ctx, client, utils.NewExponentialBackoff(cfg), logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		utils.Error(serr, "Metrics server shutdown")
	}
	return err
}

// credentials uses pre-issued tokens when configured, otherwise logs in.
func credentials(ctx context.Context, cfg *config.Config) (ws.Credentials, error) {
	creds := ws.Credentials{
		AuthToken:  cfg.Angel.AuthToken,
		APIKey:     cfg.Angel.APIKey,
		ClientCode: cfg.Angel.ClientCode,
		FeedToken:  cfg.Angel.FeedToken,
	}
	if cfg.HasSessionTokens() {
		return creds, nil
	}

	session, err := angel.Authenticate(ctx, angel.AuthConfig{
		LoginURL:       cfg.Angel.LoginURL,
		ClientCode:     cfg.Angel.ClientCode,
		PIN:            cfg.Angel.PIN,
		TOTP:           cfg.Angel.TOTP,
		APIKey:         cfg.Angel.APIKey,
		ClientLocalIP:  cfg.Angel.ClientLocalIP,
		ClientPublicIP: cfg.Angel.ClientPublicIP,
		MACAddress:     cfg.Angel.MACAddress,
	})
	if err != nil {
		return creds, fmt.Errorf("authentication failed: %w", err)
	}
	creds.AuthToken = session.JwtToken
	creds.FeedToken = session.FeedToken
	return creds, nil
}

func openSink(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (pipeline.Sink, monitoring.Check, func() error, error) {
	switch cfg.Sink.Kind {
	case config.SinkClickHouse:
		chdb, err := db.NewClickHouseDB(ctx, cfg, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		batcher := db.NewTickBatcher(chdb, db.BatcherOptions{
			BufferSize:    cfg.App.BufferSize,
			BatchSize:     cfg.App.BatchSize,
			FlushInterval: cfg.App.FlushInterval,
			InsertTimeout: cfg.ClickHouse.QueryTimeout,
		}, logger)
		check := func() error { return chdb.Ping(context.Background()) }
		closer := func() error {
			err := batcher.Close()
			stats := batcher.Stats()
			logger.Infow("ClickHouse sink closed",
				"queued", stats.Queued,
				"flushed", stats.Flushed,
				"dropped", stats.Dropped,
				"failed_batches", stats.FailedBatches)
			return errors.Join(err, chdb.Close())
		}
		return batcher, check, closer, nil

	case config.SinkNATS:
		pub, err := publisher.NewNATSPublisher(publisher.Config{
			URL:           cfg.NATS.URL,
			Name:          cfg.NATS.Name,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
		}, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		check := func() error {
			if !pub.Connected() {
				return errors.New("nats disconnected")
			}
			return nil
		}
		return pub, check, pub.Close, nil
	}

	return pipeline.NewWriterSink(os.Stdout), func() error { return nil }, func() error { return nil }, nil
}
