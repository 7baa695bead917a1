package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cfwatch/api/server"
	"cfwatch/internal/alert"
	"cfwatch/internal/cloudflare"
	"cfwatch/internal/config"
	"cfwatch/internal/database"
	"cfwatch/internal/elasticsearch"
	"cfwatch/internal/engine"
	"cfwatch/internal/logger"

	"go.uber.org/zap"
)

var (
	configFile = flag.String("config", "etc/config.yaml", "Path to configuration file")
	version    = "1.0.0"
)

func main() {
	flag.Parse()

	var cfg *config.Config

	// Prefer the config file; fall back to environment variables.
	if _, err := os.Stat(*configFile); err == nil {
		cfg, err = config.LoadFromFile(*configFile)
		if err != nil {
			fmt.Printf("Failed to load config from file: %v\n", err)
			fmt.Println("Falling back to environment variables...")
			cfg = config.Load()
		}
	} else {
		fmt.Println("Config file not found, loading from environment variables...")
		cfg = config.Load()
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logger.Level, cfg.Logger.Output); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting cfwatch",
		zap.String("version", version),
		zap.String("config_file", *configFile),
	)

	if err := database.InitDB(database.Config{
		Driver:   cfg.Database.Driver,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	}); err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}

	logger.Info("Database initialized",
		zap.String("driver", cfg.Database.Driver),
		zap.String("database", cfg.Database.DBName),
	)

	var esClient *elasticsearch.Client
	if cfg.Elasticsearch.Enabled {
		var err error
		esClient, err = elasticsearch.NewClient(cfg.Elasticsearch)
		if err != nil {
			logger.Fatal("Failed to initialize Elasticsearch", zap.Error(err))
		}
		if err := esClient.CreateIndexTemplate(); err != nil {
			logger.Warn("Failed to create index template", zap.Error(err))
		}
	} else {
		logger.Info("Elasticsearch is disabled")
	}

	db := database.GetDB()
	rules := engine.NewRuleStore(db)
	history := engine.NewHistoryStore(db)
	source := cloudflare.NewClient(cfg.Cloudflare)

	opts := []engine.Option{
		engine.WithNotifier(alert.NewFileLog("logs")),
	}
	if cfg.Notify.Enabled {
		dispatcher := alert.NewDispatcher(
			alert.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.Headers),
		)
		opts = append(opts, engine.WithNotifier(dispatcher))
	}
	var esSink *elasticsearch.Sink
	if esClient != nil {
		esSink = elasticsearch.NewSink(esClient)
		opts = append(opts, engine.WithNotifier(esSink))
	}

	eng := engine.New(rules, history, source, engine.Config{
		TickInterval: time.Duration(cfg.Engine.TickIntervalSeconds) * time.Second,
		QueryTimeout: time.Duration(cfg.Engine.QueryTimeoutSeconds) * time.Second,
		Cooldown:     time.Duration(cfg.Engine.CooldownMinutes) * time.Minute,
		Workers:      cfg.Engine.Workers,
	}, opts...)

	if err := eng.Initialize(); err != nil {
		logger.Fatal("Failed to initialize alert engine", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort)
	go func() {
		httpServer := server.NewServer(eng, rules, history, esClient, cfg)
		logger.Info("Starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.Run(httpAddr); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	sig := <-sigChan
	logger.Info("Received signal, shutting down...", zap.String("signal", sig.String()))

	eng.Shutdown()
	if esSink != nil {
		esSink.Close()
	}

	logger.Info("cfwatch stopped")
}
