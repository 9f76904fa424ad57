package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/npezzotti/go-relay/internal/api"
	"github.com/npezzotti/go-relay/internal/config"
	"github.com/npezzotti/go-relay/internal/database"
	"github.com/npezzotti/go-relay/internal/server"
	"github.com/npezzotti/go-relay/internal/session"
	"github.com/npezzotti/go-relay/internal/stats"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	envFile        string
	addr           string
	storeDriver    string
	dsn            string
	mongoURI       string
	mongoDatabase  string
	signingKey     string
	allowedOrigins stringSliceFlag
	sweepInterval  time.Duration
	presenceTTL    time.Duration
	reactionPolicy string
)

// applyFlags overrides cfg with the flags given on the command line.
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.ServerAddr = addr
		case "store":
			cfg.StoreDriver = storeDriver
		case "dsn":
			cfg.DatabaseDSN = dsn
		case "mongo-uri":
			cfg.MongoURI = mongoURI
		case "mongo-db":
			cfg.MongoDatabase = mongoDatabase
		case "signing-key":
			cfg.SigningSecret = signingKey
		case "allowed-origins":
			cfg.AllowedOrigins = allowedOrigins
		case "sweep-interval":
			cfg.SweepInterval = sweepInterval
		case "presence-ttl":
			cfg.PresenceTTL = presenceTTL
		case "reaction-policy":
			cfg.ReactionPolicy = reactionPolicy
		}
	})

	if cfg.SigningSecret == "" {
		cfg.SigningSecret = defaultSigningKey
	}
}

func openStore(logger *log.Logger, cfg *config.Config) (database.MessageStore, error) {
	switch cfg.StoreDriver {
	case config.StoreMongo:
		return database.NewMongoStore(logger, cfg.MongoURI, cfg.MongoDatabase, cfg.StoreTimeout)
	case config.StorePostgres:
		store, err := database.NewPostgresStore(logger, cfg.DatabaseDSN, cfg.StoreTimeout)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(); err != nil {
			store.Close(context.Background())
			return nil, err
		}
		return store, nil
	default:
		return database.NewMemoryStore(), nil
	}
}

func main() {
	flag.StringVar(&envFile, "env-file", ".env", "file to load environment variables from")
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&storeDriver, "store", config.StoreMemory, "message store: memory, mongo or postgres")
	flag.StringVar(&dsn, "dsn", "", "postgres connection string")
	flag.StringVar(&mongoURI, "mongo-uri", "", "mongodb connection uri")
	flag.StringVar(&mongoDatabase, "mongo-db", "", "mongodb database name")
	flag.StringVar(&signingKey, "signing-key", defaultSigningKey, "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.DurationVar(&sweepInterval, "sweep-interval", server.DefaultSweepInterval, "interval between presence sweeps")
	flag.DurationVar(&presenceTTL, "presence-ttl", server.DefaultPresenceTTL, "inactivity before a presence entry is evicted")
	flag.StringVar(&reactionPolicy, "reaction-policy", server.ReactionsMulti, "reaction policy: multi or single")
	flag.Parse()

	logger := log.New(os.Stderr, "[go-relay] ", log.LstdFlags)

	cfg, err := config.Load(envFile)
	if err != nil {
		logger.Fatal("config:", err)
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal("config:", err)
	}

	store, err := openStore(logger, cfg)
	if err != nil {
		logger.Fatal("store open:", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.StoreTimeout)
		defer cancel()
		if err := store.Close(ctx); err != nil {
			logger.Println("store close:", err)
		}
	}()
	logger.Printf("using %s message store", cfg.StoreDriver)

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	chatServer, err := server.NewChatServer(logger, store, statsUpdater, server.Options{
		SweepInterval:  cfg.SweepInterval,
		PresenceTTL:    cfg.PresenceTTL,
		ReactionPolicy: cfg.ReactionPolicy,
	})
	if err != nil {
		logger.Fatal("new chat server:", err)
	}

	sessions := session.NewIssuer(cfg.SigningKey, 0)
	srv := api.NewGoChatApp(mux, logger, chatServer, store, sessions, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Println("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Println("chat server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
