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

	"github.com/npezzotti/go-chatserver/internal/api"
	"github.com/npezzotti/go-chatserver/internal/config"
	"github.com/npezzotti/go-chatserver/internal/database"
	"github.com/npezzotti/go-chatserver/internal/server"
	"github.com/npezzotti/go-chatserver/internal/stats"
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
	addr              string
	mongoURI          string
	dbName            string
	signingKey        string
	reconcileInterval time.Duration
	allowedOrigins    stringSliceFlag
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&mongoURI, "mongo-uri", "mongodb://localhost:27017", "mongodb connection URI")
	flag.StringVar(&dbName, "db-name", "chatserver", "mongodb database name")
	flag.StringVar(&signingKey, "signing-key", defaultSigningKey, "base64 encoded signing key")
	flag.DurationVar(&reconcileInterval, "reconcile-interval", config.DefaultReconcileInterval, "seen-state reconciliation interval")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[chat-server] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, mongoURI, dbName, signingKey, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}
	cfg.ReconcileInterval = reconcileInterval

	connectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	repo, err := database.NewMongoChatRepository(connectCtx, cfg.MongoURI, cfg.DatabaseName)
	cancel()
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := repo.Close(context.Background()); err != nil {
			logger.Println("db close:", err)
		}
	}()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	chatServer, err := server.NewChatServer(logger, repo, statsUpdater, cfg)
	if err != nil {
		logger.Fatal("new chat server:", err)
	}

	srv := api.NewChatApp(mux, logger, chatServer, repo, cfg)

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
		logger.Fatalln("HTTP server shutdown:", err)
	}

	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("chat server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
