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

	_ "github.com/lib/pq"
	"github.com/thnx4playing/msgdrop/internal/api"
	"github.com/thnx4playing/msgdrop/internal/config"
	"github.com/thnx4playing/msgdrop/internal/database"
	"github.com/thnx4playing/msgdrop/internal/media"
	"github.com/thnx4playing/msgdrop/internal/notify"
	"github.com/thnx4playing/msgdrop/internal/server"
	"github.com/thnx4playing/msgdrop/internal/stats"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	dsn            string
	signingKey     string
	unlockCodeHash string
	mediaDir       string
	allowedOrigins stringSliceFlag
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&dsn, "dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable", "database connection string")
	flag.StringVar(&signingKey, "signing-key", os.Getenv("MSGDROP_SIGNING_KEY"), "base64 encoded signing key")
	flag.StringVar(&unlockCodeHash, "unlock-code-hash", os.Getenv("MSGDROP_UNLOCK_CODE_HASH"), "bcrypt hash of the unlock code")
	flag.StringVar(&mediaDir, "media-dir", "media", "directory for stored media blobs")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[msgdrop] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dsn, signingKey, unlockCodeHash, mediaDir, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}

	dbConn, err := database.NewPgMsgDropRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Fatal("db close:", err)
		}
	}()

	blobs, err := media.NewDirStore(cfg.MediaDir)
	if err != nil {
		logger.Fatal("media store:", err)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	notifier := notify.NewDebouncer(notify.Nop{})

	dropServer, err := server.NewMsgDropServer(logger, dbConn, blobs, notifier, statsUpdater)
	if err != nil {
		logger.Fatal("new drop server:", err)
	}

	srv := api.NewMsgDropApp(mux, logger, dropServer, dbConn, blobs, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go dropServer.Run()

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

	logger.Println("shutting down drop server...")
	if err := dropServer.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("drop server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
