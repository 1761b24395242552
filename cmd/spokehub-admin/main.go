package main

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/spokehub/pkg/cli"
	"github.com/platinummonkey/spokehub/pkg/storage/postgres"
)

func main() {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if os.Getenv("SPOKEHUB_LOG_LEVEL") == "debug" {
		log.SetLevel(logrus.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand(&cli.Env{
		Out:    os.Stdout,
		Log:    log,
		OpenDB: openDB,
	})

	if err := root.Execute(ctx, os.Args[1:]); err != nil {
		log.WithError(err).Error("Command failed")
		stop()
		os.Exit(1)
	}
}

func openDB(ctx context.Context) (*sql.DB, error) {
	url := os.Getenv("SPOKEHUB_DATABASE_URL")
	if url == "" {
		return nil, errors.New("SPOKEHUB_DATABASE_URL is required")
	}
	return postgres.Open(ctx, postgres.ConnectionConfig{
		URL:             url,
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
		Timeout:         10 * time.Second,
	})
}
