package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/hwrig/testbed/core/config"
	"github.com/hwrig/testbed/core/logger"
	"github.com/hwrig/testbed/core/router"
	"github.com/hwrig/testbed/core/server"
	"github.com/hwrig/testbed/coordinator"
	"github.com/hwrig/testbed/coordinator/httpapi"
	"github.com/hwrig/testbed/coordinator/mongoarchive"
	"github.com/hwrig/testbed/coordinator/pgstore"
	"github.com/hwrig/testbed/coordinator/postmarknotifier"
	"github.com/hwrig/testbed/coordinator/rediscache"
	"github.com/hwrig/testbed/integration/database/mongo"
	"github.com/hwrig/testbed/integration/database/pg"
	"github.com/hwrig/testbed/integration/database/redis"
	"github.com/hwrig/testbed/integration/email/postmark"
	"github.com/hwrig/testbed/integration/storage/s3"
	"github.com/hwrig/testbed/pkg/jwt"
	"github.com/hwrig/testbed/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg Config
	config.MustLoad(&cfg)

	log := logger.New(logger.WithDevelopment(cfg.AppName))

	db, err := pg.Connect(ctx, cfg.DB)
	if err != nil {
		log.Error("failed to connect to database", logger.Error(err))
		os.Exit(1)
	}

	redisClient, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		log.Error("failed to connect to redis", logger.Error(err))
		os.Exit(1)
	}

	var archive coordinator.TelemetryArchive
	if cfg.MongoEnabled {
		mongoDB, err := mongo.NewWithDatabase(ctx, cfg.Mongo, cfg.MongoDBName)
		if err != nil {
			log.Error("failed to connect to mongodb", logger.Error(err))
			os.Exit(1)
		}
		archive = mongoarchive.New(mongoDB)
	}

	emailSender, err := postmark.New(cfg.Postmark)
	if err != nil {
		log.Error("failed to configure email sender", logger.Error(err))
		os.Exit(1)
	}

	s3Backend, err := s3.New(ctx, cfg.S3)
	if err != nil {
		log.Error("failed to configure output storage", logger.Error(err))
		os.Exit(1)
	}

	tokens, err := jwt.NewFromString(cfg.JWTSecret)
	if err != nil {
		log.Error("failed to configure token verifier", logger.Error(err))
		os.Exit(1)
	}

	store := pgstore.New(db)
	users := pgstore.NewUserDirectory(db)
	notifier := postmarknotifier.New(emailSender, users)
	receiverCache := rediscache.New(redisClient)
	outputStore := storage.Store(storage.NewS3Store(s3Backend))

	dispatcher := coordinator.New(store, notifier, receiverCache, archive, log.With("component", "dispatcher"))

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		dispatcher.Serve(ctx)
		return nil
	})

	r := router.New[*router.Context](
		router.WithLogger[*router.Context](log),
	)
	httpapi.Mount(r, httpapi.Deps{
		Dispatcher: dispatcher,
		Jobs:       store,
		Store:      outputStore,
		Tokens:     tokens,
		Log:        log.With("component", "httpapi"),
	})

	srv, err := server.NewFromConfig(cfg.Server)
	if err != nil {
		log.Error("failed to create server", logger.Error(err))
		os.Exit(1)
	}
	eg.Go(srv.Run(ctx, r))

	if err := eg.Wait(); err != nil {
		log.Error("coordinator stopped with error", logger.Error(err))
		os.Exit(1)
	}

	log.Info("coordinator stopped")
}
