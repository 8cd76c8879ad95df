package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"salesync/internal/app"
	"salesync/internal/config"
	"salesync/internal/logger"
	"salesync/internal/queue"
	"salesync/internal/router"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := logger.Init(cfg.IsDev()); err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.L()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("bootstrap failed", zap.Error(err))
	}
	defer a.Close()

	if !cfg.IsDev() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	router.Setup(r, a.Engine, a.Redis, cfg, log)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		a.Engine.Sweeper.Run(gctx)
		return nil
	})

	if cfg.KafkaDisabled {
		log.Warn("kafka disabled: outbox events stay pending, order events only via webhook")
	} else {
		producer := queue.NewProducer(cfg.KafkaBrokers, cfg.EventTopic)
		defer producer.Close()
		relay := queue.NewRelay(a.Repo.Outbox, producer, cfg.RelayInterval, log.Named("relay"))
		g.Go(func() error {
			relay.Run(gctx)
			return nil
		})

		consumer := queue.NewConsumer(cfg.KafkaBrokers, cfg.OrderTopic, cfg.OrderGroupID, a.Engine.Orders, log.Named("consumer"))
		defer consumer.Close()
		g.Go(func() error {
			consumer.Run(gctx)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
	log.Info("server stopped")
}
