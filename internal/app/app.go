package app

import (
	"context"
	"fmt"
	"time"

	"salesync/internal/config"
	"salesync/internal/model"
	"salesync/internal/repository"
	"salesync/internal/service"
	"salesync/pkg/redis"

	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// App server 与 ops 共用的依赖：数据库、Redis 与组装好的引擎。
type App struct {
	DB     *gorm.DB
	Redis  *rd.Client
	Repo   *repository.Repository
	Engine *service.Engine
}

// New 连接 SQLite（自动建表）与 Redis，并组装引擎。
func New(ctx context.Context, cfg config.AppConfig, log *zap.Logger) (*App, error) {
	gormLog := logger.Default.LogMode(logger.Warn)
	if !cfg.IsDev() {
		gormLog = logger.Default.LogMode(logger.Error)
	}
	db, err := gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	if err := db.AutoMigrate(model.All()...); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}

	rdb := rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	repo := repository.New(db)
	engine := service.NewEngine(repo, redis.NewTicketCounter(rdb, cfg.HoldTTL), redis.NewLocker(rdb), service.Options{
		Location:      cfg.Location,
		TicketTTL:     cfg.TicketTTL,
		LockTTL:       cfg.GroupLockTTL,
		LockWait:      cfg.GroupLockWait,
		SweepInterval: cfg.SweepInterval,
		SweepBatch:    cfg.SweepBatch,
	}, log)

	return &App{DB: db, Redis: rdb, Repo: repo, Engine: engine}, nil
}

func (a *App) Close() {
	_ = a.Redis.Close()
	if sqlDB, err := a.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
