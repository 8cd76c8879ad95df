package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"salesync/internal/model"
	"salesync/internal/repository"
	"salesync/pkg/redis"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	repo   *repository.Repository
	engine *Engine
	clock  *fakeClock
	mr     *miniredis.Miniredis
	rdb    *rd.Client
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(model.All()...))
	return db
}

// newTestEnv 时钟固定在 2026-10-17 10:00 UTC。
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := &fakeClock{t: time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)}
	repo := repository.New(newTestDB(t))
	engine := NewEngine(repo, redis.NewTicketCounter(rdb, time.Hour), redis.NewLocker(rdb), Options{
		Location:  time.UTC,
		TicketTTL: 24 * time.Hour,
		LockTTL:   2 * time.Second,
		LockWait:  time.Second,
		Now:       clock.Now,
	}, zap.NewNop())
	return &testEnv{repo: repo, engine: engine, clock: clock, mr: mr, rdb: rdb}
}

type fixture struct {
	merchant model.Merchant
	product  model.Product
	variants []model.Variant
}

// seedProduct 一个营业中的商户和一个已审核上架的商品，每个库存值生成一个规格。
func (e *testEnv) seedProduct(t *testing.T, stocks ...int64) fixture {
	t.Helper()
	ctx := context.Background()
	m := model.Merchant{Name: "m", Active: true}
	require.NoError(t, e.repo.Catalog.CreateMerchant(ctx, &m))
	p := model.Product{MerchantID: m.ID, Name: "p", Approved: true, Shown: true, Enabled: true, Rank: 1}
	require.NoError(t, e.repo.Catalog.CreateProduct(ctx, &p))

	inputs := make([]VariantInput, 0, len(stocks))
	for i, s := range stocks {
		inputs = append(inputs, VariantInput{
			OptionSignature: fmt.Sprintf("size=%d", i),
			Stock:           s,
			Price:           int64(1000 + 100*i),
			Cost:            500,
			IsVisible:       true,
		})
	}
	vs, err := e.engine.Variants.SaveProductVariants(ctx, p.ID, inputs)
	require.NoError(t, err)
	return fixture{merchant: m, product: p, variants: vs}
}

// seedActivity 已审核、展示中、时间窗覆盖当前时间的活动。
func (e *testEnv) seedActivity(t *testing.T, productID uint, ch model.Channel, mutate func(a *model.Activity)) *model.Activity {
	t.Helper()
	now := e.clock.Now()
	a := &model.Activity{
		ProductID: productID,
		Channel:   ch,
		Title:     string(ch) + " activity",
		Approved:  true,
		Shown:     true,
		StartTime: now.Add(-time.Hour),
		EndTime:   now.Add(24 * time.Hour),
	}
	if mutate != nil {
		mutate(a)
	}
	require.NoError(t, e.repo.Activities.Create(context.Background(), a))
	return a
}

func (e *testEnv) outbox(t *testing.T, kind EventKind) []model.OutboxEvent {
	t.Helper()
	list, err := e.repo.Outbox.ListByKind(context.Background(), string(kind))
	require.NoError(t, err)
	return list
}

func decodePayload[T any](t *testing.T, ev model.OutboxEvent) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(ev.Payload), &v))
	return v
}

func (e *testEnv) variant(t *testing.T, id uint) model.Variant {
	t.Helper()
	v, err := e.repo.Variants.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, v)
	return *v
}
