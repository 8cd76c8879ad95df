package service

import (
	"time"

	"salesync/internal/repository"

	"go.uber.org/zap"
)

// Options 引擎运行参数，零值取默认。
type Options struct {
	Location      *time.Location
	TicketTTL     time.Duration
	LockTTL       time.Duration
	LockWait      time.Duration
	SweepInterval time.Duration
	SweepBatch    int
	// Now 测试时注入时钟。
	Now func() time.Time
}

// Engine 组装全部服务，共用同一套仓储。
type Engine struct {
	Variants *VariantStore
	Mirrors  *MirrorService
	Index    *IndexSync
	Flash    *FlashAdmission
	Groups   *GroupBuyCoordinator
	Orders   *OrderEvents
	Sweeper  *Sweeper
}

func NewEngine(repo *repository.Repository, counter Counter, locker Locker, opt Options, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	now := opt.Now
	if now == nil {
		now = time.Now
	}

	index := NewIndexSync(repo, log.Named("index"))
	e := &Engine{
		Index:    index,
		Variants: NewVariantStore(repo, index, log.Named("variant")),
		Mirrors:  NewMirrorService(repo, index, log.Named("mirror")),
		Flash:    NewFlashAdmission(repo, counter, opt.TicketTTL, opt.Location, log.Named("flash")),
		Groups:   NewGroupBuyCoordinator(repo, index, locker, opt.LockTTL, opt.LockWait, log.Named("group")),
		Orders:   NewOrderEvents(repo, index, opt.Location, log.Named("orders")),
	}
	e.Sweeper = NewSweeper(repo, e.Groups, e.Flash, index, opt.SweepInterval, opt.SweepBatch, opt.Location, log.Named("sweeper"))

	index.now = now
	e.Variants.now = now
	e.Mirrors.now = now
	e.Flash.now = now
	e.Groups.now = now
	e.Orders.now = now
	e.Sweeper.now = now
	return e
}
