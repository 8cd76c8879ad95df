package service

import (
	"context"
	"errors"
	"time"

	"salesync/internal/metrics"
	"salesync/internal/model"
	"salesync/internal/repository"

	"go.uber.org/zap"
)

// Sweeper 定时任务：拼团到期结算、秒杀场次装载票据、活动时间窗边界重算索引。
// 每一步都可以重复执行，失败只记日志，下一轮再试。
type Sweeper struct {
	repo     *repository.Repository
	groups   *GroupBuyCoordinator
	flash    *FlashAdmission
	index    *IndexSync
	interval time.Duration
	batch    int
	loc      *time.Location
	log      *zap.Logger
	now      func() time.Time

	lastEdge time.Time
}

func NewSweeper(repo *repository.Repository, groups *GroupBuyCoordinator, flash *FlashAdmission, index *IndexSync, interval time.Duration, batch int, loc *time.Location, log *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	if loc == nil {
		loc = time.Local
	}
	return &Sweeper{
		repo:     repo,
		groups:   groups,
		flash:    flash,
		index:    index,
		interval: interval,
		batch:    batch,
		loc:      loc,
		log:      log,
		now:      time.Now,
	}
}

// Run 阻塞直到 ctx 结束。
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("sweep tick", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// RunOnce 执行一轮全部任务，返回各任务错误的合集。
func (s *Sweeper) RunOnce(ctx context.Context) error {
	var errs []error
	if _, err := s.SweepGroups(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.PopulateDue(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.WindowEdges(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Sweeper) SweepGroups(ctx context.Context) (SweepReport, error) {
	start := time.Now()
	defer func() { metrics.SweepDuration.WithLabelValues("group_expiry").Observe(time.Since(start).Seconds()) }()

	rep, err := s.groups.SweepExpired(ctx, s.batch)
	if rep.Scanned > 0 {
		s.log.Info("group expiry sweep",
			zap.Int("scanned", rep.Scanned),
			zap.Int("succeeded", rep.Succeeded),
			zap.Int("virtual_filled", rep.VirtualFilled),
			zap.Int("failed", rep.Failed),
			zap.Int("errors", rep.Errors))
	}
	return rep, err
}

// PopulateDue 为正在进行中的秒杀场次装载票据，已装载过的场次不会重复装载。
func (s *Sweeper) PopulateDue(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.SweepDuration.WithLabelValues("flash_populate").Observe(time.Since(start).Seconds()) }()

	now := s.now().In(s.loc)
	acts, err := s.repo.Activities.ListRunning(ctx, model.ChannelFlash, now)
	if err != nil {
		return err
	}
	var errs []error
	for _, a := range acts {
		if !a.Approved {
			continue
		}
		for _, id := range a.TimeslotIDs() {
			slot, err := s.repo.Activities.GetTimeslot(ctx, id)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if slot == nil || !slot.Contains(now) {
				continue
			}
			if _, err := s.flash.PopulateActivity(ctx, a.ID, id, model.ActivityDay(now), true); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// WindowEdges 活动开始/结束时状态会随时间变化而没有任何写操作触发，这里补一次重算；秒杀结束时清空票据。
func (s *Sweeper) WindowEdges(ctx context.Context) error {
	now := s.now()
	since := s.lastEdge
	if since.IsZero() {
		since = now.Add(-s.interval)
	}
	acts, err := s.repo.Activities.ListWindowEdges(ctx, since, now)
	if err != nil {
		return err
	}

	var errs []error
	for i := range acts {
		a := &acts[i]
		key := model.IndexKey{ProductID: a.ProductID, ActivityID: a.ID, Channel: a.Channel}
		if _, err := s.index.Recompute(ctx, key); err != nil {
			errs = append(errs, err)
			continue
		}
		if a.Channel == model.ChannelFlash && a.EndTime.After(since) && !a.EndTime.After(now) {
			if err := s.flash.CloseActivity(ctx, a, model.ActivityDay(a.EndTime.In(s.loc))); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) == 0 {
		s.lastEdge = now
	}
	return errors.Join(errs...)
}
