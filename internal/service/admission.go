package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"salesync/internal/metrics"
	"salesync/internal/model"
	"salesync/internal/repository"
	"salesync/pkg/redis"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Counter 秒杀准入计数器。每个方法都必须是对计数存储的一次原子往返。
type Counter interface {
	Populate(ctx context.Context, key string, n int64, ttl time.Duration) error
	PopulateOnce(ctx context.Context, key string, n int64, ttl time.Duration) (bool, error)
	Reserve(ctx context.Context, key, holdID string) (int64, error)
	Release(ctx context.Context, key, holdID string) (bool, error)
	Count(ctx context.Context, key string) (int64, error)
	Close(ctx context.Context, key string) error
}

// SlotRequest 定位一个票据列表：活动 + SKU + 场次，Day 为空时取当前活动日。
type SlotRequest struct {
	ActivityID uint   `json:"activity_id" form:"activity_id" binding:"required"`
	VariantID  uint   `json:"variant_id" form:"variant_id" binding:"required"`
	TimeslotID uint   `json:"timeslot_id" form:"timeslot_id" binding:"required"`
	Day        string `json:"day" form:"day"`
}

type ReserveRequest struct {
	SlotRequest
	UserID int64  `json:"user_id"`
	HoldID string `json:"hold_id"`
}

// Ticket 抢到的准入资格，HoldID 用于后续释放。
type Ticket struct {
	HoldID    string `json:"hold_id"`
	Key       string `json:"key"`
	Day       string `json:"day"`
	Remaining int64  `json:"remaining"`
}

// PopulateResult 一个镜像 SKU 的装载结果。
type PopulateResult struct {
	ActivityVariantID uint   `json:"activity_variant_id"`
	Key               string `json:"key"`
	Tickets           int64  `json:"tickets"`
	Populated         bool   `json:"populated"`
}

// FlashAdmission 秒杀准入：只校验时间窗，然后一次 EVAL 决定是否放行。
type FlashAdmission struct {
	repo      *repository.Repository
	counter   Counter
	ticketTTL time.Duration
	loc       *time.Location
	log       *zap.Logger
	now       func() time.Time
}

func NewFlashAdmission(repo *repository.Repository, counter Counter, ticketTTL time.Duration, loc *time.Location, log *zap.Logger) *FlashAdmission {
	if loc == nil {
		loc = time.Local
	}
	if ticketTTL <= 0 {
		ticketTTL = 24 * time.Hour
	}
	return &FlashAdmission{repo: repo, counter: counter, ticketTTL: ticketTTL, loc: loc, log: log, now: time.Now}
}

func (f *FlashAdmission) today() string {
	return model.ActivityDay(f.now().In(f.loc))
}

// Reserve 同一个 HoldID 重复请求视为幂等，返回当前余量。
func (f *FlashAdmission) Reserve(ctx context.Context, req ReserveRequest) (*Ticket, error) {
	now := f.now().In(f.loc)
	key, err := f.openSlot(ctx, req.SlotRequest, now)
	if err != nil {
		if errors.Is(err, ErrActivityClosed) {
			metrics.AdmissionTotal.WithLabelValues("closed").Inc()
		}
		return nil, err
	}

	holdID := req.HoldID
	if holdID == "" {
		holdID = uuid.NewString()
	}
	t := &Ticket{HoldID: holdID, Key: key, Day: model.ActivityDay(now)}

	left, err := f.counter.Reserve(ctx, key, holdID)
	switch {
	case err == nil:
		metrics.AdmissionTotal.WithLabelValues("reserved").Inc()
		t.Remaining = left
		return t, nil
	case errors.Is(err, redis.ErrTicketsExhausted):
		metrics.AdmissionTotal.WithLabelValues("exhausted").Inc()
		return nil, fmt.Errorf("%w: %s", ErrExhausted, key)
	case errors.Is(err, redis.ErrDuplicateHold):
		metrics.AdmissionTotal.WithLabelValues("duplicate").Inc()
		t.Remaining, err = f.counter.Count(ctx, key)
		if err != nil {
			return nil, err
		}
		return t, nil
	case errors.Is(err, redis.ErrHoldConflict):
		metrics.AdmissionTotal.WithLabelValues("conflict").Inc()
		return nil, fmt.Errorf("%w: hold %s already used for another slot", ErrInvalidArgument, holdID)
	}
	metrics.AdmissionTotal.WithLabelValues("error").Inc()
	f.log.Error("flash reserve", zap.String("key", key), zap.Int64("user_id", req.UserID), zap.Error(err))
	return nil, err
}

// Release 未支付/取消时归还票据；同一 HoldID 只归还一次，返回是否真正归还。
func (f *FlashAdmission) Release(ctx context.Context, req SlotRequest, holdID string) (bool, error) {
	if holdID == "" {
		return false, fmt.Errorf("%w: hold_id required", ErrInvalidArgument)
	}
	key, err := f.slotKey(ctx, req)
	if err != nil {
		return false, err
	}
	ok, err := f.counter.Release(ctx, key, holdID)
	if err != nil {
		metrics.AdmissionTotal.WithLabelValues("error").Inc()
		return false, err
	}
	if ok {
		metrics.AdmissionTotal.WithLabelValues("released").Inc()
	}
	return ok, nil
}

// Count 仅用于展示剩余名额。
func (f *FlashAdmission) Count(ctx context.Context, req SlotRequest) (int64, error) {
	key, err := f.slotKey(ctx, req)
	if err != nil {
		return 0, err
	}
	return f.counter.Count(ctx, key)
}

// PopulateActivity 按有效剩余库存装载活动全部镜像 SKU 的票据。
// once=true 时已装载过的列表保持不动，供定时任务重复调用。
func (f *FlashAdmission) PopulateActivity(ctx context.Context, activityID, timeslotID uint, day string, once bool) ([]PopulateResult, error) {
	a, err := f.flashActivity(ctx, activityID)
	if err != nil {
		return nil, err
	}
	if !a.HasTimeslot(timeslotID) {
		return nil, fmt.Errorf("%w: activity %d has no timeslot %d", ErrNotFound, activityID, timeslotID)
	}
	if day == "" {
		day = f.today()
	}
	mirrors, err := f.repo.Mirrors.ListByActivity(ctx, activityID)
	if err != nil {
		return nil, err
	}

	out := make([]PopulateResult, 0, len(mirrors))
	for i := range mirrors {
		av := &mirrors[i]
		n, err := effectiveRemainingOf(ctx, f.repo, av, day)
		if err != nil {
			return out, err
		}
		key := redis.TicketKey(activityID, day, av.ProductID, timeslotID, av.Unique)
		res := PopulateResult{ActivityVariantID: av.ID, Key: key, Tickets: n, Populated: true}
		if once {
			res.Populated, err = f.counter.PopulateOnce(ctx, key, n, f.ticketTTL)
		} else {
			err = f.counter.Populate(ctx, key, n, f.ticketTTL)
		}
		if err != nil {
			return out, fmt.Errorf("populate %s: %w", key, err)
		}
		out = append(out, res)
	}
	f.log.Info("flash tickets populated",
		zap.Uint("activity_id", activityID),
		zap.Uint("timeslot_id", timeslotID),
		zap.String("day", day),
		zap.Int("variants", len(out)))
	return out, nil
}

// CloseActivity 活动结束后清空该活动当天全部场次的票据。
func (f *FlashAdmission) CloseActivity(ctx context.Context, a *model.Activity, day string) error {
	mirrors, err := f.repo.Mirrors.ListByActivity(ctx, a.ID)
	if err != nil {
		return err
	}
	var errs []error
	for _, slot := range a.TimeslotIDs() {
		for _, av := range mirrors {
			key := redis.TicketKey(a.ID, day, av.ProductID, slot, av.Unique)
			if err := f.counter.Close(ctx, key); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// openSlot 校验活动与场次都处于开放状态并返回票据 key。
func (f *FlashAdmission) openSlot(ctx context.Context, req SlotRequest, now time.Time) (string, error) {
	a, err := f.flashActivity(ctx, req.ActivityID)
	if err != nil {
		return "", err
	}
	if !a.Approved || a.DeletedAt.Valid || !a.InWindow(now) || !a.HasTimeslot(req.TimeslotID) {
		return "", fmt.Errorf("%w: activity %d", ErrActivityClosed, a.ID)
	}
	slot, err := f.repo.Activities.GetTimeslot(ctx, req.TimeslotID)
	if err != nil {
		return "", err
	}
	if slot == nil || !slot.Contains(now) {
		return "", fmt.Errorf("%w: timeslot %d", ErrActivityClosed, req.TimeslotID)
	}
	av, err := f.mirror(ctx, req)
	if err != nil {
		return "", err
	}
	return redis.TicketKey(a.ID, model.ActivityDay(now), av.ProductID, req.TimeslotID, av.Unique), nil
}

func (f *FlashAdmission) slotKey(ctx context.Context, req SlotRequest) (string, error) {
	av, err := f.mirror(ctx, req)
	if err != nil {
		return "", err
	}
	day := req.Day
	if day == "" {
		day = f.today()
	}
	return redis.TicketKey(req.ActivityID, day, av.ProductID, req.TimeslotID, av.Unique), nil
}

func (f *FlashAdmission) mirror(ctx context.Context, req SlotRequest) (*model.ActivityVariant, error) {
	av, err := f.repo.Mirrors.GetByActivityVariant(ctx, req.ActivityID, req.VariantID)
	if err != nil {
		return nil, err
	}
	if av == nil {
		return nil, fmt.Errorf("%w: variant %d in activity %d", ErrNotFound, req.VariantID, req.ActivityID)
	}
	return av, nil
}

func (f *FlashAdmission) flashActivity(ctx context.Context, id uint) (*model.Activity, error) {
	a, err := f.repo.Activities.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil || a.Channel != model.ChannelFlash {
		return nil, fmt.Errorf("%w: flash activity %d", ErrNotFound, id)
	}
	return a, nil
}
