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

	"go.uber.org/zap"
)

// Locker 命名互斥锁，拼团按活动加锁。
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

type JoinRequest struct {
	ActivityID uint   `json:"activity_id" binding:"required"`
	GroupID    uint   `json:"group_id"` // 0 表示开新团
	UserID     int64  `json:"user_id" binding:"required"`
	OrderID    string `json:"order_id" binding:"required"`
}

// GroupView 拼团详情：实例 + 全部参团记录。
type GroupView struct {
	model.GroupBuyInstance
	Participants []model.GroupBuyParticipant `json:"participants"`
}

// SweepReport 一轮到期扫描的统计。
type SweepReport struct {
	Scanned       int `json:"scanned"`
	Succeeded     int `json:"succeeded"`
	VirtualFilled int `json:"virtual_filled"`
	Failed        int `json:"failed"`
	Skipped       int `json:"skipped"`
	Errors        int `json:"errors"`
}

// GroupBuyCoordinator 拼团状态机的执行者：加锁、读取快照、调用纯迁移函数、同事务落库与写 outbox。
type GroupBuyCoordinator struct {
	repo     *repository.Repository
	index    *IndexSync
	locker   Locker
	lockTTL  time.Duration
	lockWait time.Duration
	log      *zap.Logger
	now      func() time.Time
}

func NewGroupBuyCoordinator(repo *repository.Repository, index *IndexSync, locker Locker, lockTTL, lockWait time.Duration, log *zap.Logger) *GroupBuyCoordinator {
	if lockTTL <= 0 {
		lockTTL = 5 * time.Second
	}
	if lockWait <= 0 {
		lockWait = 3 * time.Second
	}
	return &GroupBuyCoordinator{
		repo:     repo,
		index:    index,
		locker:   locker,
		lockTTL:  lockTTL,
		lockWait: lockWait,
		log:      log,
		now:      time.Now,
	}
}

// Join 团不存在、已结束或已过期时以该用户为团长开新团，否则加入并立即检查是否成团。
func (s *GroupBuyCoordinator) Join(ctx context.Context, req JoinRequest) (*GroupView, error) {
	if req.UserID <= 0 || req.OrderID == "" {
		return nil, fmt.Errorf("%w: user_id and order_id required", ErrInvalidArgument)
	}
	a, err := s.repo.Activities.Get(ctx, req.ActivityID)
	if err != nil {
		return nil, err
	}
	if a == nil || a.Channel != model.ChannelGroup {
		return nil, fmt.Errorf("%w: group activity %d", ErrNotFound, req.ActivityID)
	}
	if !a.Approved || a.DeletedAt.Valid || !a.InWindow(s.now()) {
		return nil, fmt.Errorf("%w: activity %d", ErrActivityClosed, a.ID)
	}
	if a.TargetCount < 1 {
		return nil, fmt.Errorf("%w: activity %d has no target count", ErrInvalidArgument, a.ID)
	}

	unlock, err := s.lock(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		groupID uint
		status  model.GroupStatus
	)
	err = s.retry(func() error {
		var err error
		groupID, status, err = s.join(ctx, a, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	if status == model.GroupSucceeded {
		metrics.GroupTransitions.WithLabelValues(status.String(), causeJoin).Inc()
	}
	s.recompute(ctx, a.ProductID, a.ID)
	return s.Get(ctx, groupID)
}

func (s *GroupBuyCoordinator) join(ctx context.Context, a *model.Activity, req JoinRequest) (uint, model.GroupStatus, error) {
	now := s.now()
	var (
		groupID uint
		status  model.GroupStatus
	)
	err := s.repo.WithTx(ctx, func(tx *repository.Repository) error {
		var g *model.GroupBuyInstance
		if req.GroupID != 0 {
			var err error
			g, err = tx.Groups.Get(ctx, req.GroupID)
			if err != nil {
				return err
			}
			if g != nil && (g.DeletedAt.Valid || g.ActivityID != a.ID || g.Status != model.GroupOpen || !now.Before(g.EndTime)) {
				g = nil
			}
		}

		var (
			evs []Event
			err error
		)
		if g == nil {
			g, evs, err = s.open(ctx, tx, a, req, now)
		} else {
			evs, err = s.attach(ctx, tx, g, a, req)
		}
		if err != nil {
			return err
		}
		groupID, status = g.ID, g.Status
		return appendEvents(ctx, tx, now, evs)
	})
	return groupID, status, err
}

// open 开新团，团长即第一个参团人。
func (s *GroupBuyCoordinator) open(ctx context.Context, tx *repository.Repository, a *model.Activity, req JoinRequest, now time.Time) (*model.GroupBuyInstance, []Event, error) {
	end := a.EndTime
	if a.GroupDuration > 0 && now.Add(a.GroupDuration).Before(end) {
		end = now.Add(a.GroupDuration)
	}
	g := &model.GroupBuyInstance{
		ActivityID:           a.ID,
		ProductID:            a.ProductID,
		LeaderUID:            req.UserID,
		Status:               model.GroupOpen,
		EndTime:              end,
		TargetCount:          a.TargetCount,
		VirtualFillEnabled:   a.VirtualFillEnabled,
		VirtualFillThreshold: a.VirtualFillThreshold,
		NextSeq:              1,
	}
	if err := tx.Groups.Create(ctx, g); err != nil {
		return nil, nil, err
	}
	leader := model.GroupBuyParticipant{
		GroupID:  g.ID,
		UID:      req.UserID,
		OrderID:  req.OrderID,
		JoinSeq:  1,
		IsLeader: true,
	}
	if err := tx.Groups.AddParticipant(ctx, &leader); err != nil {
		return nil, nil, err
	}

	next, evs, err := applyJoin(*g, []model.GroupBuyParticipant{leader})
	if err != nil {
		return nil, nil, err
	}
	if err := s.save(ctx, tx, g, map[string]any{
		"yet_count": next.YetCount,
		"status":    next.Status,
	}); err != nil {
		return nil, nil, err
	}
	return &next, evs, nil
}

// attach 加入已有团，给团长记一笔推广佣金。
func (s *GroupBuyCoordinator) attach(ctx context.Context, tx *repository.Repository, g *model.GroupBuyInstance, a *model.Activity, req JoinRequest) ([]Event, error) {
	ps, err := tx.Groups.ListParticipants(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	members := activeMembers(ps)
	if _, ok := findMember(members, req.UserID); ok {
		return nil, fmt.Errorf("%w: user %d already in group %d", ErrInvalidStateTransition, req.UserID, g.ID)
	}

	p := model.GroupBuyParticipant{
		GroupID: g.ID,
		UID:     req.UserID,
		OrderID: req.OrderID,
		JoinSeq: g.NextSeq + 1,
	}
	next, evs, err := applyJoin(*g, append(members, p))
	if err != nil {
		return nil, err
	}
	next.NextSeq = p.JoinSeq
	if err := s.save(ctx, tx, g, map[string]any{
		"yet_count": next.YetCount,
		"next_seq":  next.NextSeq,
		"status":    next.Status,
	}); err != nil {
		return nil, err
	}
	if err := tx.Groups.AddParticipant(ctx, &p); err != nil {
		return nil, err
	}

	if a.LeaderCommission > 0 {
		credit := &model.ReferralCredit{
			GroupID:        g.ID,
			OrderID:        req.OrderID,
			BeneficiaryUID: g.LeaderUID,
			SourceUID:      req.UserID,
			Amount:         a.LeaderCommission,
		}
		if err := tx.Groups.AddCredit(ctx, credit); err != nil {
			return nil, err
		}
	}
	*g = next
	return evs, nil
}

// Cancel 取消参团。剩余真实参团人不足 2 人时整团失败并下架。
func (s *GroupBuyCoordinator) Cancel(ctx context.Context, groupID uint, uid int64) (*GroupView, error) {
	g, err := s.repo.Groups.Get(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if g == nil || (g.DeletedAt.Valid && !g.Status.Terminal()) {
		return nil, fmt.Errorf("%w: group %d", ErrNotFound, groupID)
	}

	unlock, err := s.lock(ctx, g.ActivityID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var forceFail bool
	err = s.retry(func() error {
		var err error
		forceFail, err = s.cancel(ctx, groupID, uid)
		return err
	})
	if err != nil {
		return nil, err
	}

	if forceFail {
		metrics.GroupTransitions.WithLabelValues(model.GroupFailed.String(), causeCancel).Inc()
	}
	s.recompute(ctx, g.ProductID, g.ActivityID)
	return s.Get(ctx, groupID)
}

func (s *GroupBuyCoordinator) cancel(ctx context.Context, groupID uint, uid int64) (bool, error) {
	now := s.now()
	var forceFail bool
	err := s.repo.WithTx(ctx, func(tx *repository.Repository) error {
		g, err := tx.Groups.Get(ctx, groupID)
		if err != nil {
			return err
		}
		if g == nil {
			return fmt.Errorf("%w: group %d", ErrNotFound, groupID)
		}
		ps, err := tx.Groups.ListParticipants(ctx, g.ID)
		if err != nil {
			return err
		}
		out, err := applyLeave(*g, activeMembers(ps), uid)
		if err != nil {
			return err
		}
		forceFail = out.ForceFail
		evs := out.Events

		if out.ForceFail {
			if err := s.save(ctx, tx, g, map[string]any{"status": out.Instance.Status}); err != nil {
				return err
			}
			if err := tx.Groups.UpdateParticipant(ctx, out.Leaver.ID, map[string]any{"is_removed": true}); err != nil {
				return err
			}
			if err := tx.Groups.Delist(ctx, g.ID); err != nil {
				return err
			}
			revoked, err := tx.Groups.RevokeCredits(ctx, g.ID, g.LeaderUID, now)
			if err != nil {
				return err
			}
			if len(revoked) > 0 {
				evs = append(evs, commissionRevokedEvent(g.ID, g.LeaderUID, revoked))
			}
			return appendEvents(ctx, tx, now, evs)
		}

		if err := s.save(ctx, tx, g, map[string]any{
			"yet_count":  out.Instance.YetCount,
			"leader_uid": out.Instance.LeaderUID,
		}); err != nil {
			return err
		}
		if err := tx.Groups.UpdateParticipant(ctx, out.Leaver.ID, map[string]any{"is_removed": true, "is_leader": false}); err != nil {
			return err
		}
		if out.NewLeader != nil {
			if err := tx.Groups.UpdateParticipant(ctx, out.NewLeader.ID, map[string]any{"is_leader": true}); err != nil {
				return err
			}
			revoked, err := tx.Groups.RevokeCredits(ctx, g.ID, out.Leaver.UID, now)
			if err != nil {
				return err
			}
			if len(revoked) > 0 {
				evs = append(evs, commissionRevokedEvent(g.ID, out.Leaver.UID, revoked))
			}
			s.log.Info("group leader transferred",
				zap.Uint("group_id", g.ID),
				zap.Int64("from", out.Leaver.UID),
				zap.Int64("to", out.NewLeader.UID),
				zap.Int("revoked_credits", len(revoked)))
		}
		return appendEvents(ctx, tx, now, evs)
	})
	return forceFail, err
}

// SweepExpired 处理一批已到期仍为 open 的团。每个团单独一个事务，失败的团保持 open 等下一轮。
func (s *GroupBuyCoordinator) SweepExpired(ctx context.Context, limit int) (SweepReport, error) {
	var rep SweepReport
	list, err := s.repo.Groups.ListExpiredOpen(ctx, s.now(), limit)
	if err != nil {
		return rep, err
	}
	rep.Scanned = len(list)

	for _, g := range list {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		out, err := s.resolve(ctx, g.ID, g.ActivityID)
		if err != nil {
			rep.Errors++
			s.log.Warn("resolve expired group", zap.Uint("group_id", g.ID), zap.Error(err))
			continue
		}
		if !out.Changed {
			rep.Skipped++
			continue
		}
		switch {
		case out.Instance.Status == model.GroupFailed:
			rep.Failed++
		case out.Virtual > 0:
			rep.VirtualFilled++
		default:
			rep.Succeeded++
		}
		metrics.GroupTransitions.WithLabelValues(out.Instance.Status.String(), out.Cause).Inc()
		s.recompute(ctx, g.ProductID, g.ActivityID)
	}
	return rep, nil
}

func (s *GroupBuyCoordinator) resolve(ctx context.Context, groupID, activityID uint) (expiryOutcome, error) {
	unlock, err := s.lock(ctx, activityID)
	if err != nil {
		return expiryOutcome{}, err
	}
	defer unlock()

	now := s.now()
	var out expiryOutcome
	err = s.repo.WithTx(ctx, func(tx *repository.Repository) error {
		g, err := tx.Groups.Get(ctx, groupID)
		if err != nil {
			return err
		}
		if g == nil {
			return nil
		}
		ps, err := tx.Groups.ListParticipants(ctx, g.ID)
		if err != nil {
			return err
		}
		out = applyExpiry(*g, activeMembers(ps), now)
		if !out.Changed {
			return nil
		}

		next := out.Instance
		if err := s.save(ctx, tx, g, map[string]any{
			"status":             next.Status,
			"yet_count":          next.YetCount,
			"virtual_fill_count": next.VirtualFillCount,
			"next_seq":           next.NextSeq + out.Virtual,
		}); err != nil {
			return err
		}
		for i := 1; i <= out.Virtual; i++ {
			p := &model.GroupBuyParticipant{
				GroupID:   g.ID,
				UID:       0,
				JoinSeq:   next.NextSeq + i,
				IsVirtual: true,
			}
			if err := tx.Groups.AddParticipant(ctx, p); err != nil {
				return err
			}
		}

		evs := out.Events
		if next.Status == model.GroupFailed {
			revoked, err := tx.Groups.RevokeCredits(ctx, g.ID, g.LeaderUID, now)
			if err != nil {
				return err
			}
			if len(revoked) > 0 {
				evs = append(evs, commissionRevokedEvent(g.ID, g.LeaderUID, revoked))
			}
		}
		return appendEvents(ctx, tx, now, evs)
	})
	if err != nil {
		return expiryOutcome{}, err
	}
	return out, nil
}

// Get 拼团详情，包含已下架的团。
func (s *GroupBuyCoordinator) Get(ctx context.Context, groupID uint) (*GroupView, error) {
	g, err := s.repo.Groups.Get(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, fmt.Errorf("%w: group %d", ErrNotFound, groupID)
	}
	ps, err := s.repo.Groups.ListParticipants(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return &GroupView{GroupBuyInstance: *g, Participants: ps}, nil
}

// ListOpen 活动下可加入的团。
func (s *GroupBuyCoordinator) ListOpen(ctx context.Context, activityID uint) ([]model.GroupBuyInstance, error) {
	return s.repo.Groups.ListOpen(ctx, activityID, s.now())
}

// Credits 团内推广佣金记录，包括已撤销的。
func (s *GroupBuyCoordinator) Credits(ctx context.Context, groupID uint) ([]model.ReferralCredit, error) {
	return s.repo.Groups.ListCredits(ctx, groupID)
}

// save 乐观锁写回实例；version 不匹配时返回 errVersionConflict，由 retry 重跑整个事务。
func (s *GroupBuyCoordinator) save(ctx context.Context, tx *repository.Repository, cur *model.GroupBuyInstance, fields map[string]any) error {
	ok, err := tx.Groups.UpdateVersioned(ctx, cur.ID, cur.Version, fields)
	if err != nil {
		return err
	}
	if !ok {
		return errVersionConflict
	}
	return nil
}

// retry 版本冲突重试一次，仍冲突则返回 ErrConcurrencyConflict。
func (s *GroupBuyCoordinator) retry(fn func() error) error {
	err := fn()
	if !errors.Is(err, errVersionConflict) {
		return err
	}
	err = fn()
	if errors.Is(err, errVersionConflict) {
		return fmt.Errorf("%w: %v", ErrConcurrencyConflict, err)
	}
	return err
}

func (s *GroupBuyCoordinator) lock(ctx context.Context, activityID uint) (func(), error) {
	lctx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()
	unlock, err := s.locker.Acquire(lctx, redis.GroupLockKey(activityID), s.lockTTL)
	if errors.Is(err, redis.ErrLockTimeout) {
		return nil, fmt.Errorf("%w: group lock for activity %d", ErrConcurrencyConflict, activityID)
	}
	return unlock, err
}

func (s *GroupBuyCoordinator) recompute(ctx context.Context, productID, activityID uint) {
	if s.index == nil {
		return
	}
	s.index.recomputeKeys(ctx, map[model.IndexKey]struct{}{
		{ProductID: productID, ActivityID: activityID, Channel: model.ChannelGroup}: {},
	})
}
