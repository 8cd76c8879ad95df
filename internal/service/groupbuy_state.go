package service

import (
	"fmt"
	"strconv"
	"time"

	"salesync/internal/model"
)

// 状态迁移原因，写入事件与指标。
const (
	causeJoin        = "join"
	causeCancel      = "cancel"
	causeExpired     = "expired"
	causeVirtualFill = "virtual_fill"
)

// 本文件只包含纯函数：输入实例与参团人快照，输出下一状态与需要落 outbox 的事件。

// activeMembers 未退出的真实参团人，保持 JoinSeq 顺序。
func activeMembers(ps []model.GroupBuyParticipant) []model.GroupBuyParticipant {
	out := make([]model.GroupBuyParticipant, 0, len(ps))
	for _, p := range ps {
		if !p.IsVirtual && !p.IsRemoved {
			out = append(out, p)
		}
	}
	return out
}

func findMember(ps []model.GroupBuyParticipant, uid int64) (model.GroupBuyParticipant, bool) {
	for _, p := range ps {
		if p.UID == uid {
			return p, true
		}
	}
	return model.GroupBuyParticipant{}, false
}

// applyJoin members 已包含新加入的人。人数达标即成团。
func applyJoin(g model.GroupBuyInstance, members []model.GroupBuyParticipant) (model.GroupBuyInstance, []Event, error) {
	if g.Status.Terminal() {
		return g, nil, fmt.Errorf("%w: group %d is %s", ErrInvalidStateTransition, g.ID, g.Status)
	}
	g.YetCount = len(members)
	if g.YetCount > g.TargetCount {
		return g, nil, fmt.Errorf("%w: group %d is full", ErrInvalidStateTransition, g.ID)
	}
	g, evs := checkSuccess(g, members, causeJoin)
	return g, evs, nil
}

func checkSuccess(g model.GroupBuyInstance, members []model.GroupBuyParticipant, cause string) (model.GroupBuyInstance, []Event) {
	if g.Status != model.GroupOpen || g.YetCount+g.VirtualFillCount < g.TargetCount {
		return g, nil
	}
	g.Status = model.GroupSucceeded
	return g, []Event{outcomeEvent(EventGroupBuySucceeded, g, members, cause)}
}

// leaveOutcome 一次取消参团的结果。
type leaveOutcome struct {
	Instance  model.GroupBuyInstance
	Leaver    model.GroupBuyParticipant
	NewLeader *model.GroupBuyParticipant
	// ForceFail 剩余真实参团人不足 2 人，整团失败并下架。
	ForceFail bool
	Refunds   []model.GroupBuyParticipant
	Events    []Event
}

// applyLeave 剩余不足 2 人强制失败；否则移除退出者，团长退出时按 JoinSeq 转给最早的剩余成员。
func applyLeave(g model.GroupBuyInstance, members []model.GroupBuyParticipant, uid int64) (leaveOutcome, error) {
	out := leaveOutcome{Instance: g}
	if g.Status.Terminal() {
		return out, fmt.Errorf("%w: group %d is %s", ErrInvalidStateTransition, g.ID, g.Status)
	}
	leaver, ok := findMember(members, uid)
	if !ok {
		return out, fmt.Errorf("%w: user %d in group %d", ErrNotFound, uid, g.ID)
	}
	out.Leaver = leaver

	remaining := make([]model.GroupBuyParticipant, 0, len(members))
	for _, p := range members {
		if p.ID != leaver.ID {
			remaining = append(remaining, p)
		}
	}

	if len(remaining) < 2 {
		out.ForceFail = true
		out.Instance.Status = model.GroupFailed
		out.Refunds = members
		out.Events = append(out.Events, outcomeEvent(EventGroupBuyFailed, out.Instance, members, causeCancel))
		out.Events = append(out.Events, refundEvents(g.ID, members, causeCancel)...)
		return out, nil
	}

	out.Instance.YetCount = len(remaining)
	out.Refunds = []model.GroupBuyParticipant{leaver}
	out.Events = refundEvents(g.ID, out.Refunds, causeCancel)
	if leaver.IsLeader {
		next := remaining[0]
		next.IsLeader = true
		out.NewLeader = &next
		out.Instance.LeaderUID = next.UID
	}
	return out, nil
}

// expiryOutcome 到期结算结果。Changed=false 表示无需处理（已终态或未到期）。
type expiryOutcome struct {
	Instance model.GroupBuyInstance
	Changed  bool
	// Virtual 需要补入的匿名虚拟参团人数。
	Virtual int
	Refunds []model.GroupBuyParticipant
	Cause   string
	Events  []Event
}

// applyExpiry 到期时：人数已满则成团；开启虚拟成团且真实人数不低于阈值则补足虚拟人成团；否则失败并为每个真实参团人申请退款。
func applyExpiry(g model.GroupBuyInstance, members []model.GroupBuyParticipant, now time.Time) expiryOutcome {
	out := expiryOutcome{Instance: g}
	if g.Status.Terminal() || now.Before(g.EndTime) {
		return out
	}
	out.Changed = true
	n := len(members)
	out.Instance.YetCount = n

	switch {
	case n+g.VirtualFillCount >= g.TargetCount:
		out.Cause = causeExpired
	case g.VirtualFillEnabled && n > 0 && n >= g.VirtualFillThreshold:
		out.Cause = causeVirtualFill
		out.Virtual = g.TargetCount - n - g.VirtualFillCount
		out.Instance.VirtualFillCount += out.Virtual
	default:
		out.Cause = causeExpired
		out.Instance.Status = model.GroupFailed
		out.Refunds = members
		out.Events = append(out.Events, outcomeEvent(EventGroupBuyFailed, out.Instance, members, causeExpired))
		out.Events = append(out.Events, refundEvents(g.ID, members, causeExpired)...)
		return out
	}

	out.Instance, out.Events = checkSuccess(out.Instance, members, out.Cause)
	return out
}

func outcomeEvent(kind EventKind, g model.GroupBuyInstance, members []model.GroupBuyParticipant, cause string) Event {
	uids := make([]int64, 0, len(members))
	for _, p := range members {
		uids = append(uids, p.UID)
	}
	return Event{
		Kind:        kind,
		AggregateID: groupAggregate(g.ID),
		Payload: GroupOutcomePayload{
			GroupID:          g.ID,
			ActivityID:       g.ActivityID,
			ProductID:        g.ProductID,
			Status:           g.Status.String(),
			Cause:            cause,
			YetCount:         g.YetCount,
			TargetCount:      g.TargetCount,
			VirtualFillCount: g.VirtualFillCount,
			UIDs:             uids,
		},
	}
}

func refundEvents(groupID uint, ps []model.GroupBuyParticipant, reason string) []Event {
	out := make([]Event, 0, len(ps))
	for _, p := range ps {
		if p.IsVirtual || p.OrderID == "" {
			continue
		}
		out = append(out, Event{
			Kind:        EventRefundRequested,
			AggregateID: groupAggregate(groupID),
			Payload:     RefundRequestPayload{GroupID: groupID, OrderID: p.OrderID, UID: p.UID, Reason: reason},
		})
	}
	return out
}

func commissionRevokedEvent(groupID uint, beneficiary int64, credits []model.ReferralCredit) Event {
	p := CommissionRevokedPayload{GroupID: groupID, Beneficiary: beneficiary}
	for _, c := range credits {
		p.OrderIDs = append(p.OrderIDs, c.OrderID)
		p.Amount += c.Amount
	}
	return Event{Kind: EventCommissionRevoked, AggregateID: groupAggregate(groupID), Payload: p}
}

func groupAggregate(id uint) string {
	return "group:" + strconv.FormatUint(uint64(id), 10)
}
