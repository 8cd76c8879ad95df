package service

import (
	"time"

	"salesync/internal/model"
)

// Reason 说明 status=0 的首个不满足条件。
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonUnknownChannel     Reason = "unknown_channel"
	ReasonProductMissing     Reason = "product_missing"
	ReasonProductUnapproved  Reason = "product_unapproved"
	ReasonMerchantInactive   Reason = "merchant_inactive"
	ReasonProductDeleted     Reason = "product_deleted"
	ReasonProductHidden      Reason = "product_hidden"
	ReasonProductDisabled    Reason = "product_disabled"
	ReasonActivityMissing    Reason = "activity_missing"
	ReasonActivityUnapproved Reason = "activity_unapproved"
	ReasonActivityHidden     Reason = "activity_hidden"
	ReasonActivityDeleted    Reason = "activity_deleted"
	ReasonActivityNotStarted Reason = "activity_not_started"
	ReasonActivityEnded      Reason = "activity_ended"
)

// ActivityConditions 渠道活动自身的状态。
type ActivityConditions struct {
	Approved bool
	Shown    bool
	Deleted  bool
	Start    time.Time
	End      time.Time
}

// Conditions 计算 IndexRow.status 所需的全部上游条件，不依赖存储。
type Conditions struct {
	ProductExists   bool
	ProductApproved bool
	ProductDeleted  bool
	ProductShown    bool
	ProductEnabled  bool
	MerchantActive  bool
	Activity        *ActivityConditions // 普通渠道为 nil
	Now             time.Time
}

// Availability 是 status 的带标签结果。
type Availability struct {
	Status int
	Reason Reason
}

func (a Availability) Purchasable() bool { return a.Status == 1 }

var available = Availability{Status: 1}

func unavailable(r Reason) Availability { return Availability{Status: 0, Reason: r} }

// EvaluateAvailability 是 status 的纯函数：任一条件不满足即为 0。
func EvaluateAvailability(ch model.Channel, c Conditions) Availability {
	switch {
	case ch == model.ChannelPlain:
		return evaluatePlain(c)
	case ch == model.ChannelFlash:
		return evaluateFlash(c)
	case ch.IsTimeBoxed():
		return evaluateTimeBoxed(c)
	}
	return unavailable(ReasonUnknownChannel)
}

func evaluateProduct(c Conditions) Availability {
	switch {
	case !c.ProductExists:
		return unavailable(ReasonProductMissing)
	case !c.ProductApproved:
		return unavailable(ReasonProductUnapproved)
	case !c.MerchantActive:
		return unavailable(ReasonMerchantInactive)
	case c.ProductDeleted:
		return unavailable(ReasonProductDeleted)
	}
	return available
}

func evaluateListing(c Conditions) Availability {
	switch {
	case !c.ProductShown:
		return unavailable(ReasonProductHidden)
	case !c.ProductEnabled:
		return unavailable(ReasonProductDisabled)
	}
	return available
}

func evaluatePlain(c Conditions) Availability {
	if a := evaluateProduct(c); !a.Purchasable() {
		return a
	}
	return evaluateListing(c)
}

// evaluateFlash 秒杀的时间窗由场次准入控制，这里只要求活动记录有效。
func evaluateFlash(c Conditions) Availability {
	if a := evaluatePlain(c); !a.Purchasable() {
		return a
	}
	switch {
	case c.Activity == nil:
		return unavailable(ReasonActivityMissing)
	case c.Activity.Deleted:
		return unavailable(ReasonActivityDeleted)
	case !c.Activity.Approved:
		return unavailable(ReasonActivityUnapproved)
	}
	return available
}

func evaluateTimeBoxed(c Conditions) Availability {
	if a := evaluateProduct(c); !a.Purchasable() {
		return a
	}
	act := c.Activity
	switch {
	case act == nil:
		return unavailable(ReasonActivityMissing)
	case act.Deleted:
		return unavailable(ReasonActivityDeleted)
	case !act.Approved:
		return unavailable(ReasonActivityUnapproved)
	case !act.Shown:
		return unavailable(ReasonActivityHidden)
	case c.Now.Before(act.Start):
		return unavailable(ReasonActivityNotStarted)
	case c.Now.After(act.End):
		return unavailable(ReasonActivityEnded)
	}
	return available
}
