package redis

import "fmt"

// TicketKey 秒杀准入票据列表：活动 + 活动日 + 商品 + 场次 + SKU 唯一码。
func TicketKey(activityID uint, day string, productID, timeslotID uint, variantUnique string) string {
	return fmt.Sprintf("flash:tickets:%d:%s:%d:%d:%s", activityID, day, productID, timeslotID, variantUnique)
}

// PopulatedKey 票据列表的装载标记，值为本次装载的代号；PopulateOnce 据此判断本周期是否已装载。
func PopulatedKey(ticketKey string) string {
	return ticketKey + ":populated"
}

// HoldKey 记录某个 hold_id 占用了哪张票据，释放时据此只归还一次。
func HoldKey(holdID string) string {
	return fmt.Sprintf("flash:hold:%s", holdID)
}

// GroupLockKey 拼团开团/参团的活动级互斥锁。
func GroupLockKey(activityID uint) string {
	return fmt.Sprintf("group_buying:%d", activityID)
}

// RateLimitKey 限流 key，按用户或 IP。
func RateLimitKey(scope, id string) string {
	return fmt.Sprintf("rate_limit:%s:%s", scope, id)
}
