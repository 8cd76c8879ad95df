package model

// Channel 销售渠道：同一个 SKU 可同时挂在多个渠道上售卖。
type Channel string

const (
	ChannelPlain   Channel = "plain"   // 普通销售
	ChannelFlash   Channel = "flash"   // 秒杀
	ChannelPresale Channel = "presale" // 预售（定金 + 尾款）
	ChannelAssist  Channel = "assist"  // 助力
	ChannelGroup   Channel = "group"   // 拼团
)

// Valid reports whether c is one of the five known channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelPlain, ChannelFlash, ChannelPresale, ChannelAssist, ChannelGroup:
		return true
	}
	return false
}

// IsActivity 除普通销售外都挂在某个活动上。
func (c Channel) IsActivity() bool {
	return c.Valid() && c != ChannelPlain
}

// IsTimeBoxed 预售/助力/拼团有独立的活动时间窗，需要校验活动自身状态。
func (c Channel) IsTimeBoxed() bool {
	return c == ChannelPresale || c == ChannelAssist || c == ChannelGroup
}
