package router

import (
	"errors"
	"net/http"
	"strconv"

	"salesync/internal/config"
	"salesync/internal/middleware"
	"salesync/internal/model"
	"salesync/internal/repository"
	"salesync/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, e *service.Engine, rdb *rd.Client, cfg config.AppConfig, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	r.Use(middleware.RequestLogger(log.Named("http")))

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	// listing
	api.GET("/index", queryIndex(e.Index))
	api.GET("/groups/:id", getGroup(e.Groups))
	api.GET("/activities/:id/groups", listGroups(e.Groups))
	api.GET("/mirrors/:id/remaining", effectiveRemaining(e.Mirrors))

	// flash admission
	limit := middleware.RedisRateLimit(rdb, "flash_reserve", cfg.ReserveRateLimit, cfg.ReserveRateWindow, log)
	api.POST("/flash/reserve", limit, reserve(e.Flash))
	api.POST("/flash/release", release(e.Flash))
	api.GET("/flash/count", count(e.Flash))

	// group buy
	api.POST("/groups/join", joinGroup(e.Groups))
	api.POST("/groups/:id/cancel", cancelGroup(e.Groups))

	admin := api.Group("", middleware.AdminToken(cfg.AdminToken))
	admin.POST("/admin/products/:id/variants", saveVariants(e.Variants))
	admin.POST("/admin/variants/:id/stock", adjustStock(e.Variants))
	admin.POST("/admin/mirrors", createMirror(e.Mirrors))
	admin.POST("/admin/flash/populate", populate(e.Flash))
	admin.POST("/admin/products/:id/recompute", recomputeProduct(e.Index))
	admin.POST("/admin/merchants/:id/recompute", recomputeMerchant(e.Index))
	admin.POST("/admin/groups/sweep", sweepGroups(e.Groups, cfg.SweepBatch))
	// 订单子系统的 webhook 入口，与 Kafka 消费等价
	admin.POST("/orders/committed", orderCommitted(e.Orders))
	admin.POST("/orders/refunded", orderRefunded(e.Orders))
}

// writeError 把领域错误映射成 HTTP 状态码。
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrExhausted),
		errors.Is(err, service.ErrOutOfStock),
		errors.Is(err, service.ErrActivityClosed),
		errors.Is(err, service.ErrCapExceedsStock),
		errors.Is(err, service.ErrConcurrencyConflict),
		errors.Is(err, service.ErrInvalidStateTransition),
		errors.Is(err, service.ErrStockUnderflow):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"code": status, "msg": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": msg})
}

func paramID(c *gin.Context, name string) (uint, bool) {
	// 32 bit 十进制
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func queryUint(c *gin.Context, name string) (*uint, error) {
	s := c.Query(name)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return nil, err
	}
	u := uint(v)
	return &u, nil
}

// queryIndex 按 product_id / activity_id / channel / status 过滤索引行。
func queryIndex(index *service.IndexSync) gin.HandlerFunc {
	return func(c *gin.Context) {
		var f repository.IndexFilter
		var err error
		if f.ProductID, err = queryUint(c, "product_id"); err != nil {
			badRequest(c, "product_id 无效")
			return
		}
		if f.ActivityID, err = queryUint(c, "activity_id"); err != nil {
			badRequest(c, "activity_id 无效")
			return
		}
		if s := c.Query("channel"); s != "" {
			ch := model.Channel(s)
			f.Channel = &ch
		}
		if s := c.Query("status"); s != "" {
			st, err := strconv.Atoi(s)
			if err != nil || (st != 0 && st != 1) {
				badRequest(c, "status 只能是 0 或 1")
				return
			}
			f.Status = &st
		}
		f.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
		f.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

		rows, total, err := index.Query(c.Request.Context(), f)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"list": rows, "total": total}})
	}
}

func getGroup(groups *service.GroupBuyCoordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "id")
		if !ok {
			badRequest(c, "拼团ID无效")
			return
		}
		g, err := groups.Get(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": g})
	}
}

// listGroups 活动下仍在进行中的团，供用户选择参团。
func listGroups(groups *service.GroupBuyCoordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "id")
		if !ok {
			badRequest(c, "活动ID无效")
			return
		}
		list, err := groups.ListOpen(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": list})
	}
}

func effectiveRemaining(mirrors *service.MirrorService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "id")
		if !ok {
			badRequest(c, "镜像ID无效")
			return
		}
		day := c.Query("day")
		if day == "" {
			badRequest(c, "day 不能为空（yyyymmdd）")
			return
		}
		n, err := mirrors.EffectiveRemaining(c.Request.Context(), id, day)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"remaining": n}})
	}
}

// reserve 秒杀准入：一次 EVAL 决定是否放行，不落库。
func reserve(flash *service.FlashAdmission) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req service.ReserveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		t, err := flash.Reserve(c.Request.Context(), req)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": t})
	}
}

func release(flash *service.FlashAdmission) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			service.SlotRequest
			HoldID string `json:"hold_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		ok, err := flash.Release(c.Request.Context(), req.SlotRequest, req.HoldID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"released": ok}})
	}
}

func count(flash *service.FlashAdmission) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req service.SlotRequest
		if err := c.ShouldBindQuery(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		n, err := flash.Count(c.Request.Context(), req)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"count": n}})
	}
}

func joinGroup(groups *service.GroupBuyCoordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req service.JoinRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		g, err := groups.Join(c.Request.Context(), req)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": g})
	}
}

func cancelGroup(groups *service.GroupBuyCoordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "id")
		if !ok {
			badRequest(c, "拼团ID无效")
			return
		}
		var req struct {
			UserID int64 `json:"user_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		g, err := groups.Cancel(c.Request.Context(), id, req.UserID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": g})
	}
}

// saveVariants 商品保存时同步 SKU 行。
func saveVariants(variants *service.VariantStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "id")
		if !ok {
			badRequest(c, "商品ID无效")
			return
		}
		var req struct {
			Variants []service.VariantInput `json:"variants" binding:"required,min=1,dive"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		list, err := variants.SaveProductVariants(c.Request.Context(), id, req.Variants)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": list})
	}
}

// adjustStock 人工调整库存，delta 可正可负。
func adjustStock(variants *service.VariantStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "id")
		if !ok {
			badRequest(c, "SKU ID无效")
			return
		}
		var req struct {
			Delta int64 `json:"delta" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		stock, err := variants.ApplyStockDelta(c.Request.Context(), id, req.Delta)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"stock": stock}})
	}
}

func createMirror(mirrors *service.MirrorService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			VariantID     uint  `json:"variant_id" binding:"required"`
			ActivityID    uint  `json:"activity_id" binding:"required"`
			CappedStock   int64 `json:"capped_stock" binding:"min=0"`
			ActivityPrice int64 `json:"activity_price" binding:"min=0"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		av, err := mirrors.CreateMirror(c.Request.Context(), req.VariantID, req.ActivityID, req.CappedStock, req.ActivityPrice)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": av})
	}
}

// populate 按有效剩余库存预热票据（全量替换，once=true 时已装载的保持不动）。
func populate(flash *service.FlashAdmission) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			ActivityID uint   `json:"activity_id" binding:"required"`
			TimeslotID uint   `json:"timeslot_id" binding:"required"`
			Day        string `json:"day"`
			Once       bool   `json:"once"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		res, err := flash.PopulateActivity(c.Request.Context(), req.ActivityID, req.TimeslotID, req.Day, req.Once)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "预热成功", "data": res})
	}
}

func recomputeProduct(index *service.IndexSync) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "id")
		if !ok {
			badRequest(c, "商品ID无效")
			return
		}
		if err := index.RecomputeProduct(c.Request.Context(), id); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "ok"})
	}
}

func recomputeMerchant(index *service.IndexSync) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "id")
		if !ok {
			badRequest(c, "商家ID无效")
			return
		}
		n, err := index.RecomputeMerchant(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"products": n}})
	}
}

func sweepGroups(groups *service.GroupBuyCoordinator, batch int) gin.HandlerFunc {
	return func(c *gin.Context) {
		rep, err := groups.SweepExpired(c.Request.Context(), batch)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": rep})
	}
}

func orderCommitted(orders *service.OrderEvents) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Lines []service.CommittedLine `json:"lines" binding:"required,min=1,dive"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		res, err := orders.OnOrderCommitted(c.Request.Context(), req.Lines)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": res})
	}
}

func orderRefunded(orders *service.OrderEvents) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Lines []service.RefundedLine `json:"lines" binding:"required,min=1,dive"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		res, err := orders.OnOrderRefunded(c.Request.Context(), req.Lines)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": res})
	}
}
