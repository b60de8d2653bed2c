package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"tradepoint-marketplace/pkg/errutil"
	"tradepoint-marketplace/services/bidding"
	"tradepoint-marketplace/services/negotiation"
	"tradepoint-marketplace/services/notify"
	"tradepoint-marketplace/services/points"
)

// Handler exposes the negotiation, bidding, and points operations over HTTP.
// Authentication happens upstream; the gateway injects the caller identity as
// X-User-ID and the role as X-User-Role.
type Handler struct {
	db          *gorm.DB
	negotiation *negotiation.Service
	bidding     *bidding.Service
	points      *points.Service
	feed        *notify.Feed
}

type HandlerParams struct {
	fx.In
	DB          *gorm.DB
	Negotiation *negotiation.Service
	Bidding     *bidding.Service
	Points      *points.Service
	Feed        *notify.Feed
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		db:          p.DB,
		negotiation: p.Negotiation,
		bidding:     p.Bidding,
		points:      p.Points,
		feed:        p.Feed,
	}
}

var Module = fx.Module("httpapi",
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)

func RegisterRoutes(engine *gin.Engine, h *Handler) {
	engine.GET("/healthz", h.Healthz)

	v1 := engine.Group("/v1", requireUser)

	v1.POST("/cases/:case_id/provider-response", h.ProviderRespond)
	v1.POST("/cases/:case_id/customer-response", h.CustomerRespond)
	v1.POST("/cases/:case_id/marketplace", h.SendToMarketplace)
	v1.POST("/cases/:case_id/cancel", h.CancelCase)

	v1.GET("/cases/:case_id/can-bid", h.CanBid)
	v1.GET("/cases/:case_id/bids", h.ListBids)
	v1.POST("/cases/:case_id/bids", h.PlaceBid)
	v1.POST("/cases/:case_id/bids/:bid_id/select", h.SelectWinningBid)
	v1.POST("/cases/:case_id/bids/:bid_id/cancel", h.CancelBid)

	v1.GET("/points/balance", h.GetBalance)
	v1.GET("/points/history", h.History)
	v1.POST("/points/award-bonus", requireAdmin, h.AwardBonus)

	v1.GET("/notifications", h.ListNotifications)
	v1.POST("/notifications/:notification_id/read", h.MarkNotificationRead)
}

func requireUser(c *gin.Context) {
	if c.GetHeader("X-User-ID") == "" {
		code, body := errutil.ToHTTPError(errutil.Unauthorized("missing caller identity"))
		c.AbortWithStatusJSON(code, body)
		return
	}
	c.Next()
}

func requireAdmin(c *gin.Context) {
	if c.GetHeader("X-User-Role") != "admin" {
		code, body := errutil.ToHTTPError(errutil.Forbidden("admin role required"))
		c.AbortWithStatusJSON(code, body)
		return
	}
	c.Next()
}

func callerID(c *gin.Context) string {
	return c.GetHeader("X-User-ID")
}

func respondErr(c *gin.Context, err error) {
	code, body := errutil.ToHTTPError(err)
	c.JSON(code, body)
}

func (h *Handler) Healthz(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type providerResponseRequest struct {
	Action        string `json:"action" binding:"required"`
	CounterBudget string `json:"counter_budget"`
	Message       string `json:"message"`
}

func (h *Handler) ProviderRespond(c *gin.Context) {
	var req providerResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	result, err := h.negotiation.ProviderRespond(c.Request.Context(),
		c.Param("case_id"), callerID(c), req.Action, req.CounterBudget, req.Message)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"case": result})
}

type customerResponseRequest struct {
	Action string `json:"action" binding:"required"`
}

func (h *Handler) CustomerRespond(c *gin.Context) {
	var req customerResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	result, err := h.negotiation.CustomerRespond(c.Request.Context(),
		c.Param("case_id"), callerID(c), req.Action)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) SendToMarketplace(c *gin.Context) {
	result, err := h.negotiation.SendToMarketplace(c.Request.Context(), c.Param("case_id"), callerID(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"case": result})
}

func (h *Handler) CancelCase(c *gin.Context) {
	result, err := h.negotiation.Cancel(c.Request.Context(), c.Param("case_id"), callerID(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"case": result})
}

func (h *Handler) CanBid(c *gin.Context) {
	verdict, err := h.bidding.CanBid(c.Request.Context(), c.Param("case_id"), callerID(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, verdict)
}

type placeBidRequest struct {
	ProposedBudgetRange string `json:"proposed_budget_range"`
	Comment             string `json:"comment"`
}

func (h *Handler) PlaceBid(c *gin.Context) {
	var req placeBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	bid, err := h.bidding.PlaceBid(c.Request.Context(), bidding.PlaceBidInput{
		CaseID:              c.Param("case_id"),
		ProviderID:          callerID(c),
		ProposedBudgetRange: req.ProposedBudgetRange,
		Comment:             req.Comment,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"bid": bid})
}

func (h *Handler) ListBids(c *gin.Context) {
	bids, err := h.bidding.ListBids(c.Request.Context(), c.Param("case_id"), callerID(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bids": bids})
}

func (h *Handler) SelectWinningBid(c *gin.Context) {
	result, err := h.bidding.SelectWinningBid(c.Request.Context(),
		c.Param("case_id"), callerID(c), c.Param("bid_id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"case": result})
}

func (h *Handler) CancelBid(c *gin.Context) {
	bid, err := h.bidding.CancelBid(c.Request.Context(),
		c.Param("case_id"), callerID(c), c.Param("bid_id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bid": bid})
}

func (h *Handler) GetBalance(c *gin.Context) {
	balance, err := h.points.GetBalance(c.Request.Context(), callerID(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, balance)
}

func (h *Handler) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	txs, err := h.points.History(c.Request.Context(), callerID(c), limit, offset)
	if err != nil {
		respondErr(c, err)
		return
	}
	total, err := h.points.CountTransactions(c.Request.Context(), callerID(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs, "total": total})
}

func (h *Handler) ListNotifications(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	var since time.Time
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondErr(c, errutil.BadRequest("since must be RFC 3339", errutil.WithErr(err)))
			return
		}
		since = parsed
	}

	rows, err := h.feed.List(c.Request.Context(), callerID(c), since, limit)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": rows})
}

func (h *Handler) MarkNotificationRead(c *gin.Context) {
	err := h.feed.MarkRead(c.Request.Context(), callerID(c), c.Param("notification_id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type awardBonusRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Amount int64  `json:"amount" binding:"required"`
	Reason string `json:"reason"`
}

func (h *Handler) AwardBonus(c *gin.Context) {
	var req awardBonusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	balance, err := h.points.AwardBonus(c.Request.Context(), req.UserID, req.Amount, req.Reason)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": req.UserID, "current_balance": balance})
}
