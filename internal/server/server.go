// Package server exposes the marketplace over HTTP with gin. Identity
// comes from the X-User-ID header set by the auth layer in front of
// this service; it is trusted, not re-verified here.
package server

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kallerud/artmarket/internal/auction"
	"github.com/kallerud/artmarket/internal/catalog"
	"github.com/kallerud/artmarket/internal/ledger"
	"github.com/kallerud/artmarket/internal/settlement"
)

const userIDKey = "user_id"

// Server wires the domain services into HTTP handlers.
type Server struct {
	auctions  *auction.Service
	catalog   *catalog.Service
	ledger    *ledger.Service
	scheduler *settlement.Scheduler
	logger    *slog.Logger
}

// New creates a Server.
func New(auctions *auction.Service, cat *catalog.Service, led *ledger.Service, scheduler *settlement.Scheduler, logger *slog.Logger) *Server {
	return &Server{
		auctions:  auctions,
		catalog:   cat,
		ledger:    led,
		scheduler: scheduler,
		logger:    logger,
	}
}

// Router builds the gin engine with all API routes mounted.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api", s.requireUser)
	{
		api.POST("/auctions", s.createAuction)
		api.GET("/auctions", s.listAuctions)
		api.GET("/auctions/mine", s.listMyAuctions)
		api.GET("/auctions/:id", s.getAuction)
		api.POST("/auctions/:id/bids", s.placeBid)
		api.POST("/auctions/:id/close", s.closeAuction)
		api.POST("/auctions/:id/cancel", s.cancelAuction)
		api.POST("/auctions/process-ended", s.processEnded)
		api.POST("/bids/:id/cancel", s.cancelBid)
		api.GET("/bids/mine", s.listMyBids)

		api.GET("/balance", s.getBalance)
		api.POST("/deposits", s.deposit)
		api.POST("/withdrawals", s.withdraw)
		api.GET("/transactions", s.listTransactions)

		api.POST("/artworks", s.createArtwork)
		api.GET("/artworks", s.listArtworks)
		api.POST("/artworks/:id/list", s.listFixed)
		api.POST("/artworks/:id/delist", s.delist)
		api.POST("/artworks/:id/purchase", s.purchase)

		api.GET("/health/scheduler", s.schedulerHealth)
	}
	return r
}

// requireUser extracts the caller's identity from X-User-ID.
func (s *Server) requireUser(c *gin.Context) {
	userID, err := strconv.ParseInt(c.GetHeader("X-User-ID"), 10, 64)
	if err != nil || userID <= 0 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid X-User-ID header"})
		return
	}
	c.Set(userIDKey, userID)
	c.Next()
}

func currentUser(c *gin.Context) int64 {
	return c.GetInt64(userIDKey)
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}
