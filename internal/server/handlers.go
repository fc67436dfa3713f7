package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type createAuctionRequest struct {
	ArtworkID    int64            `json:"artwork_id" binding:"required"`
	StartPrice   decimal.Decimal  `json:"start_price" binding:"required"`
	ReservePrice *decimal.Decimal `json:"reserve_price"`
	EndTime      time.Time        `json:"end_time" binding:"required"`
}

func (s *Server) createAuction(c *gin.Context) {
	var req createAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	a, err := s.auctions.Create(c.Request.Context(), currentUser(c), req.ArtworkID, req.StartPrice, req.ReservePrice, req.EndTime)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (s *Server) listAuctions(c *gin.Context) {
	auctions, err := s.auctions.ListOpen(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"auctions": auctions})
}

func (s *Server) listMyAuctions(c *gin.Context) {
	auctions, err := s.auctions.ListBySeller(c.Request.Context(), currentUser(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"auctions": auctions})
}

func (s *Server) listMyBids(c *gin.Context) {
	bids, err := s.auctions.ListActiveBids(c.Request.Context(), currentUser(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bids": bids})
}

func (s *Server) getAuction(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	a, bids, err := s.auctions.Get(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"auction": a, "bids": bids})
}

type placeBidRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"required"`
}

func (s *Server) placeBid(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req placeBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	bid, err := s.auctions.PlaceBid(c.Request.Context(), id, currentUser(c), req.Amount)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, bid)
}

func (s *Server) closeAuction(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	outcome, err := s.scheduler.CloseNow(c.Request.Context(), id, currentUser(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcome": outcome})
}

func (s *Server) cancelAuction(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.auctions.Cancel(c.Request.Context(), id, currentUser(c)); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (s *Server) processEnded(c *gin.Context) {
	processed, failed, err := s.scheduler.ProcessDue(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"processed": processed, "failed": failed})
}

func (s *Server) cancelBid(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.auctions.CancelBidByID(c.Request.Context(), id, currentUser(c)); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "refunded"})
}

func (s *Server) getBalance(c *gin.Context) {
	b, err := s.ledger.Balance(c.Request.Context(), currentUser(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"available": b.Available,
		"pending":   b.Pending,
	})
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"required"`
}

func (s *Server) deposit(c *gin.Context) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	b, err := s.ledger.Deposit(c.Request.Context(), currentUser(c), req.Amount)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"available": b.Available, "pending": b.Pending})
}

func (s *Server) withdraw(c *gin.Context) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	b, err := s.ledger.Withdraw(c.Request.Context(), currentUser(c), req.Amount)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"available": b.Available, "pending": b.Pending})
}

func (s *Server) listTransactions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	txs, err := s.ledger.History(c.Request.Context(), currentUser(c), limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

type createArtworkRequest struct {
	Title string `json:"title" binding:"required"`
}

func (s *Server) createArtwork(c *gin.Context) {
	var req createArtworkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	a, err := s.catalog.CreateArtwork(c.Request.Context(), currentUser(c), req.Title)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (s *Server) listArtworks(c *gin.Context) {
	artworks, err := s.catalog.ListByOwner(c.Request.Context(), currentUser(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"artworks": artworks})
}

type listFixedRequest struct {
	Price decimal.Decimal `json:"price" binding:"required"`
}

func (s *Server) listFixed(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req listFixedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	if err := s.catalog.ListFixed(c.Request.Context(), currentUser(c), id, req.Price); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "listed"})
}

func (s *Server) delist(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.catalog.Delist(c.Request.Context(), currentUser(c), id); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "delisted"})
}

func (s *Server) purchase(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	a, err := s.catalog.Purchase(c.Request.Context(), currentUser(c), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) schedulerHealth(c *gin.Context) {
	status, err := s.scheduler.Status(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	code := http.StatusOK
	if status.PendingDue > 0 {
		// Expired auctions waiting on settlement degrade the scheduler.
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
