package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/kallerud/artmarket/internal/auction"
	"github.com/kallerud/artmarket/internal/catalog"
	"github.com/kallerud/artmarket/internal/clock"
	"github.com/kallerud/artmarket/internal/ledger"
	"github.com/kallerud/artmarket/internal/notify"
	"github.com/kallerud/artmarket/internal/settlement"
	"github.com/kallerud/artmarket/internal/store/memstore"
	"github.com/kallerud/artmarket/internal/telemetry"

	"github.com/kallerud/artmarket/internal/server"
)

type testAPI struct {
	router *gin.Engine
	clk    *clock.Mock
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	clk := clock.NewMock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	mem := memstore.New(clk)
	tp := telemetry.NewNopProvider()
	dispatcher := notify.NewDispatcher(tp.Logger, &notify.LogSink{Logger: tp.Logger})

	auctions := auction.NewService(mem, dispatcher, tp.Logger, tp.TracerProvider, clk)
	cat := catalog.NewService(mem, dispatcher, 0.025, tp.Logger, tp.TracerProvider)
	led := ledger.NewService(mem, tp.Logger, tp.TracerProvider)
	processor := settlement.NewProcessor(mem, dispatcher, 0.025, tp.Logger, tp.TracerProvider, clk)
	scheduler, err := settlement.NewScheduler(processor, mem, time.Minute, tp.Logger, tp.MeterProvider, clk)
	require.NoError(t, err)

	srv := server.New(auctions, cat, led, scheduler, tp.Logger)
	return &testAPI{router: srv.Router(), clk: clk}
}

// do performs a request as the given user and decodes the JSON response.
func (a *testAPI) do(t *testing.T, userID int64, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID > 0 {
		req.Header.Set("X-User-ID", fmt.Sprintf("%d", userID))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec.Code, decoded
}

func TestRequireUserHeader(t *testing.T) {
	api := newTestAPI(t)

	code, body := api.do(t, 0, http.MethodGet, "/api/balance", nil)
	require.Equal(t, http.StatusUnauthorized, code)
	require.Contains(t, body["error"], "X-User-ID")
}

func TestDepositAndBalance(t *testing.T) {
	api := newTestAPI(t)

	code, body := api.do(t, 1, http.MethodPost, "/api/deposits", map[string]any{"amount": "250.00"})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "250", body["available"])

	code, body = api.do(t, 1, http.MethodGet, "/api/balance", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "250", body["available"])
	require.Equal(t, "0", body["pending"])
}

func TestWithdrawInsufficientFundsIs402(t *testing.T) {
	api := newTestAPI(t)

	code, body := api.do(t, 1, http.MethodPost, "/api/withdrawals", map[string]any{"amount": "10"})
	require.Equal(t, http.StatusPaymentRequired, code)
	require.Equal(t, "insufficient funds", body["error"])
}

func TestMyAuctionsAndMyBids(t *testing.T) {
	api := newTestAPI(t)

	code, artwork := api.do(t, 1, http.MethodPost, "/api/artworks", map[string]any{"title": "Quiet Street"})
	require.Equal(t, http.StatusCreated, code)
	code, created := api.do(t, 1, http.MethodPost, "/api/auctions", map[string]any{
		"artwork_id":  int64(artwork["id"].(float64)),
		"start_price": "10",
		"end_time":    api.clk.Now().Add(time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, code)
	auctionID := int64(created["id"].(float64))

	code, _ = api.do(t, 2, http.MethodPost, "/api/deposits", map[string]any{"amount": "50"})
	require.Equal(t, http.StatusOK, code)
	code, bid := api.do(t, 2, http.MethodPost, fmt.Sprintf("/api/auctions/%d/bids", auctionID), map[string]any{"amount": "20"})
	require.Equal(t, http.StatusCreated, code)
	bidID := int64(bid["id"].(float64))

	// The seller sees their auction, the bidder does not.
	code, body := api.do(t, 1, http.MethodGet, "/api/auctions/mine", nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["auctions"], 1)
	code, body = api.do(t, 2, http.MethodGet, "/api/auctions/mine", nil)
	require.Equal(t, http.StatusOK, code)
	require.Empty(t, body["auctions"])

	// The bidder sees their active bid; it disappears on cancel.
	code, body = api.do(t, 2, http.MethodGet, "/api/bids/mine", nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["bids"], 1)
	code, _ = api.do(t, 2, http.MethodPost, fmt.Sprintf("/api/bids/%d/cancel", bidID), nil)
	require.Equal(t, http.StatusOK, code)
	code, body = api.do(t, 2, http.MethodGet, "/api/bids/mine", nil)
	require.Equal(t, http.StatusOK, code)
	require.Empty(t, body["bids"])
}

func TestAuctionLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)

	// Seller registers an artwork and opens an auction.
	code, artwork := api.do(t, 1, http.MethodPost, "/api/artworks", map[string]any{"title": "Morning Mist"})
	require.Equal(t, http.StatusCreated, code)
	artworkID := int64(artwork["id"].(float64))

	code, created := api.do(t, 1, http.MethodPost, "/api/auctions", map[string]any{
		"artwork_id":  artworkID,
		"start_price": "10",
		"end_time":    api.clk.Now().Add(time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, code)
	auctionID := int64(created["id"].(float64))

	// Bidder funds the account and bids.
	code, _ = api.do(t, 2, http.MethodPost, "/api/deposits", map[string]any{"amount": "100"})
	require.Equal(t, http.StatusOK, code)
	code, _ = api.do(t, 2, http.MethodPost, fmt.Sprintf("/api/auctions/%d/bids", auctionID), map[string]any{"amount": "60"})
	require.Equal(t, http.StatusCreated, code)

	// Seller bidding on their own auction is rejected.
	code, body := api.do(t, 1, http.MethodPost, fmt.Sprintf("/api/auctions/%d/bids", auctionID), map[string]any{"amount": "70"})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "cannot bid on your own auction", body["error"])

	// Seller closes early; the bid wins.
	code, closed := api.do(t, 1, http.MethodPost, fmt.Sprintf("/api/auctions/%d/close", auctionID), nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, settlement.OutcomeSold, closed["outcome"])

	// Seller got the proceeds net of the 2.5% fee.
	code, balance := api.do(t, 1, http.MethodGet, "/api/balance", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "58.5", balance["available"])

	// Ownership moved: the artwork shows up for the winner.
	code, owned := api.do(t, 2, http.MethodGet, "/api/artworks", nil)
	require.Equal(t, http.StatusOK, code)
	artworks := owned["artworks"].([]any)
	require.Len(t, artworks, 1)
}

func TestBidOnUnknownAuctionIs404(t *testing.T) {
	api := newTestAPI(t)

	api.do(t, 2, http.MethodPost, "/api/deposits", map[string]any{"amount": "100"})
	code, body := api.do(t, 2, http.MethodPost, "/api/auctions/999/bids", map[string]any{"amount": "60"})
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "not found", body["error"])
}

func TestCancelAuctionPermissionIs403(t *testing.T) {
	api := newTestAPI(t)

	code, artwork := api.do(t, 1, http.MethodPost, "/api/artworks", map[string]any{"title": "Morning Mist"})
	require.Equal(t, http.StatusCreated, code)
	code, created := api.do(t, 1, http.MethodPost, "/api/auctions", map[string]any{
		"artwork_id":  int64(artwork["id"].(float64)),
		"start_price": "10",
		"end_time":    api.clk.Now().Add(time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, code)

	code, _ = api.do(t, 2, http.MethodPost, fmt.Sprintf("/api/auctions/%v/cancel", created["id"]), nil)
	require.Equal(t, http.StatusForbidden, code)
}

func TestProcessEndedEndpoint(t *testing.T) {
	api := newTestAPI(t)

	code, artwork := api.do(t, 1, http.MethodPost, "/api/artworks", map[string]any{"title": "Morning Mist"})
	require.Equal(t, http.StatusCreated, code)
	code, _ = api.do(t, 1, http.MethodPost, "/api/auctions", map[string]any{
		"artwork_id":  int64(artwork["id"].(float64)),
		"start_price": "10",
		"end_time":    api.clk.Now().Add(time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, code)

	api.clk.Advance(2 * time.Hour)

	code, body := api.do(t, 1, http.MethodPost, "/api/auctions/process-ended", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, float64(1), body["processed"])
	require.Equal(t, float64(0), body["failed"])
}

func TestSchedulerHealthDegradesWithBacklog(t *testing.T) {
	api := newTestAPI(t)

	code, _ := api.do(t, 1, http.MethodGet, "/api/health/scheduler", nil)
	require.Equal(t, http.StatusOK, code)

	code, artwork := api.do(t, 1, http.MethodPost, "/api/artworks", map[string]any{"title": "Morning Mist"})
	require.Equal(t, http.StatusCreated, code)
	code, _ = api.do(t, 1, http.MethodPost, "/api/auctions", map[string]any{
		"artwork_id":  int64(artwork["id"].(float64)),
		"start_price": "10",
		"end_time":    api.clk.Now().Add(time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, code)
	api.clk.Advance(2 * time.Hour)

	code, body := api.do(t, 1, http.MethodGet, "/api/health/scheduler", nil)
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, float64(1), body["pending_due"])
}

func TestPurchaseFlowOverHTTP(t *testing.T) {
	api := newTestAPI(t)

	code, artwork := api.do(t, 1, http.MethodPost, "/api/artworks", map[string]any{"title": "Harbor at Dusk"})
	require.Equal(t, http.StatusCreated, code)
	artworkID := int64(artwork["id"].(float64))

	code, _ = api.do(t, 1, http.MethodPost, fmt.Sprintf("/api/artworks/%d/list", artworkID), map[string]any{"price": "80"})
	require.Equal(t, http.StatusOK, code)

	code, _ = api.do(t, 2, http.MethodPost, "/api/deposits", map[string]any{"amount": "100"})
	require.Equal(t, http.StatusOK, code)
	code, bought := api.do(t, 2, http.MethodPost, fmt.Sprintf("/api/artworks/%d/purchase", artworkID), nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, float64(2), bought["owner_id"])

	code, balance := api.do(t, 1, http.MethodGet, "/api/balance", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "78", balance["available"])
}
