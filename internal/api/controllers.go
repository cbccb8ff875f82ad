package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"pairs-trading-core/internal/order"
	"pairs-trading-core/internal/risk"
	"pairs-trading-core/pkg/db"
	"pairs-trading-core/pkg/exchanges/binance/wsapi"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultOrderLimit = 100
	maxOrderLimit     = 1000
)

type listFillsQuery struct {
	Limit   int    `form:"limit"`
	Symbol  string `form:"symbol"`
	Session string `form:"session"`
}

type listJournalOrdersQuery struct {
	Limit   int    `form:"limit"`
	Session string `form:"session"`
}

func journalLimit(limit int) int {
	if limit <= 0 || limit > maxOrderLimit {
		return defaultOrderLimit
	}
	return limit
}

// positionsResponse is the live risk snapshot plus, when the journal is
// enabled, what the journal recorded for the same session.
type positionsResponse struct {
	risk.Snapshot
	Journal *journalPositions `json:"journal,omitempty"`
}

type journalPositions struct {
	Session   string             `json:"session"`
	Positions map[string]float64 `json:"positions"`
	Notional  float64            `json:"notional"`
}

type listOrdersQuery struct {
	Limit  int    `form:"limit"`
	Status string `form:"status"`
	Symbol string `form:"symbol"`
}

func (q *listOrdersQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = defaultOrderLimit
	}
	if q.Limit > maxOrderLimit {
		q.Limit = maxOrderLimit
	}
	q.Status = strings.ToUpper(strings.TrimSpace(q.Status))
	q.Symbol = strings.ToUpper(strings.TrimSpace(q.Symbol))
}

func (q *listOrdersQuery) match(o order.Order) bool {
	if q.Status != "" && string(o.Status) != q.Status {
		return false
	}
	return q.Symbol == "" || o.Symbol == q.Symbol
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// getSystemStatus reports connection phases and the running configuration.
func (s *Server) getSystemStatus(c *gin.Context) {
	resp := gin.H{"meta": s.Meta}
	if s.Feed != nil {
		feed := gin.H{"phase": s.Feed.Phase()}
		if err := s.Feed.Err(); err != nil {
			feed["error"] = err.Error()
		}
		resp["feed"] = feed
	}
	if s.Orders != nil {
		resp["gateway"] = gin.H{
			"phase":   s.Orders.Phase(),
			"session": s.Orders.SessionID(),
			"pending": s.Orders.Pending(),
		}
	}
	if s.Strategy != nil {
		resp["strategy"] = s.Strategy.State()
	}
	c.JSON(http.StatusOK, resp)
}

// getMetrics returns pipeline counters and ack latency.
func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		respondError(c, http.StatusServiceUnavailable, "METRICS_UNAVAILABLE", "metrics not available")
		return
	}
	resp := gin.H{"pipeline": s.Metrics.Snapshot()}
	if s.Bus != nil {
		resp["bus_dropped"] = s.Bus.Dropped()
	}
	if s.Writer != nil {
		resp["journal"] = s.Writer.GetMetrics()
	}
	c.JSON(http.StatusOK, resp)
}

// getOrders returns the ledger, oldest first, filtered by status and symbol.
func (s *Server) getOrders(c *gin.Context) {
	if s.Orders == nil {
		respondError(c, http.StatusServiceUnavailable, "GATEWAY_UNAVAILABLE", "order gateway not available")
		return
	}

	var q listOrdersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "invalid query parameters")
		return
	}
	q.normalize()

	all := s.Orders.Orders()
	out := make([]order.Order, 0, len(all))
	for _, o := range all {
		if !q.match(o) {
			continue
		}
		out = append(out, o)
		if len(out) == q.Limit {
			break
		}
	}
	c.Header("X-Result-Limit", strconv.Itoa(q.Limit))
	c.JSON(http.StatusOK, out)
}

// getOrder returns one order by client id.
func (s *Server) getOrder(c *gin.Context) {
	if s.Orders == nil {
		respondError(c, http.StatusServiceUnavailable, "GATEWAY_UNAVAILABLE", "order gateway not available")
		return
	}
	o, ok := s.Orders.Order(c.Param("id"))
	if !ok {
		respondError(c, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found")
		return
	}
	c.JSON(http.StatusOK, o)
}

// cancelOrder queues an order.cancel request for a live order.
func (s *Server) cancelOrder(c *gin.Context) {
	if s.Orders == nil {
		respondError(c, http.StatusServiceUnavailable, "GATEWAY_UNAVAILABLE", "order gateway not available")
		return
	}
	id := c.Param("id")
	o, ok := s.Orders.Order(id)
	if !ok {
		respondError(c, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found")
		return
	}
	if o.Status.Terminal() {
		respondError(c, http.StatusConflict, "ORDER_TERMINAL", "order is already "+o.Status.Label())
		return
	}

	s.Orders.Cancel(id)
	s.logger.Info("cancel requested",
		zap.String("client_id", id),
		zap.String("operator", CurrentOperator(c)),
	)
	c.JSON(http.StatusAccepted, gin.H{
		"client_id": id,
		"cancel_id": wsapi.CancelID(id),
		"status":    "cancel_requested",
	})
}

// getPositions returns net positions, traded notional and the limits, with
// the journaled totals of the running session alongside.
func (s *Server) getPositions(c *gin.Context) {
	if s.Risk == nil {
		respondError(c, http.StatusServiceUnavailable, "RISK_UNAVAILABLE", "risk guard not available")
		return
	}
	resp := positionsResponse{Snapshot: s.Risk.Snapshot()}
	if s.Journal != nil {
		var session string
		if s.Orders != nil {
			session = s.Orders.SessionID()
		}
		ctx := c.Request.Context()
		positions, err := s.Journal.NetPositions(ctx, session)
		if err != nil {
			respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
			return
		}
		notional, err := s.Journal.TradedNotional(ctx, session)
		if err != nil {
			respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
			return
		}
		resp.Journal = &journalPositions{Session: session, Positions: positions, Notional: notional}
	}
	c.JSON(http.StatusOK, resp)
}

// getQuotes returns the last top of book per symbol.
func (s *Server) getQuotes(c *gin.Context) {
	if s.Quotes == nil {
		respondError(c, http.StatusServiceUnavailable, "QUOTES_UNAVAILABLE", "quote cache not available")
		return
	}
	c.JSON(http.StatusOK, s.Quotes.All())
}

// getFills returns journaled fills, newest first.
func (s *Server) getFills(c *gin.Context) {
	if s.Journal == nil {
		respondError(c, http.StatusServiceUnavailable, "JOURNAL_UNAVAILABLE", "order journal not enabled")
		return
	}

	var q listFillsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "invalid query parameters")
		return
	}

	symbol := strings.ToUpper(strings.TrimSpace(q.Symbol))
	fills, err := s.Journal.ListFills(c.Request.Context(), strings.TrimSpace(q.Session), symbol, journalLimit(q.Limit))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	if fills == nil {
		fills = []db.FillRecord{}
	}
	c.JSON(http.StatusOK, fills)
}

// getJournalOrders lists journaled orders across sessions, most recently
// updated first.
func (s *Server) getJournalOrders(c *gin.Context) {
	if s.Journal == nil {
		respondError(c, http.StatusServiceUnavailable, "JOURNAL_UNAVAILABLE", "order journal not enabled")
		return
	}

	var q listJournalOrdersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "invalid query parameters")
		return
	}

	orders, err := s.Journal.ListOrders(c.Request.Context(), strings.TrimSpace(q.Session), journalLimit(q.Limit))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	if orders == nil {
		orders = []db.OrderRecord{}
	}
	c.JSON(http.StatusOK, orders)
}

// getJournalOrder returns the last journaled state of one order.
func (s *Server) getJournalOrder(c *gin.Context) {
	if s.Journal == nil {
		respondError(c, http.StatusServiceUnavailable, "JOURNAL_UNAVAILABLE", "order journal not enabled")
		return
	}
	rec, err := s.Journal.GetOrder(c.Request.Context(), c.Param("session"), c.Param("id"))
	if errors.Is(err, db.ErrNotFound) {
		respondError(c, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found in journal")
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, rec)
}
