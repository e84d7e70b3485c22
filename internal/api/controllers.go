package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"broker-core/internal/engine"
	"broker-core/pkg/brokers"
	"broker-core/pkg/brokers/common"
	"broker-core/pkg/calendar"
	"broker-core/pkg/credentials"
	"broker-core/pkg/symbols"
)

// getSystemStatus reports runtime status for the UI.
func (s *Server) getSystemStatus(c *gin.Context) {
	now := time.Now()
	status := gin.H{
		"broker":  s.Meta.Broker,
		"pairs":   s.Meta.Pairs,
		"version": s.Meta.Version,
	}
	if s.Calendar != nil {
		status["session"] = string(s.Calendar.SessionAt(now))
		status["market_open"] = s.Calendar.IsOpen(now)
		status["next_open"] = s.Calendar.NextOpen(now).Format(time.RFC3339)
	}
	if s.Engine != nil {
		status["open_positions"] = s.Engine.Book().Len()
	}
	if s.Recon != nil {
		if _, at, ok := s.Recon.LastReport(); ok {
			status["last_reconcile"] = at.UTC().Format(time.RFC3339)
		}
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) getBrokers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"active":    s.Meta.Broker,
		"supported": brokers.Supported(),
	})
}

func (s *Server) getSession(c *gin.Context) {
	now := time.Now()
	resp := gin.H{
		"session":     string(s.Calendar.SessionAt(now)),
		"market_open": s.Calendar.IsOpen(now),
		"next_open":   s.Calendar.NextOpen(now).Format(time.RFC3339),
	}
	if s.Calendar.IsOpen(now) {
		resp["time_until_close"] = s.Calendar.TimeUntilClose(now).String()
	} else {
		resp["time_until_open"] = s.Calendar.TimeUntilOpen(now).String()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getHolidays(c *gin.Context) {
	days := queryInt(c, "days", 90)
	c.JSON(http.StatusOK, gin.H{
		"holidays": s.Calendar.UpcomingHolidays(time.Now().In(calendar.IST), days),
	})
}

func (s *Server) addHoliday(c *gin.Context) {
	var req struct {
		Date string `json:"date"`
	}
	if err := c.BindJSON(&req); err != nil {
		badRequest(c, "invalid request payload")
		return
	}
	if err := s.Calendar.AddHoliday(req.Date); err != nil {
		badRequest(c, err.Error())
		return
	}
	c.JSON(http.StatusCreated, gin.H{"date": req.Date})
}

func (s *Server) removeHoliday(c *gin.Context) {
	if err := s.Calendar.RemoveHoliday(c.Param("date")); err != nil {
		badRequest(c, err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getLimiterStats(c *gin.Context) {
	if s.Limiter == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, s.Limiter.Stats())
}

func (s *Server) getPositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": s.Engine.Book().All()})
}

func (s *Server) getOrders(c *gin.Context) {
	if s.Queries == nil {
		c.JSON(http.StatusOK, gin.H{"orders": []any{}})
		return
	}
	pair := c.Query("pair")
	limit := queryInt(c, "limit", 50)
	orders, err := s.Queries.RecentOrders(c.Request.Context(), pair, limit)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) getLotSizes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"lot_sizes": s.Lots.Snapshot()})
}

func (s *Server) getLastReconcile(c *gin.Context) {
	report, at, ok := s.Recon.LastReport()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"ran": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ran":    true,
		"at":     at.UTC().Format(time.RFC3339),
		"report": report,
	})
}

func (s *Server) runReconcile(c *gin.Context) {
	s.Recon.RunOnce(c.Request.Context())
	s.getLastReconcile(c)
}

// openPosition submits an entry with its protective stop.
func (s *Server) openPosition(c *gin.Context) {
	var req struct {
		Pair   string  `json:"pair"`
		Side   string  `json:"side"`
		Amount float64 `json:"amount"`
	}
	if err := c.BindJSON(&req); err != nil {
		badRequest(c, "invalid request payload")
		return
	}
	side := common.Side(req.Side)
	if side != common.SideBuy && side != common.SideSell {
		badRequest(c, "side must be BUY or SELL")
		return
	}
	if req.Pair == "" || req.Amount <= 0 {
		badRequest(c, "pair and positive amount are required")
		return
	}

	pos, err := s.Engine.Open(c.Request.Context(), req.Pair, side, req.Amount)
	if err != nil {
		tradeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"position": pos})
}

// closePosition exits a tracked position.
func (s *Server) closePosition(c *gin.Context) {
	var req struct {
		Pair string `json:"pair"`
	}
	if err := c.BindJSON(&req); err != nil || req.Pair == "" {
		badRequest(c, "pair is required")
		return
	}

	result, err := s.Engine.Close(c.Request.Context(), req.Pair)
	if err != nil {
		if errors.Is(err, engine.ErrAmbiguous) {
			c.JSON(http.StatusAccepted, gin.H{
				"code":    "EXIT_PENDING",
				"message": "exit outcome unknown, reconciliation will resolve it",
			})
			return
		}
		tradeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": result})
}

func (s *Server) listCredentials(c *gin.Context) {
	if !s.vaultReady(c) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"brokers": s.Vault.List()})
}

// putCredentials stores broker credentials. Secrets are sealed at rest
// and never echoed back.
func (s *Server) putCredentials(c *gin.Context) {
	if !s.vaultReady(c) {
		return
	}
	var creds credentials.Credentials
	if err := c.BindJSON(&creds); err != nil {
		badRequest(c, "invalid request payload")
		return
	}
	if creds.Broker == "" {
		badRequest(c, "broker is required")
		return
	}
	if err := s.Vault.Put(creds); err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"broker": creds.Broker})
}

func (s *Server) deleteCredentials(c *gin.Context) {
	if !s.vaultReady(c) {
		return
	}
	if err := s.Vault.Delete(c.Param("broker")); err != nil {
		if errors.Is(err, credentials.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"code":  "NOT_FOUND",
				"error": err.Error(),
			})
			return
		}
		internalError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) vaultReady(c *gin.Context) bool {
	if s.Vault == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":  "VAULT_NOT_CONFIGURED",
			"error": "credential vault is not configured",
		})
		return false
	}
	return true
}

// tradeError maps engine errors onto HTTP statuses.
func tradeError(c *gin.Context, err error) {
	var insufficient *engine.InsufficientSizeError
	var rejected *engine.RejectedError
	var exitFailed *engine.ExitFailedError
	var unmapped *symbols.UnmappedError

	switch {
	case errors.Is(err, engine.ErrMarketClosed):
		c.JSON(http.StatusConflict, gin.H{"code": "MARKET_CLOSED", "error": err.Error()})
	case errors.Is(err, engine.ErrPositionExists):
		c.JSON(http.StatusConflict, gin.H{"code": "POSITION_EXISTS", "error": err.Error()})
	case errors.Is(err, engine.ErrNoPosition):
		c.JSON(http.StatusNotFound, gin.H{"code": "NO_POSITION", "error": err.Error()})
	case errors.As(err, &unmapped):
		c.JSON(http.StatusNotFound, gin.H{"code": "UNMAPPED_PAIR", "error": err.Error()})
	case errors.Is(err, common.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"code": "RATE_LIMITED", "error": err.Error()})
	case errors.As(err, &insufficient):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"code": "BELOW_ONE_LOT", "error": err.Error()})
	case errors.As(err, &rejected):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"code": "REJECTED", "error": rejected.Reason})
	case errors.As(err, &exitFailed):
		c.JSON(http.StatusBadGateway, gin.H{"code": "EXIT_FAILED", "error": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"code": "BACKEND_ERROR", "error": err.Error()})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "error": msg})
}

func internalError(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
}

func queryInt(c *gin.Context, key string, def int) int {
	if v := c.Query(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
