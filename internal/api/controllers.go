package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"autotrade-core/internal/ledger"
	"autotrade-core/pkg/db"
)

func (s *Server) getStatus(c *gin.Context) {
	if s.session == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no active session"})
		return
	}
	c.JSON(http.StatusOK, s.session.Status(c.Request.Context()))
}

func (s *Server) getPositions(c *gin.Context) {
	if s.session == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no active session"})
		return
	}
	c.JSON(http.StatusOK, s.session.Positions(c.Request.Context()))
}

// getTrades returns the current session's ledger, or the persisted trades
// of ?date=YYYYMMDD.
func (s *Server) getTrades(c *gin.Context) {
	records, ok := s.trades(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, records)
}

func (s *Server) getDailyProfit(c *gin.Context) {
	records, ok := s.trades(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ledger.AggregateDaily(records))
}

func (s *Server) trades(c *gin.Context) ([]ledger.TradeRecord, bool) {
	date := c.Query("date")
	if date == "" {
		if s.session == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no active session"})
			return nil, false
		}
		return s.session.Trades(c.Request.Context()), true
	}

	day, err := time.ParseInLocation(db.DayFormat, date, time.Local)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYYMMDD"})
		return nil, false
	}
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trade history unavailable"})
		return nil, false
	}
	rows, err := s.history.ListTradesByDay(c.Request.Context(), day)
	if err != nil {
		s.log.Error("list trades", zap.String("date", date), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load trades"})
		return nil, false
	}
	return ledger.FromRows(rows), true
}
