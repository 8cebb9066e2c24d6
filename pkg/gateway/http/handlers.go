package httpgateway

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/joripage/orderexec/pkg/oms"
	"github.com/joripage/orderexec/pkg/oms/model"
	"github.com/joripage/orderexec/pkg/oms/strategy"
	"go.uber.org/zap"
)

func statusOf(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidOrderParameters):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, oms.ErrOwnedByStrategy),
		errors.Is(err, oms.ErrInvalidOrderStatus),
		errors.Is(err, model.ErrAlreadyFilled),
		errors.Is(err, strategy.ErrArchived),
		errors.Is(err, strategy.ErrNotPausable):
		return http.StatusConflict
	case errors.Is(err, model.ErrSymbolSuspended),
		errors.Is(err, model.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case model.IsTransient(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, err error, extra gin.H) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		s.logger.Error(c.Request.Context(), "request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	body := gin.H{"error": err.Error()}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(status, body)
}

func (s *Server) submitOrderHandler(c *gin.Context) {
	var p model.OrderParams
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	kind := oms.RequestKind(p.Type)
	if kind != oms.KindMarket && kind != oms.KindLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be MARKET or LIMIT"})
		return
	}

	h, err := s.oms.Submit(c.Request.Context(), oms.Request{Kind: kind, Order: &p})
	if err != nil {
		// a rejected submission still has a record
		var extra gin.H
		if h.OrderID != "" {
			extra = gin.H{"order_id": h.OrderID}
		}
		s.fail(c, err, extra)
		return
	}
	order, err := s.oms.GetOrder(h.OrderID)
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (s *Server) listOrdersHandler(c *gin.Context) {
	orders := s.oms.ListOrders(c.Query("symbol"))
	if orders == nil {
		orders = []model.Order{}
	}
	c.JSON(http.StatusOK, orders)
}

func (s *Server) getOrderHandler(c *gin.Context) {
	order, err := s.oms.GetOrder(c.Param("id"))
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order":   order,
		"history": s.oms.OrderHistory(order.ClientOrderID),
	})
}

func (s *Server) cancelOrderHandler(c *gin.Context) {
	id := c.Param("id")
	if err := s.oms.CancelOrder(c.Request.Context(), id); err != nil {
		s.fail(c, err, nil)
		return
	}
	order, err := s.oms.GetOrder(id)
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) submitStrategyHandler(c *gin.Context) {
	var req oms.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Kind == oms.KindMarket || req.Kind == oms.KindLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "use /orders for market and limit orders"})
		return
	}
	h, err := s.oms.Submit(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	inst, err := s.oms.GetStrategy(h.StrategyID)
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusCreated, inst)
}

func (s *Server) listStrategiesHandler(c *gin.Context) {
	list := s.oms.ListStrategies()
	if list == nil {
		list = []model.StrategyInstance{}
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) getStrategyHandler(c *gin.Context) {
	inst, err := s.oms.GetStrategy(c.Param("id"))
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, inst)
}

func (s *Server) strategyControl(c *gin.Context, op func(id string) error) {
	id := c.Param("id")
	if err := op(id); err != nil {
		s.fail(c, err, nil)
		return
	}
	inst, err := s.oms.GetStrategy(id)
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, inst)
}

func (s *Server) cancelStrategyHandler(c *gin.Context) {
	s.strategyControl(c, func(id string) error { return s.oms.CancelStrategy(c.Request.Context(), id) })
}

func (s *Server) pauseHandler(c *gin.Context) {
	s.strategyControl(c, func(id string) error { return s.oms.PauseGrid(c.Request.Context(), id) })
}

func (s *Server) resumeHandler(c *gin.Context) {
	s.strategyControl(c, func(id string) error { return s.oms.ResumeGrid(c.Request.Context(), id) })
}

func (s *Server) balanceHandler(c *gin.Context) {
	bals, err := s.oms.Balances(c.Request.Context())
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, bals)
}

func (s *Server) anomaliesHandler(c *gin.Context) {
	list := s.oms.Anomalies()
	if list == nil {
		list = []model.Anomaly{}
	}
	c.JSON(http.StatusOK, list)
}
