package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"storefront-backend/internal/domain"
	"storefront-backend/internal/usecase"
)

type placeOrderReq struct {
	Source         domain.ItemSource     `json:"source"`
	Items          []usecase.ItemRequest `json:"items"`
	DeliveryFee    decimal.Decimal       `json:"deliveryFee"`
	DeliveryOption domain.DeliveryOption `json:"deliveryOption"`
	PaymentMethod  domain.PaymentMethod  `json:"paymentMethod" binding:"required"`
	Total          *decimal.Decimal      `json:"total"`
	IdempotencyKey string                `json:"idempotencyKey"`
}

func (s *Server) handlePlaceOrder(c *gin.Context) {
	var req placeOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid order payload")
		return
	}
	key := req.IdempotencyKey
	if h := c.GetHeader("Idempotency-Key"); h != "" {
		key = h
	}
	o, err := s.deps.Orders.PlaceOrder(c.Request.Context(), c.GetString(ctxUserID), usecase.PlaceOrderRequest{
		Source:         req.Source,
		Items:          req.Items,
		DeliveryFee:    req.DeliveryFee,
		DeliveryOption: req.DeliveryOption,
		PaymentMethod:  req.PaymentMethod,
		ClientTotal:    req.Total,
		IdempotencyKey: key,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

func (s *Server) handleGetOrder(c *gin.Context) {
	o, err := s.deps.Orders.GetOrder(c.Request.Context(), c.GetString(ctxUserID), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) handleListOrders(c *gin.Context) {
	page, err := queryInt(c, "page", 1)
	if err != nil {
		s.badRequest(c, "page must be an integer")
		return
	}
	size, err := queryInt(c, "pageSize", 0)
	if err != nil {
		s.badRequest(c, "pageSize must be an integer")
		return
	}
	res, err := s.deps.Orders.ListOrders(c.Request.Context(), c.GetString(ctxUserID), page, size)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type cancelOrderReq struct {
	Reason string `json:"reason"`
}

func (s *Server) handleCancelOrder(c *gin.Context) {
	var req cancelOrderReq
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		s.badRequest(c, "invalid json")
		return
	}
	o, err := s.deps.Orders.CancelOrder(c.Request.Context(), c.GetString(ctxUserID), c.Param("id"), req.Reason)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
