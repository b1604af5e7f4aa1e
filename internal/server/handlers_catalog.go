package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront-backend/internal/domain"
)

func (s *Server) handleAvailability(c *gin.Context) {
	qty, err := queryInt(c, "quantity", 1)
	if err != nil {
		s.badRequest(c, "quantity must be an integer")
		return
	}
	a, err := s.deps.Inventory.Check(c.Request.Context(), c.Param("id"), qty)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

type cartItemReq struct {
	ProductID string `json:"productId" binding:"required"`
	Quantity  int    `json:"quantity"`
}

func (s *Server) handleListCart(c *gin.Context) {
	items, err := s.deps.Carts.List(c.Request.Context(), c.GetString(ctxUserID))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) handleAddCartItem(c *gin.Context) {
	var req cartItemReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "productId required")
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	it, err := s.deps.Carts.Add(c.Request.Context(), c.GetString(ctxUserID), req.ProductID, req.Quantity)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, it)
}

func (s *Server) handleRemoveCartItem(c *gin.Context) {
	if err := s.deps.Carts.Remove(c.Request.Context(), c.GetString(ctxUserID), c.Param("productId")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleCreateCategories accepts either one category object or an array.
func (s *Server) handleCreateCategories(c *gin.Context) {
	var payload domain.CategoryPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		s.badRequest(c, "body must be a category object or an array of them")
		return
	}
	out, err := s.deps.Categories.Create(c.Request.Context(), payload)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"categories": out})
}
