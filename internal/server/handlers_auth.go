package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"storefront-backend/internal/domain"
)

type otpReq struct {
	Email   string            `json:"email" binding:"required,email"`
	Purpose domain.OtpPurpose `json:"purpose" binding:"required"`
}

type otpVerifyReq struct {
	Email   string            `json:"email" binding:"required,email"`
	Purpose domain.OtpPurpose `json:"purpose" binding:"required"`
	Code    string            `json:"code" binding:"required"`
}

type otpIssued struct {
	ID        string            `json:"id"`
	Email     string            `json:"email"`
	Purpose   domain.OtpPurpose `json:"purpose"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

func issued(o *domain.OtpVerification) otpIssued {
	return otpIssued{
		ID:        o.ID,
		Email:     o.Email,
		Purpose:   o.Purpose,
		ExpiresAt: o.ExpiresAt,
	}
}

func (s *Server) handleOTPGenerate(c *gin.Context) {
	var req otpReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "email and purpose required")
		return
	}
	o, err := s.deps.OTP.Generate(c.Request.Context(), req.Email, req.Purpose)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, issued(o))
}

func (s *Server) handleOTPResend(c *gin.Context) {
	var req otpReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "email and purpose required")
		return
	}
	o, err := s.deps.OTP.Resend(c.Request.Context(), req.Email, req.Purpose)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, issued(o))
}

func (s *Server) handleOTPVerify(c *gin.Context) {
	var req otpVerifyReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "email, purpose and code required")
		return
	}
	if err := s.deps.OTP.Verify(c.Request.Context(), req.Email, req.Code, req.Purpose); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"verified": true})
}

type loginReq struct {
	Email string `json:"email" binding:"required,email"`
	Code  string `json:"code" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "email and code required")
		return
	}
	token, u, err := s.deps.Auth.LoginWithOTP(c.Request.Context(), req.Email, req.Code)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": u})
}

func (s *Server) handleRegister(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "email and code required")
		return
	}
	token, u, err := s.deps.Auth.RegisterWithOTP(c.Request.Context(), req.Email, req.Code)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token": token, "user": u})
}
