// Package server provides the HTTP surface of the proxy.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"llmproxy/internal/core"
)

// Gateway is the request pipeline behind the HTTP handlers.
type Gateway interface {
	Admit(clientIP string) (*core.QueryResponse, bool)
	Process(ctx context.Context, clientIP string, req *core.QueryRequest) (int, *core.QueryResponse)
}

// StatusSource reports provider availability.
type StatusSource interface {
	Status(ctx context.Context) core.StatusResponse
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler holds the HTTP handlers
type Handler struct {
	gateway Gateway
	status  StatusSource
	now     func() time.Time
}

// NewHandler creates a new handler
func NewHandler(gw Gateway, status StatusSource) *Handler {
	return &Handler{
		gateway: gw,
		status:  status,
		now:     time.Now,
	}
}

// admit rejects requests from clients over their rate limit.
func (h *Handler) admit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if rejected, ok := h.gateway.Admit(clientIP(c.Request())); !ok {
			return c.JSON(http.StatusTooManyRequests, rejected)
		}
		return next(c)
	}
}

// Query handles POST /api/query
func (h *Handler) Query(c echo.Context) error {
	ip := clientIP(c.Request())

	var req core.QueryRequest
	if err := c.Bind(&req); err != nil {
		// A malformed body still costs the client one token.
		if rejected, ok := h.gateway.Admit(ip); !ok {
			return c.JSON(http.StatusTooManyRequests, rejected)
		}
		return c.JSON(http.StatusBadRequest, &core.QueryResponse{
			Error:     bindErrorMessage(err),
			ErrorType: core.ErrorTypeValidation,
			Timestamp: h.now(),
		})
	}

	if req.RequestID == "" {
		req.RequestID = c.Response().Header().Get(echo.HeaderXRequestID)
	}

	status, resp := h.gateway.Process(c.Request().Context(), ip, &req)
	if resp.RequestID != "" {
		c.Response().Header().Set(echo.HeaderXRequestID, resp.RequestID)
	}
	return c.JSON(status, resp)
}

func bindErrorMessage(err error) string {
	var unknown *core.UnknownProviderError
	if errors.As(err, &unknown) {
		return unknown.Error()
	}
	return "Invalid request body"
}

// Status handles GET /api/status
func (h *Handler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, h.status.Status(c.Request().Context()))
}

// Health handles GET /api/health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Timestamp: h.now()})
}

// Download handles POST /api/download
func (h *Handler) Download(c echo.Context) error {
	var req DownloadRequest
	if err := c.Bind(&req); err != nil {
		return c.NoContent(http.StatusBadRequest)
	}
	return writeAttachment(c, &req)
}
