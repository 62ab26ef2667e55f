// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package webhook exposes the ingestion pipeline over HTTP. Relay
// infrastructure POSTs one JSON event per request; the response reports
// how the event was handled. A non-2xx status is returned only when the
// event could not be handled and should be redelivered.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/bcem/mailtriage/internal/ingest"
	"github.com/bcem/mailtriage/internal/payload"
)

const (
	healthTimeout   = 2 * time.Second
	shutdownTimeout = 10 * time.Second
)

// Processor runs a webhook body through the ingestion pipeline.
type Processor interface {
	Process(ctx context.Context, body []byte) (*ingest.Result, error)
}

// Pinger reports whether the persistence backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the webhook and health endpoints.
type Handler struct {
	pipeline Processor
	health   Pinger
}

// NewHandler creates a webhook handler.
func NewHandler(pipeline Processor, health Pinger) *Handler {
	return &Handler{pipeline: pipeline, health: health}
}

// ServeWebhook handles one delivery.
//
//   - 200 with the pipeline result for filtered, skipped, duplicate and
//     processed events
//   - 500 with an error for schema failures and collaborator failures
func (h *Handler) ServeWebhook(c echo.Context) error {
	req := c.Request()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		slog.Error("failed to read webhook body", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to read request body"})
	}

	res, err := h.pipeline.Process(req.Context(), body)
	if err != nil {
		var verr *payload.ValidationError
		if errors.As(err, &verr) {
			slog.Warn("webhook payload rejected", "source", c.Param("source"), "error", verr)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": verr.Error()})
		}
		slog.Error("webhook processing failed",
			"source", c.Param("source"),
			"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			"error", err,
		)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": fmt.Sprintf("internal error: %v", err)})
	}

	return c.JSON(http.StatusOK, res)
}

// ServeHealth performs a cheap read against the store.
func (h *Handler) ServeHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
	defer cancel()

	if err := h.health.Ping(ctx); err != nil {
		slog.Warn("health check failed", "error", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "webhook_ready"})
}

// NewServer builds the echo instance with middleware and routes. bodyLimit
// uses echo size notation such as "10M".
func NewServer(h *Handler, bodyLimit string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger())
	e.Use(middleware.BodyLimit(bodyLimit))

	// Routes
	e.POST("/webhook", h.ServeWebhook)
	e.POST("/webhook/:source", h.ServeWebhook)
	e.GET("/health", h.ServeHealth)

	return e
}

// errorHandler answers framework errors (unknown route, wrong method,
// oversized body, panics) with the same {"error": ...} shape as the
// handlers.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	msg := http.StatusText(code)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = fmt.Sprint(he.Message)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, map[string]string{"error": msg})
	}
	if err != nil {
		slog.Warn("failed to write error response", "error", err)
	}
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("request_id", v.RequestID),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			slog.LogAttrs(c.Request().Context(), level, "request", attrs...)
			return nil
		},
	})
}

// Serve starts the webhook HTTP server on the given port.
// It binds the port immediately and signals readiness via the first returned
// channel before starting to accept connections. Cancelling ctx shuts the
// server down; the second channel closes once in-flight requests have
// finished or the shutdown timeout forced them closed.
func Serve(ctx context.Context, port int, handler http.Handler) (ready, done <-chan struct{}, err error) {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, nil, fmt.Errorf("bind webhook port %d: %w", port, err)
	}

	readyCh := make(chan struct{})
	doneCh := make(chan struct{})

	go func() {
		defer close(doneCh)
		<-ctx.Done()
		slog.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("webhook server shutdown incomplete", "error", err)
			server.Close()
		}
	}()

	go func() {
		slog.Info("webhook server listening", "port", port)
		close(readyCh)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("webhook server error", "error", err)
		}
	}()

	return readyCh, doneCh, nil
}
