package server

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fetchq/fetchq/internal/dispatch"
	"github.com/fetchq/fetchq/internal/version"
)

// StatsSource 提供调度器运行计数，允许测试注入假实现。
type StatsSource interface {
	Stats() dispatch.Stats
}

// AppOptions controls the diagnostics application bound to ListenPort.
type AppOptions struct {
	Logger     *logrus.Logger
	Stats      StatsSource
	ListenPort int
}

const contextKeyRequestID = "_fetchq_request_id"

// NewApp 构建诊断用 Fiber 应用，暴露 /-/health 与 /-/stats 两个只读接口。
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Stats == nil {
		return nil, errors.New("stats source is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	app.Get("/-/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"version": version.Full(),
		})
	})

	app.Get("/-/stats", func(c fiber.Ctx) error {
		opts.Logger.WithFields(logrus.Fields{
			"action":     "stats_query",
			"request_id": RequestID(c),
		}).Debug("stats served")
		return c.JSON(opts.Stats.Stats())
	})

	return app, nil
}

// requestIDMiddleware 为每个诊断请求生成请求 ID，便于日志关联。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
