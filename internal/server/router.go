package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/artisan/internal/artifact"
	"github.com/any-hub/artisan/internal/logging"
)

// AppOptions controls how the read service should behave on a specific port.
type AppOptions struct {
	Logger     *logrus.Logger
	Cache      *artifact.Cache
	ListenPort int
}

const contextKeyRequestID = "_artisan_request_id"

// PathPrefix is the URL prefix under which every artifact route is mounted.
const PathPrefix = "/-/"

// NewApp builds a Fiber application with request ID, recovery and access
// logging middlewares. Routes outside PathPrefix answer 404 route_not_found.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Cache == nil {
		return nil, errors.New("artifact cache is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts.Logger))

	app.All("/*", func(c fiber.Ctx) error {
		if strings.HasPrefix(string(c.Request().URI().Path()), PathPrefix) {
			return c.Next()
		}
		return RenderError(c, fiber.StatusNotFound, "route_not_found")
	})

	return app, nil
}

// requestContextMiddleware 生成请求 ID，并在请求结束后记录失败的访问日志。
func requestContextMiddleware(logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		started := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil || status >= fiber.StatusBadRequest {
			fields := logging.RequestFields(reqID, c.Method(), c.Path(), status)
			fields["action"] = "request"
			fields["elapsed_ms"] = time.Since(started).Milliseconds()
			entry := logger.WithFields(fields)
			if err != nil {
				entry = entry.WithError(err)
			}
			if status >= fiber.StatusInternalServerError || err != nil {
				entry.Error("request failed")
			} else {
				entry.Warn("request rejected")
			}
		}
		return err
	}
}

// RenderError writes the JSON error envelope shared by every route.
func RenderError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
