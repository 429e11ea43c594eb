package http

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/case-engine/internal/observability"
	apperrors "github.com/spec-kit/case-engine/pkg/util/errorutil"
)

// RegisterMiddlewares attaches global middlewares such as error handling and logging.
// The request logger wraps the error handler so it records the final status.
func RegisterMiddlewares(app *fiber.App, logger *zap.Logger, metrics *observability.Metrics, timeout time.Duration) {
	app.Use(observability.RequestLogger(logger, metrics))
	if timeout > 0 {
		app.Use(requestTimeoutMiddleware(timeout))
	}
	app.Use(errorHandlingMiddleware(logger, metrics))
}

// ErrorHandler renders errors that escape the middleware chain, such as unknown routes.
func ErrorHandler(logger *zap.Logger, metrics *observability.Metrics) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		return writeError(c, logger, metrics, err)
	}
}

func requestTimeoutMiddleware(timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

func errorHandlingMiddleware(logger *zap.Logger, metrics *observability.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
				err = apperrors.NewInternalError(nil)
			}
			if err != nil {
				err = writeError(c, logger, metrics, err)
			}
		}()
		return c.Next()
	}
}

func writeError(c *fiber.Ctx, logger *zap.Logger, metrics *observability.Metrics, err error) error {
	domainErr := toDomainError(err)
	metrics.RecordError(c.Path(), c.Method(), domainErr.Code)

	body := fiber.Map{
		"code":    domainErr.Code,
		"message": domainErr.Message,
	}
	if len(domainErr.Details) > 0 {
		body["details"] = domainErr.Details
	}
	if requestID := observability.RequestID(c); requestID != "" {
		body["request_id"] = requestID
	}

	fields := []zap.Field{
		zap.String("request_id", observability.RequestID(c)),
		zap.String("code", domainErr.Code),
		zap.String("path", c.Path()),
		zap.Error(domainErr),
	}
	switch {
	case domainErr.Code == apperrors.CodeInvariantViolation:
		logger.Error("invariant violation", fields...)
	case domainErr.HTTPStatus >= 500:
		logger.Error("request failed", fields...)
	case domainErr.Code == apperrors.CodeConflict:
		logger.Debug("request conflicted", fields...)
	}

	return c.Status(domainErr.HTTPStatus).JSON(fiber.Map{"error": body})
}

func toDomainError(err error) *apperrors.DomainError {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code := apperrors.CodeInternal
		switch fiberErr.Code {
		case fiber.StatusNotFound:
			code = apperrors.CodeNotFound
		case fiber.StatusMethodNotAllowed, fiber.StatusBadRequest, fiber.StatusRequestEntityTooLarge, fiber.StatusUnprocessableEntity:
			code = apperrors.CodeValidation
		case fiber.StatusUnauthorized:
			code = apperrors.CodeUnauthorized
		case fiber.StatusForbidden:
			code = apperrors.CodeForbidden
		}
		return apperrors.NewDomainError(code, fiberErr.Message, fiberErr.Code, nil)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.ToDomainError(apperrors.NewStaleDependency("request", err))
	}
	return apperrors.ToDomainError(err)
}
