package http

import (
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"live-session-service/internal/domain"
)

var (
	errUnauthorized   = echo.NewHTTPError(http.StatusUnauthorized, "lecturer not authenticated")
	errForbidden      = echo.NewHTTPError(http.StatusForbidden, "permission denied")
	errMissingStudent = echo.NewHTTPError(http.StatusUnauthorized, "missing student session id")
)

// newHTTPErrorHandler maps domain error kinds to status codes. Anything it
// does not recognise is a logged 500.
func newHTTPErrorHandler(logger *slog.Logger, v *requestValidator) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		var message interface{} = http.StatusText(http.StatusInternalServerError)

		var (
			httpErr  *echo.HTTPError
			validErr validator.ValidationErrors
		)
		switch {
		case errors.As(err, &httpErr):
			code = httpErr.Code
			message = httpErr.Message
			if httpErr == middleware.ErrJWTMissing {
				code = http.StatusUnauthorized
			}
		case errors.As(err, &validErr):
			code = http.StatusBadRequest
			message = echo.Map{"errors": v.translate(validErr)}
		case errors.Is(err, domain.ErrNotFound):
			code, message = http.StatusNotFound, err.Error()
		case errors.Is(err, domain.ErrDuplicate), errors.Is(err, domain.ErrState):
			code, message = http.StatusConflict, err.Error()
		case errors.Is(err, domain.ErrUnsupported), errors.Is(err, domain.ErrInvalid):
			code, message = http.StatusBadRequest, err.Error()
		default:
			logger.Error("request failed",
				"method", c.Request().Method,
				"path", c.Path(),
				"error", err,
			)
		}

		if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}
		if c.Response().Committed {
			return
		}
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, message)
		}
		if err != nil {
			logger.Error("write error response", "error", err)
		}
	}
}
