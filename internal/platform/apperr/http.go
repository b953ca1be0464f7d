package apperr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ErrorResponse is the JSON body written for every rejected request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// genericTenantMessage is shared by not-found and inactive tenants so the
// two cannot be told apart by callers.
const genericTenantMessage = "invalid or inactive tenant"

// StatusCode maps a Kind to its HTTP status.
func StatusCode(kind Kind) int {
	switch kind {
	case KindTenantNotFound, KindTenantInactive, KindValidation,
		KindInvalidOrExpiredToken, KindInvalidCurrentPassword:
		return http.StatusBadRequest
	case KindInvalidCredentials, KindAccountNotActive, KindInvalidRefreshToken, KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindUserNotFound, KindNoActiveSubscription, KindNotFound:
		return http.StatusNotFound
	case KindDuplicateUser, KindTenantExists, KindConflict:
		return http.StatusConflict
	case KindQuotaExceeded:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

// Render converts err into a status code and response body.
func Render(err error) (int, ErrorResponse) {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError, ErrorResponse{
			Error:   http.StatusText(http.StatusInternalServerError),
			Message: "internal server error",
			Code:    string(KindInternal),
		}
	}

	kind := e.Kind
	msg := e.Message
	if kind == KindTenantNotFound || kind == KindTenantInactive {
		// Both render under one code.
		kind = KindTenantNotFound
		msg = genericTenantMessage
	}
	status := StatusCode(kind)
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	return status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: msg,
		Code:    string(kind),
	}
}

// HTTPErrorHandler returns an echo.HTTPErrorHandler that renders *Error
// values with their stable code and falls back to echo's own handling of
// *echo.HTTPError.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			msg, _ := he.Message.(string)
			if msg == "" {
				msg = http.StatusText(he.Code)
			}
			_ = c.JSON(he.Code, ErrorResponse{
				Error:   http.StatusText(he.Code),
				Message: msg,
				Code:    httpCode(he.Code),
			})
			return
		}

		status, body := Render(err)
		if status >= http.StatusInternalServerError {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).Str("request_id", rid).Str("path", c.Request().URL.Path).Msg("unhandled error")
		}
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = c.JSON(status, body)
	}
}

func httpCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return string(KindValidation)
	case http.StatusUnauthorized:
		return string(KindUnauthorized)
	case http.StatusForbidden:
		return string(KindForbidden)
	case http.StatusNotFound:
		return string(KindNotFound)
	case http.StatusConflict:
		return string(KindConflict)
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	case http.StatusPaymentRequired:
		return string(KindQuotaExceeded)
	default:
		if status >= http.StatusInternalServerError {
			return string(KindInternal)
		}
		return http.StatusText(status)
	}
}
