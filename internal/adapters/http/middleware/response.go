package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"carehub/internal/domain"
	"carehub/internal/ports"
)

type Kind string

const (
	KindUnauthenticated Kind = "unauthenticated"
	KindForbidden       Kind = "forbidden"
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindUnavailable     Kind = "unavailable"
	KindInternal        Kind = "internal"
)

const (
	statusSuccess = "success"
	statusError   = "error"

	retryAfterSeconds = 5
)

// Envelope is the body of every JSON response.
type Envelope struct {
	Status string     `json:"status"`
	Data   any        `json:"data,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
}

type ErrorBody struct {
	Kind    Kind         `json:"kind"`
	Message string       `json:"message"`
	Reason  string       `json:"reason,omitempty"`
	Fields  []FieldError `json:"fields,omitempty"`
	SignIn  string       `json:"sign_in,omitempty"`
}

type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// APIError is an error that already knows its response.
type APIError struct {
	Status int
	Body   ErrorBody
}

func (e *APIError) Error() string { return string(e.Body.Kind) + ": " + e.Body.Message }

func Success(c echo.Context, status int, data any) error {
	if status == http.StatusNoContent {
		return c.NoContent(status)
	}
	return c.JSON(status, Envelope{Status: statusSuccess, Data: data})
}

// Classify maps any error to its response. Text of unexpected errors is
// replaced by a generic message.
func Classify(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]FieldError, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, FieldError{Field: fe.Field(), Rule: fe.Tag()})
		}
		return &APIError{Status: http.StatusBadRequest, Body: ErrorBody{Kind: KindValidation, Message: "request validation failed", Fields: fields}}
	}
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return fromHTTPError(httpErr)
	}
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return &APIError{Status: http.StatusUnauthorized, Body: ErrorBody{Kind: KindUnauthenticated, Message: err.Error()}}
	case errors.Is(err, domain.ErrForbidden):
		return &APIError{Status: http.StatusForbidden, Body: ErrorBody{Kind: KindForbidden, Message: err.Error()}}
	case errors.Is(err, domain.ErrInvalidInput):
		return &APIError{Status: http.StatusBadRequest, Body: ErrorBody{Kind: KindValidation, Message: err.Error()}}
	case errors.Is(err, domain.ErrNotFound):
		return &APIError{Status: http.StatusNotFound, Body: ErrorBody{Kind: KindNotFound, Message: err.Error()}}
	case errors.Is(err, domain.ErrConflict):
		return &APIError{Status: http.StatusConflict, Body: ErrorBody{Kind: KindConflict, Message: err.Error()}}
	case errors.Is(err, domain.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return &APIError{Status: http.StatusServiceUnavailable, Body: ErrorBody{Kind: KindUnavailable, Message: "service temporarily unavailable"}}
	}
	return &APIError{Status: http.StatusInternalServerError, Body: ErrorBody{Kind: KindInternal, Message: "internal error"}}
}

func fromHTTPError(he *echo.HTTPError) *APIError {
	msg := http.StatusText(he.Code)
	if s, ok := he.Message.(string); ok && he.Code < http.StatusInternalServerError {
		msg = s
	}
	var kind Kind
	switch {
	case he.Code == http.StatusUnauthorized:
		kind = KindUnauthenticated
	case he.Code == http.StatusForbidden:
		kind = KindForbidden
	case he.Code == http.StatusNotFound || he.Code == http.StatusMethodNotAllowed:
		kind = KindNotFound
	case he.Code == http.StatusConflict:
		kind = KindConflict
	case he.Code == http.StatusServiceUnavailable:
		kind = KindUnavailable
	case he.Code >= 400 && he.Code < 500:
		kind = KindValidation
	default:
		kind = KindInternal
		msg = "internal error"
	}
	return &APIError{Status: he.Code, Body: ErrorBody{Kind: kind, Message: msg}}
}

func WriteError(c echo.Context, err error) error {
	apiErr := Classify(err)
	if apiErr.Body.Kind == KindUnavailable {
		c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	body := apiErr.Body
	if c.Request().Method == http.MethodHead {
		return c.NoContent(apiErr.Status)
	}
	return c.JSON(apiErr.Status, Envelope{Status: statusError, Error: &body})
}

// ErrorHandler replaces echo's default so route misses, bind failures and
// handler errors share one envelope.
func ErrorHandler(logger ports.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		apiErr := Classify(err)
		ctx := c.Request().Context()
		switch apiErr.Body.Kind {
		case KindInternal:
			logger.Error(ctx, "request failed", "path", c.Request().URL.Path, "error", err)
		case KindUnavailable:
			logger.Warn(ctx, "dependency unavailable", "path", c.Request().URL.Path, "error", err)
		}
		if werr := WriteError(c, apiErr); werr != nil {
			logger.Error(ctx, "write error response", "error", werr)
		}
	}
}
