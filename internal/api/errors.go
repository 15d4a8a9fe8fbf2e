package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/MJE43/pf-slot-go/internal/engine"
	"github.com/MJE43/pf-slot-go/internal/ledger"
	"github.com/MJE43/pf-slot-go/internal/play"
	"github.com/MJE43/pf-slot-go/internal/session"
)

// ErrorBuilder assembles an APIError.
type ErrorBuilder struct {
	errType   string
	message   string
	context   map[string]any
	requestID string
}

// NewError starts an error of errType.
func NewError(errType, message string) *ErrorBuilder {
	return &ErrorBuilder{
		errType: errType,
		message: message,
		context: make(map[string]any),
	}
}

// WithContext adds a context field.
func (eb *ErrorBuilder) WithContext(key string, value any) *ErrorBuilder {
	eb.context[key] = value
	return eb
}

// WithRequestID tags the error with the request id.
func (eb *ErrorBuilder) WithRequestID(requestID string) *ErrorBuilder {
	eb.requestID = requestID
	return eb
}

// Build returns the APIError.
func (eb *ErrorBuilder) Build() APIError {
	ctx := eb.context
	if len(ctx) == 0 {
		ctx = nil
	}
	return APIError{
		Type:      eb.errType,
		Message:   eb.message,
		Context:   ctx,
		RequestID: eb.requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// classify maps a domain error to a status and error type.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrMalformedSeed):
		return http.StatusUnprocessableEntity, ErrTypeInvalidSeed
	case errors.Is(err, session.ErrSpinInFlight):
		return http.StatusConflict, ErrTypeSpinInFlight
	case errors.Is(err, session.ErrNoUnusedSeed):
		return http.StatusConflict, ErrTypeNoCredits
	case errors.Is(err, play.ErrNothingToClaim):
		return http.StatusConflict, ErrTypeNothingToClaim
	case errors.Is(err, play.ErrClaimInProgress):
		return http.StatusConflict, ErrTypeClaimInProgress
	case errors.Is(err, play.ErrActionThrottled):
		return http.StatusTooManyRequests, ErrTypeThrottled
	case errors.Is(err, ledger.ErrLedgerTimeout):
		return http.StatusGatewayTimeout, ErrTypeLedgerTimeout
	case errors.Is(err, ledger.ErrTxFailed):
		return http.StatusBadGateway, ErrTypeTxFailed
	case errors.Is(err, ledger.ErrWrongNetwork):
		return http.StatusServiceUnavailable, ErrTypeWrongNetwork
	case errors.Is(err, ledger.ErrLedgerRateLimited):
		return http.StatusServiceUnavailable, ErrTypeLedgerRateLimited
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrTypeTimeout
	}
	var rpcErr *ledger.RPCError
	var httpErr *ledger.HTTPError
	if errors.As(err, &rpcErr) || errors.As(err, &httpErr) {
		return http.StatusBadGateway, ErrTypeLedger
	}
	return http.StatusInternalServerError, ErrTypeInternal
}

// ErrorHandler writes and logs API errors.
type ErrorHandler struct {
	log zerolog.Logger
}

// NewErrorHandler creates an error handler.
func NewErrorHandler(log zerolog.Logger) *ErrorHandler {
	return &ErrorHandler{log: log}
}

// HandleError classifies err and writes it.
func (eh *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		status := http.StatusBadRequest
		switch apiErr.Type {
		case ErrTypeBundleNotFound:
			status = http.StatusNotFound
		case ErrTypeUnauthorized:
			status = http.StatusUnauthorized
		}
		eh.write(w, r, status, apiErr)
		return
	}
	status, errType := classify(err)
	apiErr = NewError(errType, err.Error()).
		WithRequestID(middleware.GetReqID(r.Context())).
		WithContext("path", r.URL.Path).
		Build()
	eh.write(w, r, status, apiErr)
}

// HandleValidationError writes a 400 naming the bad field.
func (eh *ErrorHandler) HandleValidationError(w http.ResponseWriter, r *http.Request, field, message string) {
	apiErr := NewError(ErrTypeValidation, fmt.Sprintf("validation failed: %s", message)).
		WithRequestID(middleware.GetReqID(r.Context())).
		WithContext("field", field).
		Build()
	eh.write(w, r, http.StatusBadRequest, apiErr)
}

func (eh *ErrorHandler) write(w http.ResponseWriter, r *http.Request, status int, apiErr APIError) {
	if apiErr.RequestID == "" {
		apiErr.RequestID = middleware.GetReqID(r.Context())
	}
	category := GetErrorCategory(apiErr.Type)
	event := eh.log.Warn()
	if status >= http.StatusInternalServerError {
		event = eh.log.Error()
	}
	event.Str("type", apiErr.Type).
		Str("category", string(category)).
		Int("status", status).
		Str("request_id", apiErr.RequestID).
		Str("path", r.URL.Path).
		Msg(apiErr.Message)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Type", apiErr.Type)
	w.Header().Set("X-Error-Category", string(category))
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiErr)
}

// RecoveryHandler turns panics into 500 responses.
func (eh *ErrorHandler) RecoveryHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				apiErr := NewError(ErrTypeInternal, "internal server error").
					WithContext("panic", fmt.Sprint(rvr)).
					Build()
				eh.write(w, r, http.StatusInternalServerError, apiErr)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
