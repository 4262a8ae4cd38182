package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"

	"influxq/internal/logger"
	"influxq/internal/metrics"
)

// RequestIDHeader carries the ID generated for each outgoing request
const RequestIDHeader = "X-Request-ID"

// Middleware decorates an outgoing transport
type Middleware func(http.RoundTripper) http.RoundTripper

// RoundTripperFunc adapts a function to http.RoundTripper
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// Logging logs every outgoing request with structured logging and records
// the client request metrics under the given client label.
func Logging(client string) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			start := time.Now()

			// Generate request ID; RoundTrip must not modify the caller's request
			requestID := uuid.New().String()
			r = r.Clone(r.Context())
			r.Header.Set(RequestIDHeader, requestID)

			log := logger.WithRequestID(requestID).With().
				Str("client", client).
				Str("method", r.Method).
				Str("url", r.URL.Redacted()).
				Logger()

			log.Debug().Msg("request sent")

			resp, err := next.RoundTrip(r)
			duration := time.Since(start)

			status := "error"
			if err != nil {
				log.Warn().
					Err(err).
					Dur("duration_ms", duration).
					Msg("request failed")
			} else {
				status = strconv.Itoa(resp.StatusCode)
				log.Debug().
					Int("status", resp.StatusCode).
					Int64("content_length", resp.ContentLength).
					Dur("duration_ms", duration).
					Msg("response received")
			}

			metrics.HTTPRequestsTotal.WithLabelValues(client, r.Method, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(client, r.Method).Observe(duration.Seconds())

			return resp, err
		})
	}
}

// Recovery turns a panic inside the transport into a request error
func Recovery(client string) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (resp *http.Response, err error) {
			defer func() {
				if p := recover(); p != nil {
					logger.Logger.Error().
						Str("client", client).
						Str("request_id", r.Header.Get(RequestIDHeader)).
						Str("method", r.Method).
						Interface("panic", p).
						Bytes("stack", debug.Stack()).
						Msg("panic recovered")

					metrics.PanicsRecovered.WithLabelValues("http_client").Inc()

					resp = nil
					err = fmt.Errorf("%s %s: panic: %v", r.Method, r.URL.Redacted(), p)
				}
			}()

			return next.RoundTrip(r)
		})
	}
}

// Chain applies middlewares in order, the first one outermost. A nil base
// means http.DefaultTransport.
func Chain(base http.RoundTripper, middlewares ...Middleware) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	for i := len(middlewares) - 1; i >= 0; i-- {
		base = middlewares[i](base)
	}
	return base
}
