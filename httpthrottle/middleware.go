/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package httpthrottle provides an HTTP middleware that limits the rate of requests with throttle.Throttle.
//
// Every gated response carries X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset (in seconds) headers.
// Rejected requests get 429 with Retry-After header and a JSON error in the restapi format.
package httpthrottle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/vasayxtx/go-glob"

	"github.com/acronis/go-throttle/httpserver/middleware"
	"github.com/acronis/go-throttle/log"
	"github.com/acronis/go-throttle/restapi"
	"github.com/acronis/go-throttle/throttle"
)

// Response headers.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// StatusClientClosedRequest is a non-standard HTTP status code for the request that was canceled by the client.
const StatusClientClosedRequest = 499

// Params contains data about the throttled request that is passed to callbacks.
type Params struct {
	ErrDomain string
	Key       string
	Metadata  throttle.Metadata
}

// GetKeyFunc returns a throttling key for the request. If bypass is true, the request is not throttled.
type GetKeyFunc func(r *http.Request) (key string, bypass bool, err error)

// OnRejectFunc is called for rejecting HTTP request when the rate limit is exceeded.
type OnRejectFunc func(rw http.ResponseWriter, r *http.Request, params Params, next http.Handler, logger log.FieldLogger)

// OnErrorFunc is called when the throttling key cannot be got or the throttling decision cannot be made.
type OnErrorFunc func(
	rw http.ResponseWriter, r *http.Request, params Params, err error, next http.Handler, logger log.FieldLogger)

// Opts represents options for the Middleware.
type Opts struct {
	// GetKey returns the throttling key. Remote host of the request is used by default.
	GetKey GetKeyFunc
	// ExcludedKeys is a list of glob patterns of keys that are never throttled.
	ExcludedKeys []string
	// IncludedKeys is a list of glob patterns of keys that are throttled, all other keys are not.
	// It cannot be used together with ExcludedKeys.
	IncludedKeys []string
	// DryRun makes the middleware only log rejections and serve requests as usual.
	DryRun           bool
	OnReject         OnRejectFunc
	OnRejectInDryRun OnRejectFunc
	OnError          OnErrorFunc
	MetricsCollector MetricsCollector
}

type handler struct {
	next      http.Handler
	throttle  *throttle.Throttle
	errDomain string
	getKey    GetKeyFunc
	dryRun    bool
	onReject  OnRejectFunc
	onError   OnErrorFunc
	metrics   MetricsCollector
}

// Middleware is a middleware that throttles incoming HTTP requests using the passed throttle.
func Middleware(t *throttle.Throttle, errDomain string, opts Opts) (func(next http.Handler) http.Handler, error) {
	if t == nil {
		return nil, fmt.Errorf("throttle is required")
	}
	getKey, err := makeGetKeyFunc(opts.GetKey, opts.ExcludedKeys, opts.IncludedKeys)
	if err != nil {
		return nil, err
	}

	onReject := opts.OnReject
	if onReject == nil {
		onReject = DefaultOnReject
	}
	if opts.DryRun {
		onReject = opts.OnRejectInDryRun
		if onReject == nil {
			onReject = DefaultOnRejectInDryRun
		}
	}
	onError := opts.OnError
	if onError == nil {
		onError = DefaultOnError
	}
	mc := opts.MetricsCollector
	if mc == nil {
		mc = disabledMetrics{}
	}

	return func(next http.Handler) http.Handler {
		return &handler{
			next:      next,
			throttle:  t,
			errDomain: errDomain,
			getKey:    getKey,
			dryRun:    opts.DryRun,
			onReject:  onReject,
			onError:   onError,
			metrics:   mc,
		}
	}, nil
}

// MustMiddleware is like Middleware but panics if an error occurs.
func MustMiddleware(t *throttle.Throttle, errDomain string, opts Opts) func(next http.Handler) http.Handler {
	mw, err := Middleware(t, errDomain, opts)
	if err != nil {
		panic(err)
	}
	return mw
}

func (h *handler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLoggerFromContext(r.Context())
	params := Params{ErrDomain: h.errDomain}

	key, bypass, err := h.getKey(r)
	if err != nil {
		h.onError(rw, r, params, fmt.Errorf("get key for rate limit: %w", err), h.next, logger)
		return
	}
	if bypass {
		h.next.ServeHTTP(rw, r)
		return
	}
	params.Key = key

	allow, md, err := h.throttle.Allow(r.Context(), key)
	if err != nil {
		h.onError(rw, r, params, fmt.Errorf("rate limit: %w", err), h.next, logger)
		return
	}
	params.Metadata = md
	setRateLimitHeaders(rw.Header(), md)

	if !allow {
		h.metrics.IncRejects(h.dryRun)
		h.onReject(rw, r, params, h.next, logger)
		return
	}
	h.next.ServeHTTP(rw, r)
}

func setRateLimitHeaders(header http.Header, md throttle.Metadata) {
	header.Set(HeaderRateLimitLimit, strconv.FormatFloat(md.Limit, 'f', -1, 64))
	header.Set(HeaderRateLimitRemaining, strconv.Itoa(md.Remaining))
	header.Set(HeaderRateLimitReset, strconv.Itoa(ceilSeconds(md.Reset)))
}

func ceilSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

// DefaultOnReject responds with 429 and Retry-After header equal to the time until the bucket is full.
func DefaultOnReject(rw http.ResponseWriter, r *http.Request, params Params, _ http.Handler, logger log.FieldLogger) {
	if logger != nil {
		logger = logger.With(
			log.ThrottleKey(params.Key),
			log.String("user_agent", r.UserAgent()),
		)
	}
	rw.Header().Set(HeaderRetryAfter, strconv.Itoa(ceilSeconds(params.Metadata.Reset)))
	restapi.RespondError(rw, http.StatusTooManyRequests, restapi.NewTooManyRequestsError(params.ErrDomain), logger)
}

// DefaultOnRejectInDryRun logs the rejection and serves the request.
func DefaultOnRejectInDryRun(
	rw http.ResponseWriter, r *http.Request, params Params, next http.Handler, logger log.FieldLogger,
) {
	if logger != nil {
		logger.Warn("too many requests, serving will be continued because of dry run mode",
			log.ThrottleKey(params.Key),
			log.String("user_agent", r.UserAgent()),
		)
	}
	next.ServeHTTP(rw, r)
}

// DefaultOnError logs the error and responds with 500.
// If the client has gone away (the error is context.Canceled), it responds with 499 without error logging.
func DefaultOnError(
	rw http.ResponseWriter, _ *http.Request, params Params, err error, _ http.Handler, logger log.FieldLogger,
) {
	if errors.Is(err, context.Canceled) {
		if logger != nil {
			logger.Debug("request has been canceled by client", log.ThrottleKey(params.Key))
		}
		rw.WriteHeader(StatusClientClosedRequest)
		return
	}
	if logger != nil {
		logger.Error(err.Error(), log.ThrottleKey(params.Key))
	}
	restapi.RespondInternalError(rw, params.ErrDomain, logger)
}

// GetKeyByRemoteHost returns the host part of the request's remote address.
func GetKeyByRemoteHost(r *http.Request) (string, bool, error) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	return host, false, err
}

// GetKeyByHeader returns GetKeyFunc that uses the value of the header as a key.
// Requests with an empty header are not throttled.
func GetKeyByHeader(headerName string) GetKeyFunc {
	return func(r *http.Request) (string, bool, error) {
		val := r.Header.Get(headerName)
		return val, val == "", nil
	}
}

func makeGetKeyFunc(getKey GetKeyFunc, excludedKeys, includedKeys []string) (GetKeyFunc, error) {
	if getKey == nil {
		getKey = GetKeyByRemoteHost
	}
	if len(excludedKeys) == 0 && len(includedKeys) == 0 {
		return getKey, nil
	}
	if len(excludedKeys) != 0 && len(includedKeys) != 0 {
		return nil, fmt.Errorf("excluded and included keys cannot be used together")
	}

	keys, exclude := includedKeys, false
	if len(excludedKeys) != 0 {
		keys, exclude = excludedKeys, true
	}
	matchers := make([]func(s string) bool, 0, len(keys))
	for _, key := range keys {
		matchers = append(matchers, glob.Compile(key))
	}
	return func(r *http.Request) (string, bool, error) {
		key, bypass, err := getKey(r)
		if err != nil || bypass {
			return key, bypass, err
		}
		found := false
		for _, match := range matchers {
			if match(key) {
				found = true
				break
			}
		}
		return key, found == exclude, nil
	}, nil
}
