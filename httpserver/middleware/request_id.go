/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"context"
	"net/http"

	"github.com/rs/xid"

	"github.com/acronis/go-throttle/log"
)

const (
	headerRequestID         = "X-Request-ID"
	headerInternalRequestID = "X-Int-Request-ID"
)

// MaxRequestIDLength is the maximum length of X-Request-ID value accepted from clients.
const MaxRequestIDLength = 128

// RequestIDOpts represents an options for RequestID middleware.
type RequestIDOpts struct {
	GenerateID         func() string
	GenerateInternalID func() string
	// IsValidID reports whether X-Request-ID value received from the client may be used as is.
	// Invalid values are replaced by generated ones. IsValidRequestID is used if it's nil.
	IsValidID func(id string) bool
}

type requestIDHandler struct {
	next http.Handler
	opts RequestIDOpts
}

func newID() string {
	return xid.New().String()
}

// IsValidRequestID accepts non-empty ids of printable ASCII characters not longer than MaxRequestIDLength.
// Request ids get into logs of every throttling decision, so arbitrary client input is not trusted.
func IsValidRequestID(id string) bool {
	if id == "" || len(id) > MaxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

// RequestID is a middleware that reads X-Request-ID request's HTTP header and generates new id (xid)
// if it's empty or invalid. Also, it generates an internal request id.
// Both ids are put into request's context and returned in X-Request-ID and X-Int-Request-ID response headers.
func RequestID() func(next http.Handler) http.Handler {
	return RequestIDWithOpts(RequestIDOpts{})
}

// RequestIDWithOpts is a more configurable version of RequestID middleware.
func RequestIDWithOpts(opts RequestIDOpts) func(next http.Handler) http.Handler {
	if opts.GenerateID == nil {
		opts.GenerateID = newID
	}
	if opts.GenerateInternalID == nil {
		opts.GenerateInternalID = newID
	}
	if opts.IsValidID == nil {
		opts.IsValidID = IsValidRequestID
	}
	return func(next http.Handler) http.Handler {
		return &requestIDHandler{next: next, opts: opts}
	}
}

func (h *requestIDHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get(headerRequestID)
	if !h.opts.IsValidID(requestID) {
		requestID = h.opts.GenerateID()
	}
	internalRequestID := h.opts.GenerateInternalID()

	rw.Header().Set(headerRequestID, requestID)
	rw.Header().Set(headerInternalRequestID, internalRequestID)

	ctx := NewContextWithInternalRequestID(NewContextWithRequestID(r.Context(), requestID), internalRequestID)
	h.next.ServeHTTP(rw, r.WithContext(ctx))
}

// RequestIDLogFields returns request_id and int_request_id log fields for the ids stored in the context.
// Nil is returned if there are no ids. It may be passed to throttle.WithContextLogFields,
// so entries logged by the throttle can be matched with the request.
func RequestIDLogFields(ctx context.Context) []log.Field {
	requestID, intRequestID := GetRequestIDFromContext(ctx), GetInternalRequestIDFromContext(ctx)
	if requestID == "" && intRequestID == "" {
		return nil
	}
	return []log.Field{log.String("request_id", requestID), log.String("int_request_id", intRequestID)}
}
