package testutil

import (
	"net/http"
	"time"

	"verigate/pkg/requestcontext"
)

// WithOperator attaches the actor the admin middleware would set for an
// authenticated operator.
func WithOperator(req *http.Request, operator string) *http.Request {
	return req.WithContext(requestcontext.WithActor(req.Context(), "operator:"+operator))
}

// WithRequestMetadata pins the request ID and clock the metadata and
// requesttime middleware would otherwise derive.
func WithRequestMetadata(req *http.Request, requestID string, now time.Time) *http.Request {
	ctx := requestcontext.WithRequestID(req.Context(), requestID)
	ctx = requestcontext.WithTime(ctx, now)
	return req.WithContext(ctx)
}
