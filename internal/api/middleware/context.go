package middleware

import (
	"context"
	"net/http"
)

type contextKey string

const (
	keyPrefixKey   contextKey = "key_prefix"
	requestInfoKey contextKey = "request_info"
)

// requestInfo is filled in by inner middleware so the request logger, which
// runs outermost, can report what they resolved.
type requestInfo struct {
	tenantID string
	source   string
}

func withRequestInfo(ctx context.Context) (context.Context, *requestInfo) {
	info := &requestInfo{}
	return context.WithValue(ctx, requestInfoKey, info), info
}

func annotate(r *http.Request, tenantID, source string) {
	if info, ok := r.Context().Value(requestInfoKey).(*requestInfo); ok {
		info.tenantID = tenantID
		info.source = source
	}
}

func setKeyPrefix(ctx context.Context, prefix string) context.Context {
	return context.WithValue(ctx, keyPrefixKey, prefix)
}

func getKeyPrefix(r *http.Request) (string, bool) {
	prefix, ok := r.Context().Value(keyPrefixKey).(string)
	return prefix, ok
}
