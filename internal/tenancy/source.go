package tenancy

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	HeaderTenantID   = "X-Tenant-ID"
	HeaderTenantName = "X-Tenant-Name"
	QueryTenantID    = "tenant_id"
	BodyTenantID     = "tenant_id"
	PathTenantID     = "tenantID"

	// MaxBodyPeek bounds how much of a request body the body source reads.
	MaxBodyPeek = 1 << 20
)

// Source extracts a raw tenant identifier from one place in a request. An
// empty string means the source has nothing to offer.
type Source interface {
	Name() string
	Identify(r *http.Request) (string, error)
}

// DefaultSources returns the resolution order: principal, header, query,
// body, path.
func DefaultSources() []Source {
	return []Source{
		PrincipalSource{},
		HeaderSource{Header: HeaderTenantID},
		QuerySource{Param: QueryTenantID},
		BodySource{Field: BodyTenantID, Limit: MaxBodyPeek},
		PathSource{Param: PathTenantID},
	}
}

// PrincipalSource reads the tenant bound to the authenticated principal.
type PrincipalSource struct{}

func (PrincipalSource) Name() string { return "principal" }

func (PrincipalSource) Identify(r *http.Request) (string, error) {
	p, ok := PrincipalFrom(r.Context())
	if !ok || p.TenantID == uuid.Nil {
		return "", nil
	}
	return p.TenantID.String(), nil
}

type HeaderSource struct {
	Header string
}

func (HeaderSource) Name() string { return "header" }

func (s HeaderSource) Identify(r *http.Request) (string, error) {
	return strings.TrimSpace(r.Header.Get(s.Header)), nil
}

type QuerySource struct {
	Param string
}

func (QuerySource) Name() string { return "query" }

func (s QuerySource) Identify(r *http.Request) (string, error) {
	return strings.TrimSpace(r.URL.Query().Get(s.Param)), nil
}

// BodySource reads a top-level string field from a JSON body. At most Limit
// bytes are read; the body is always restored for the handler.
type BodySource struct {
	Field string
	Limit int64
}

func (BodySource) Name() string { return "body" }

func (s BodySource) Identify(r *http.Request) (string, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return "", nil
	}
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "json") {
		return "", nil
	}

	limit := s.Limit
	if limit <= 0 {
		limit = MaxBodyPeek
	}
	buf, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	r.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(buf), r.Body), Closer: r.Body}
	if err != nil {
		return "", err
	}
	if int64(len(buf)) > limit {
		return "", nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(buf, &fields); err != nil {
		return "", nil
	}
	raw, ok := fields[s.Field]
	if !ok || string(raw) == "null" {
		return "", nil
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		// Present but not a string: hand it on so lookup rejects it.
		return string(raw), nil
	}
	return strings.TrimSpace(id), nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

// PathSource reads a chi route parameter. It only sees parameters once chi
// has routed the request.
type PathSource struct {
	Param string
}

func (PathSource) Name() string { return "path" }

func (s PathSource) Identify(r *http.Request) (string, error) {
	return strings.TrimSpace(chi.URLParam(r, s.Param)), nil
}
