package response_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kiranshivaraju/peoplehub/internal/api/response"
	"github.com/kiranshivaraju/peoplehub/internal/tenancy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	response.JSON(w, map[string]string{"name": "test"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, "test", data["name"])
}

func TestCreated(t *testing.T) {
	w := httptest.NewRecorder()
	response.Created(w, map[string]string{"id": "abc"})

	assert.Equal(t, http.StatusCreated, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, "abc", data["id"])
}

func TestNoContent(t *testing.T) {
	w := httptest.NewRecorder()
	response.NoContent(w)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.Bytes())
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid params", map[string][]string{
		"name": {"name is required"},
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	errObj := decode(t, w)["error"].(map[string]any)
	assert.Equal(t, "VALIDATION_ERROR", errObj["code"])
	assert.Equal(t, "Invalid params", errObj["message"])
	assert.NotNil(t, errObj["details"])
}

func TestError_OmitsNilDetails(t *testing.T) {
	w := httptest.NewRecorder()
	response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid API key", nil)

	errObj := decode(t, w)["error"].(map[string]any)
	_, ok := errObj["details"]
	assert.False(t, ok)
}

func TestStatusFor(t *testing.T) {
	cases := map[tenancy.Code]int{
		tenancy.CodeInvalidIdentifier: http.StatusBadRequest,
		tenancy.CodeNotFound:          http.StatusNotFound,
		tenancy.CodeInactiveTenant:    http.StatusForbidden,
		tenancy.CodeTrialExpired:      http.StatusPaymentRequired,
		tenancy.CodeAccessDenied:      http.StatusForbidden,
		tenancy.CodeFeatureDisabled:   http.StatusForbidden,
		tenancy.CodeQuotaExceeded:     http.StatusForbidden,
		tenancy.CodeInvalidTransition: http.StatusConflict,
		tenancy.CodeStaleTransition:   http.StatusConflict,
		tenancy.CodeInternal:          http.StatusInternalServerError,
		tenancy.Code("SOMETHING_NEW"): http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, response.StatusFor(code), code)
	}
}

func TestProblem_TenancyError(t *testing.T) {
	w := httptest.NewRecorder()
	err := tenancy.NewError(tenancy.CodeQuotaExceeded, "plan limit exceeded", map[string]any{
		"limit":   "max_employees",
		"current": int64(51),
		"max":     int64(50),
	})

	response.Problem(w, zap.NewNop(), err)

	assert.Equal(t, http.StatusForbidden, w.Code)
	errObj := decode(t, w)["error"].(map[string]any)
	assert.Equal(t, "QUOTA_EXCEEDED", errObj["code"])
	details := errObj["details"].(map[string]any)
	assert.Equal(t, "max_employees", details["limit"])
	assert.Equal(t, float64(51), details["current"])
	assert.Equal(t, float64(50), details["max"])
}

func TestProblem_WrappedTenancyError(t *testing.T) {
	w := httptest.NewRecorder()
	err := errors.Join(errors.New("context"), tenancy.NewError(tenancy.CodeTrialExpired, "trial period has expired", nil))

	response.Problem(w, nil, err)

	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	errObj := decode(t, w)["error"].(map[string]any)
	assert.Equal(t, "TRIAL_EXPIRED", errObj["code"])
	_, ok := errObj["details"]
	assert.False(t, ok)
}

func TestProblem_InternalIsOpaqueAndLogged(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	w := httptest.NewRecorder()

	response.Problem(w, zap.New(core), errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	errObj := decode(t, w)["error"].(map[string]any)
	assert.Equal(t, "INTERNAL_ERROR", errObj["code"])
	assert.Equal(t, "An unexpected error occurred", errObj["message"])
	assert.NotContains(t, w.Body.String(), "password")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Contains(t, fields, "stack")
	assert.Contains(t, fields["error"], "password authentication failed")
}
