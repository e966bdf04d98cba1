package respond

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-scheduler/internal/apperr"
)

func TestErrorEnvelope(t *testing.T) {
	rr := httptest.NewRecorder()
	Error(rr, fmt.Errorf("wrap: %w", apperr.Validation("missing fields", "doctor_id")))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "validation", body["error"])
	assert.Equal(t, "missing fields", body["message"])
	assert.Equal(t, []any{"doctor_id"}, body["fields"])
}

func TestMessageMergesExtra(t *testing.T) {
	rr := httptest.NewRecorder()
	Message(rr, http.StatusOK, "ok", map[string]any{"id": "abc"})

	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), `"id":"abc"`)
	assert.Contains(t, rr.Body.String(), `"status":200`)
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":1,"b":2}`))
	var dst struct {
		A int `json:"a"`
	}
	err := Decode(req, &dst)
	assert.True(t, apperr.KindOf(err) == apperr.KindValidation)
}
