package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bookingFrontend = "https://book.clinic.lk"

type recordingHandler struct{ calls int }

func (h *recordingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.calls++
	w.Header().Set("X-Request-ID", "req-1")
	w.WriteHeader(http.StatusOK)
}

func serveCORS(origins []string, req *http.Request) (*httptest.ResponseRecorder, *recordingHandler) {
	next := &recordingHandler{}
	rec := httptest.NewRecorder()
	CORS(origins)(next).ServeHTTP(rec, req)
	return rec, next
}

func TestCORSBookingFrontendPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/bookings/holds", nil)
	req.Header.Set("Origin", bookingFrontend)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "content-type")

	rec, next := serveCORS([]string{bookingFrontend, "https://staff.clinic.lk"}, req)

	assert.Zero(t, next.calls)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	h := rec.Header()
	assert.Equal(t, bookingFrontend, h.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, PUT, OPTIONS", h.Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type, X-Request-ID", h.Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "X-Request-ID", h.Get("Access-Control-Expose-Headers"))
	assert.Equal(t, "600", h.Get("Access-Control-Max-Age"))
	assert.Contains(t, h.Values("Vary"), "Origin")
}

func TestCORSSimpleRequestExposesRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/availability", nil)
	req.Header.Set("Origin", bookingFrontend)

	rec, next := serveCORS([]string{bookingFrontend}, req)

	assert.Equal(t, 1, next.calls)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, bookingFrontend, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "X-Request-ID", rec.Header().Get("Access-Control-Expose-Headers"))
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
}

func TestCORSMethodsExcludeDelete(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/bookings/x", nil)
	req.Header.Set("Origin", bookingFrontend)
	req.Header.Set("Access-Control-Request-Method", http.MethodDelete)

	rec, _ := serveCORS([]string{bookingFrontend}, req)
	assert.NotContains(t, rec.Header().Get("Access-Control-Allow-Methods"), "DELETE")
	assert.NotContains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PATCH")
}

func TestCORSUnknownOriginGetsNoGrant(t *testing.T) {
	cases := map[string]string{
		"simple":    http.MethodGet,
		"preflight": http.MethodOptions,
	}
	for name, method := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(method, "/api/availability", nil)
			req.Header.Set("Origin", "https://evil.example")
			if method == http.MethodOptions {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}

			rec, _ := serveCORS([]string{bookingFrontend}, req)
			assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
			assert.Empty(t, rec.Header().Get("Access-Control-Expose-Headers"))
			assert.Contains(t, rec.Header().Values("Vary"), "Origin")
		})
	}
}

func TestCORSConfiguredOriginIsNormalized(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", bookingFrontend)

	rec, _ := serveCORS([]string{" https://Book.Clinic.lk/ "}, req)
	assert.Equal(t, bookingFrontend, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSWildcardEchoesOrigin(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://kiosk.branch.lk")

	rec, _ := serveCORS([]string{"*"}, req)
	assert.Equal(t, "https://kiosk.branch.lk", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSWithoutOriginPassesThrough(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/availability", nil)

	rec, next := serveCORS([]string{bookingFrontend}, req)
	require.Equal(t, 1, next.calls)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
