package respond

import (
	"errors"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/wolfman30/clinic-scheduler/internal/apperr"
)

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Message writes the {status, message} envelope used by the staff endpoints.
func Message(w http.ResponseWriter, status int, msg string, extra map[string]any) {
	body := map[string]any{"status": status, "message": msg}
	for k, v := range extra {
		body[k] = v
	}
	JSON(w, status, body)
}

// Error translates err through the apperr taxonomy.
func Error(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	body := map[string]any{
		"status":  status,
		"error":   string(apperr.KindOf(err)),
		"message": apperr.PublicMessage(err),
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) && len(appErr.Fields) > 0 {
		body["fields"] = appErr.Fields
	}
	JSON(w, status, body)
}

const maxBodyBytes = 1 << 20

// Decode reads a JSON body into dst, rejecting unknown fields.
func Decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Validation("invalid request body")
	}
	return nil
}
