package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/lib/logger/sl"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/waitlist"
)

const maxBody = 1 << 16

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, map[string]string{"error": msg})
}

var statuses = []struct {
	err  error
	code int
}{
	{waitlist.ErrValidation, http.StatusBadRequest},
	{waitlist.ErrUnauthorized, http.StatusForbidden},
	{waitlist.ErrNotFound, http.StatusNotFound},
	{waitlist.ErrInvalidTransition, http.StatusConflict},
}

// respondErr maps a service error onto a status code. The body carries the
// message from the sentinel onwards so wrapping ops stay internal.
func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	for _, st := range statuses {
		if errors.Is(err, st.err) {
			msg := err.Error()
			if i := strings.Index(msg, st.err.Error()); i >= 0 {
				msg = msg[i:]
			}
			respondError(w, st.code, msg)
			return
		}
	}
	s.Log.Error("request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		sl.Err(err),
	)
	respondError(w, http.StatusInternalServerError, "internal error")
}

// decode reads a JSON body into v. Malformed bodies are validation errors.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed body: %v", waitlist.ErrValidation, err)
	}
	return nil
}
