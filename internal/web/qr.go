package web

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"

	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/auth"
)

const qrSize = 256

// handleQR renders the entry's status URL as a PNG the party can scan.
func (s *Server) handleQR(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	e, err := s.Waitlist.Get(r.Context(), auth.ActorFromContext(r.Context()), ps.ByName("id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	png, err := qrcode.Encode(s.statusURL(e.ID), qrcode.Medium, qrSize)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}
