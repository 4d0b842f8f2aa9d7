package http

import (
	"net/http"

	"vfcash/internal/log"
)

func (s *Server) handleGetLimits(w http.ResponseWriter, r *http.Request) {
	limits, err := s.limits.Get(r.Context())
	if err != nil {
		s.writeFailure(w, r, err, "Failed to fetch limits", log.OpList)
		return
	}
	NewJSONResponse().Field("limits", limits).Write(w)
}

// handleUpdateLimits replaces the limits record wholesale. POST and PUT
// behave identically.
func (s *Server) handleUpdateLimits(w http.ResponseWriter, r *http.Request) {
	body, err := ReadJSONBody(w, r, s.maxBodyBytes)
	if err != nil {
		s.writeFailure(w, r, err, "Failed to update limits", log.OpReplace)
		return
	}

	limits, err := s.limits.Update(r.Context(), body.Raw)
	if err != nil {
		s.writeFailure(w, r, err, "Failed to update limits", log.OpReplace)
		return
	}
	NewJSONResponse().
		Message("Limits updated successfully").
		Field("limits", limits).
		Write(w)
}

// handleUsage reports usage against the limits for ?date=YYYY-MM-DD, or today.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	ref, err := s.usage.ParseDay(r.URL.Query().Get("date"))
	if err != nil {
		s.writeFailure(w, r, err, "Failed to compute usage", log.OpUsage)
		return
	}

	summary, err := s.usage.Summary(r.Context(), ref)
	if err != nil {
		s.writeFailure(w, r, err, "Failed to compute usage", log.OpUsage)
		return
	}
	NewJSONResponse().Field("usage", summary).Write(w)
}
