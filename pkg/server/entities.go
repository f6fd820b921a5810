package server

import (
	"net/http"
	"strings"

	"github.com/octoit/octoit/pkg/types"
)

// handleListEntities lists entities, optionally filtered by entryId,
// accountNumber and platform query parameters.
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	account := q.Get("accountNumber")
	platform := types.Platform(q.Get("platform"))

	out := []types.Entity{}
	for _, ent := range s.entities.List(q.Get("entryId")) {
		if account != "" && !strings.EqualFold(ent.AccountNumber, account) {
			continue
		}
		if platform != "" && ent.Platform != platform {
			continue
		}
		out = append(out, ent)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	ent, ok := s.entities.Get(r.PathValue("id"))
	if !ok {
		writeJSONError(w, "entity not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ent)
}

func (s *Server) handleSetEntityEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := s.manager.SetEntityEnabled(r.Context(), id, enabled); err != nil {
			writeError(w, r, err)
			return
		}
		s.writeEntity(w, id)
	}
}

// writeEntity responds with the current state of an entity after a change.
func (s *Server) writeEntity(w http.ResponseWriter, id string) {
	ent, ok := s.entities.Get(id)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, ent)
}
