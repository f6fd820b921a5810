package server

import (
	"log/slog"
	"net/http"

	"github.com/octoit/octoit/pkg/log"
)

type createEntryRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type createEntryResponse struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	AccountNumbers []string `json:"accountNumbers"`
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Entries())
}

// handleCreateEntry is the config flow: credentials are validated upstream
// before anything is stored.
func (s *Server) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	var req createEntryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	entry, err := s.manager.Create(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	log.Ctx(r.Context()).InfoContext(r.Context(), "entry created via api", slog.String("entryID", entry.ID))
	writeJSON(w, http.StatusCreated, createEntryResponse{
		ID:             entry.ID,
		Title:          entry.Title,
		AccountNumbers: entry.AccountNumbers,
	})
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReloadEntry(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Reload(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePublicTariffs(w http.ResponseWriter, r *http.Request) {
	products := s.manager.PublicProducts()
	if products == nil {
		writeJSONError(w, "public tariffs not loaded", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, products)
}
