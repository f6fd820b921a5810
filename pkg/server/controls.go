package server

import (
	"log/slog"
	"net/http"

	"github.com/octoit/octoit/pkg/log"
)

type setNumberRequest struct {
	Value *float64 `json:"value"`
}

type selectOptionRequest struct {
	Option string `json:"option"`
}

type setDevicePreferencesRequest struct {
	DeviceID         string   `json:"device_id"`
	TargetPercentage *float64 `json:"target_percentage"`
	TargetTime       string   `json:"target_time"`
}

func (s *Server) handleSwitch(on bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := s.controls.SetSwitch(r.Context(), id, on); err != nil {
			writeError(w, r, err)
			return
		}
		log.Ctx(r.Context()).InfoContext(r.Context(), "switch changed", slog.String("entityID", id), slog.Bool("on", on))
		s.writeEntity(w, id)
	}
}

func (s *Server) handleSetNumber(w http.ResponseWriter, r *http.Request) {
	var req setNumberRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Value == nil {
		writeJSONError(w, "value is required", http.StatusBadRequest)
		return
	}
	id := r.PathValue("id")
	if err := s.controls.SetNumber(r.Context(), id, *req.Value); err != nil {
		writeError(w, r, err)
		return
	}
	log.Ctx(r.Context()).InfoContext(r.Context(), "number changed", slog.String("entityID", id), slog.Float64("value", *req.Value))
	s.writeEntity(w, id)
}

func (s *Server) handleSelectOption(w http.ResponseWriter, r *http.Request) {
	var req selectOptionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id := r.PathValue("id")
	if err := s.controls.SelectOption(r.Context(), id, req.Option); err != nil {
		writeError(w, r, err)
		return
	}
	log.Ctx(r.Context()).InfoContext(r.Context(), "option selected", slog.String("entityID", id), slog.String("option", req.Option))
	s.writeEntity(w, id)
}

func (s *Server) handleSetDevicePreferences(w http.ResponseWriter, r *http.Request) {
	var req setDevicePreferencesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TargetPercentage == nil {
		writeJSONError(w, "invalid target_percentage: is required", http.StatusBadRequest)
		return
	}
	if err := s.controls.SetDevicePreferences(r.Context(), req.DeviceID, *req.TargetPercentage, req.TargetTime); err != nil {
		writeError(w, r, err)
		return
	}
	log.Ctx(r.Context()).InfoContext(
		r.Context(),
		"device preferences updated",
		slog.String("deviceID", req.DeviceID),
		slog.Float64("targetPercentage", *req.TargetPercentage),
		slog.String("targetTime", req.TargetTime),
	)
	w.WriteHeader(http.StatusNoContent)
}
