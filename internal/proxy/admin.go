package proxy

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type storesResponse struct {
	Version string   `json:"version"`
	State   string   `json:"state"`
	Static  string   `json:"static"`
	Runtime string   `json:"runtime"`
	Stores  []string `json:"stores"`
}

type activateResponse struct {
	Deleted []string `json:"deleted"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// adminRouter serves requests addressed to the proxy itself
func (s *Server) adminRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/-/healthz", s.handleHealth)
	r.Get("/-/stores", s.handleStores)
	r.Post("/-/install", s.handleInstall)
	r.Post("/-/activate", s.handleActivate)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("Failed to write response body: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"state":   s.controller.State().String(),
		"version": s.controller.VersionTag(),
	})
}

func (s *Server) handleStores(w http.ResponseWriter, r *http.Request) {
	names, err := s.storage.Names(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, storesResponse{
		Version: s.controller.VersionTag(),
		State:   s.controller.State().String(),
		Static:  s.controller.StaticStoreName(),
		Runtime: s.controller.RuntimeStoreName(),
		Stores:  names,
	})
}

func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.OnInstall(r.Context()); err != nil {
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.controller.OnActivate(r.Context())
	if err != nil {
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, activateResponse{Deleted: deleted})
}
