package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/trawler-io/trawler/internal/model"
	"github.com/trawler-io/trawler/internal/store"
)

const maxConfigBodySize = 1 << 20 // 1 MB

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		s.writeError(w, http.StatusBadRequest, "missing "+tenantHeader+" header")
		return
	}

	cfg, err := s.store.GetConfig(r.Context(), tenant)
	if errors.Is(err, store.ErrNotFound) {
		// Tenants without a saved config get the base template.
		d := model.DefaultScrapeConfig()
		s.writeJSON(w, http.StatusOK, d)
		return
	}
	if err != nil {
		s.logger.Error("get config", "tenant_id", tenant, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load config")
		return
	}

	s.writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		s.writeError(w, http.StatusBadRequest, "missing "+tenantHeader+" header")
		return
	}

	var cfg model.ScrapeConfig
	r.Body = http.MaxBytesReader(w, r.Body, maxConfigBodySize)
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// A saved config always carries usable concurrency settings.
	if cfg.Concurrent == (model.ConcurrentSettings{}) {
		cfg.Concurrent = model.DefaultScrapeConfig().Concurrent
	}

	if err := s.store.PutConfig(r.Context(), tenant, &cfg); err != nil {
		s.logger.Error("update config", "tenant_id", tenant, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to save config")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "success",
		"tenant_id": tenant,
	})
}
