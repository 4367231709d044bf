package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/tabwise/internal/export"
	"github.com/hyperjump/tabwise/internal/models"
	"github.com/hyperjump/tabwise/internal/storage"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Status(r.Context())
	if err != nil {
		s.logger.Error("status failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{"engine": st}
	if s.config != nil {
		resp["config"] = map[string]interface{}{
			"embedding_provider":   s.config.Embedding.Provider,
			"embedding_dimensions": s.config.Embedding.Dimensions,
			"routing_threshold":    s.config.Matching.RoutingThreshold,
			"overlap_threshold":    s.config.Matching.OverlapThreshold,
			"reconcile_enabled":    s.config.Reconcile.Enabled,
			"reconcile_interval":   s.config.Reconcile.Interval.String(),
			"expiry_ttl":           s.config.Expiry.TTL.String(),
			"database_path":        s.config.Storage.DatabasePath,
		}
		diskBytes, err := storage.DiskUsageBytes(
			s.config.Storage.DatabasePath,
			s.config.Storage.BleveIndexPath,
			s.config.Storage.VectorIndexPath,
		)
		if err == nil {
			resp["disk_usage_bytes"] = diskBytes
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSaveObservation(w http.ResponseWriter, r *http.Request) {
	var req models.SaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("save observation request", zap.String("url", req.URL))
	res, err := s.engine.SaveObservation(r.Context(), &req)
	if err != nil {
		s.fail(w, "save observation failed", err)
		return
	}
	status := http.StatusCreated
	if res.Status == models.StatusAlreadyExists {
		status = http.StatusOK
	}
	s.respondJSON(w, status, res)
}

func (s *Server) handleGetObservation(w http.ResponseWriter, r *http.Request) {
	id, ok := s.idParam(w, r)
	if !ok {
		return
	}
	obs, err := s.engine.GetObservation(r.Context(), id)
	if err != nil {
		s.fail(w, "get observation failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, obs)
}

type assignRequest struct {
	ProjectID *int64 `json:"project_id"`
}

func (s *Server) handleAssignProject(w http.ResponseWriter, r *http.Request) {
	id, ok := s.idParam(w, r)
	if !ok {
		return
	}
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.engine.AssignProject(r.Context(), id, req.ProjectID); err != nil {
		s.fail(w, "assign project failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"id": id, "project_id": req.ProjectID})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := query.Validate(s.config.Search.DefaultLimit, s.config.Search.MaxLimit); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("search request",
		zap.String("query", query.Query),
		zap.Int("top_k", query.TopK),
		zap.String("mode", string(query.Mode)))
	response, err := s.engine.Search(r.Context(), &query)
	if err != nil {
		s.fail(w, "search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) decodeTab(w http.ResponseWriter, r *http.Request) (*models.TabQuery, bool) {
	var q models.TabQuery
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	q.Title, q.URL = strings.TrimSpace(q.Title), strings.TrimSpace(q.URL)
	if q.Title == "" || q.URL == "" {
		s.respondError(w, http.StatusBadRequest, "title and url are required")
		return nil, false
	}
	return &q, true
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	q, ok := s.decodeTab(w, r)
	if !ok {
		return
	}
	a, err := s.engine.RouteToProject(r.Context(), q.Title, q.URL)
	if err != nil {
		s.fail(w, "route failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, a)
}

func (s *Server) handleMergeSuggestion(w http.ResponseWriter, r *http.Request) {
	q, ok := s.decodeTab(w, r)
	if !ok {
		return
	}
	a, err := s.engine.SuggestMerge(r.Context(), q.Title, q.URL)
	if err != nil {
		s.fail(w, "merge suggestion failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, a)
}

type sweepRequest struct {
	TTL string `json:"ttl,omitempty"`
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	var req sweepRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	ttl := s.config.Expiry.TTL
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil || d < 0 {
			s.respondError(w, http.StatusBadRequest, "invalid ttl")
			return
		}
		ttl = d
	}
	removed, err := s.sweeper.Sweep(r.Context(), time.Now(), ttl)
	if err != nil {
		s.fail(w, "sweep failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"removed": removed, "ttl": ttl.String()})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.engine.ListProjects(r.Context())
	if err != nil {
		s.fail(w, "list projects failed", err)
		return
	}
	if projects == nil {
		projects = []*models.Project{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"projects": projects})
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var in models.ProjectInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(in.Name) == "" {
		s.respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	p, err := s.engine.CreateProject(r.Context(), &in)
	if err != nil {
		s.fail(w, "create project failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, p)
}

func (s *Server) projectResearch(w http.ResponseWriter, r *http.Request) (*models.ProjectResearch, bool) {
	id, ok := s.idParam(w, r)
	if !ok {
		return nil, false
	}
	research, err := s.engine.ProjectResearch(r.Context(), id)
	if err != nil {
		s.fail(w, "project research failed", err)
		return nil, false
	}
	return research, true
}

func (s *Server) handleProjectResearch(w http.ResponseWriter, r *http.Request) {
	if research, ok := s.projectResearch(w, r); ok {
		s.respondJSON(w, http.StatusOK, research)
	}
}

func (s *Server) handleChatContext(w http.ResponseWriter, r *http.Request) {
	if research, ok := s.projectResearch(w, r); ok {
		s.respondJSON(w, http.StatusOK, export.BuildChatContext(research))
	}
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	research, ok := s.projectResearch(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := export.WriteProjectXLSX(&buf, research); err != nil {
		s.fail(w, "export failed", err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(research.Project)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleConsistency(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.CheckConsistency(r.Context())
	if report == nil {
		s.fail(w, "consistency check failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"ok": report.OK(), "report": report})
}

func (s *Server) handleRepair(w http.ResponseWriter, r *http.Request) {
	before, err := s.engine.Repair(r.Context())
	if err != nil {
		s.fail(w, "repair failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"repaired": !before.OK(), "before": before})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if s.reconciler == nil {
		s.respondError(w, http.StatusNotImplemented, "reconcile not enabled")
		return
	}
	report, err := s.reconciler.RunCycle(r.Context())
	if err != nil {
		s.fail(w, "reconcile failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

// fail logs err and responds with the status it maps to.
func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
