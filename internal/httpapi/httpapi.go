// Package httpapi is the daemon's transport collaborator: a thin net/http
// layer exposing memory, retrieval, learning, and orchestration verbs. It
// holds no business logic of its own — every handler validates the request
// and delegates straight to the subsystem package.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ai-framework/daemon/internal/analytics"
	"github.com/ai-framework/daemon/internal/config"
	"github.com/ai-framework/daemon/internal/errkind"
	"github.com/ai-framework/daemon/internal/heuristics"
	"github.com/ai-framework/daemon/internal/learning"
	"github.com/ai-framework/daemon/internal/memory"
	"github.com/ai-framework/daemon/internal/orchestrate"
	"github.com/ai-framework/daemon/internal/retrieve"
	"github.com/ai-framework/daemon/internal/review"
)

// Server wires every subsystem the core exposes over HTTP.
type Server struct {
	Memory    *memory.Store
	Retriever *retrieve.Retriever
	Learning  *learning.Store
	Analytics *analytics.Store
	Orch      *orchestrate.Store
	CfgMgr    config.ConfigManager
	GitRoot   string
	Logger    *slog.Logger

	httpServer *http.Server
}

// Start listens on addr and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/memory/events", s.handleMemoryEvents)
	mux.HandleFunc("/memory/timeline", s.handleMemoryTimeline)
	mux.HandleFunc("/memory/observations", s.handleMemoryObservations)

	mux.HandleFunc("/sessions", s.handleSessions)

	mux.HandleFunc("/retrieval/status", s.handleRetrievalStatus)
	mux.HandleFunc("/retrieval/search", s.handleRetrievalSearch)
	mux.HandleFunc("/retrieval/reindex", s.handleRetrievalReindex)

	mux.HandleFunc("/learning/proposals", s.handleLearningProposals)
	mux.HandleFunc("/learning/decide", s.handleLearningDecide)
	mux.HandleFunc("/learning/config", s.handleLearningConfig)
	mux.HandleFunc("/learning/analytics/trend", s.handleAnalyticsTrend)
	mux.HandleFunc("/learning/analytics/hotspots", s.handleAnalyticsHotspots)
	mux.HandleFunc("/learning/analytics/failure", s.handleAnalyticsFailure)
	mux.HandleFunc("/learning/audit_log", s.handleLearningAuditLog)

	mux.HandleFunc("/orchestration/start", s.handleOrchestrationStart)
	mux.HandleFunc("/orchestration/approve_plan", s.handleOrchestrationApprovePlan)
	mux.HandleFunc("/orchestration/start_task", s.handleOrchestrationStartTask)
	mux.HandleFunc("/orchestration/complete_task", s.handleOrchestrationCompleteTask)
	mux.HandleFunc("/orchestration/start_verify", s.handleOrchestrationStartVerify)
	mux.HandleFunc("/orchestration/submit_verdict", s.handleOrchestrationSubmitVerdict)
	mux.HandleFunc("/orchestration/resolve_verify", s.handleOrchestrationResolveVerify)
	mux.HandleFunc("/orchestration/start_learn", s.handleOrchestrationStartLearn)
	mux.HandleFunc("/orchestration/complete", s.handleOrchestrationComplete)
	mux.HandleFunc("/orchestration/abort", s.handleOrchestrationAbort)
	mux.HandleFunc("/orchestration/state", s.handleOrchestrationState)

	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     mux,
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutCtx)
	}()

	s.Logger.Info("httpapi server starting", "addr", addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeErr maps an errkind.Kind to an HTTP status: validation/state/conflict
// -> 400, not_found -> 404, vcs -> 409, backend/storage unavailable and
// timeout -> 503, everything else defaults to 500.
func writeErr(w http.ResponseWriter, err error) {
	kind := errkind.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case errkind.Validation, errkind.State, errkind.Conflict:
		status = http.StatusBadRequest
	case errkind.NotFound:
		status = http.StatusNotFound
	case errkind.Vcs:
		status = http.StatusConflict
	case errkind.BackendUnavailable, errkind.StorageUnavailable, errkind.Timeout:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "kind": string(kind)})
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func queryFloat(r *http.Request, name string, def float64) float64 {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// --- memory ---

func (s *Server) handleMemoryEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodPost:
		var ev memory.MemoryEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			writeErr(w, errkind.Wrap(errkind.Validation, err, "decode memory event"))
			return
		}
		saved, err := s.Memory.SaveEvent(ctx, ev)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, saved)
	case http.MethodGet:
		q := r.URL.Query().Get("query")
		hits, err := s.Memory.Search(ctx, q, queryInt(r, "limit", 10))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, hits)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (s *Server) handleMemoryTimeline(w http.ResponseWriter, r *http.Request) {
	since := parseTimeParam(r, "since", time.Now().UTC().AddDate(0, 0, -7))
	until := parseTimeParam(r, "until", time.Now().UTC())
	events, err := s.Memory.Timeline(r.Context(), since, until)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func parseTimeParam(r *http.Request, name string, def time.Time) time.Time {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return def
	}
	return t
}

func (s *Server) handleMemoryObservations(w http.ResponseWriter, r *http.Request) {
	ids := r.URL.Query()["id"]
	events, err := s.Memory.FetchByIDs(r.Context(), ids)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// --- sessions ---

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodPost:
		var req struct {
			SessionID     string `json:"session_id"`
			InitialPrompt string `json:"initial_prompt"`
			Project       string `json:"project"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, errkind.Wrap(errkind.Validation, err, "decode session init"))
			return
		}
		sess, err := s.Memory.InitSession(ctx, req.SessionID, req.Project, req.InitialPrompt)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	case http.MethodGet:
		sessions, err := s.Memory.ListSessions(ctx, queryInt(r, "limit", 20))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sessions)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

// --- retrieval ---

func (s *Server) handleRetrievalStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{
		"code_enabled":       s.Retriever.Code != nil,
		"governance_enabled": s.Retriever.Governance != nil,
	})
}

func (s *Server) handleRetrievalSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	corpus := retrieve.Corpus(r.URL.Query().Get("corpus"))
	topK := queryInt(r, "top_k", 10)

	hits, err := s.Retriever.SearchIn(r.Context(), corpus, query, topK)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

func (s *Server) handleRetrievalReindex(w http.ResponseWriter, r *http.Request) {
	full := r.URL.Query().Get("full") == "true"
	if s.Retriever.Code != nil {
		if err := s.Retriever.Code.Reindex(r.Context(), full); err != nil {
			writeErr(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// --- learning ---

func (s *Server) handleLearningProposals(w http.ResponseWriter, r *http.Request) {
	maxCount := queryInt(r, "max_count", 20)
	minConfidence := queryFloat(r, "min_confidence", 0)
	proposals, err := s.Learning.List(r.Context(), maxCount, minConfidence)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proposals)
}

func (s *Server) handleLearningDecide(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Slug          string           `json:"slug"`
		ProposalID    string           `json:"proposal_id"`
		Decision      learning.Outcome `json:"decision"`
		EditedContent *string          `json:"edited_content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, errkind.Wrap(errkind.Validation, err, "decode decide request"))
		return
	}
	prior, err := s.Learning.PriorDecisionsFromStore(r.Context())
	if err != nil {
		prior = heuristics.PriorDecisions{}
	}
	result, err := s.Learning.Decide(r.Context(), s.GitRoot, req.Slug, req.ProposalID, req.Decision, req.EditedContent, prior, time.Now().UTC())
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = s.Learning.PersistPriorDecisions(r.Context(), prior)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleLearningConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.CfgMgr.Get().Learning)
	case http.MethodPut:
		cfg := s.CfgMgr.Get().Clone()
		if err := json.NewDecoder(r.Body).Decode(&cfg.Learning); err != nil {
			writeErr(w, errkind.Wrap(errkind.Validation, err, "decode learning config"))
			return
		}
		s.CfgMgr.Set(cfg)
		writeJSON(w, http.StatusOK, cfg.Learning)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (s *Server) handleAnalyticsTrend(w http.ResponseWriter, r *http.Request) {
	category := analytics.Category(r.URL.Query().Get("category"))
	days := queryInt(r, "days", 30)
	trend, err := s.Analytics.Trend(r.Context(), category, days, time.Now().UTC())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trend)
}

func (s *Server) handleAnalyticsHotspots(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 30)
	topN := queryInt(r, "top_n", 10)
	hotspots, err := s.Analytics.Hotspots(r.Context(), days, topN, time.Now().UTC())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hotspots)
}

func (s *Server) handleLearningAuditLog(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	entries, err := s.Learning.RecentAudit(r.Context(), limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAnalyticsFailure(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	var req struct {
		Category analytics.Category `json:"category"`
		FilePath string             `json:"file_path"`
		Detail   string             `json:"detail"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// Hook-origin writes are best-effort: log and swallow, never error.
		s.Logger.Warn("malformed failure event, dropping", "error", err)
		writeJSON(w, http.StatusOK, map[string]bool{"ok": false})
		return
	}
	ev := analytics.NewFailureEvent(req.Category, req.FilePath, req.Detail, time.Now().UTC())
	inserted, err := s.Analytics.RecordFailure(r.Context(), ev)
	if err != nil {
		s.Logger.Warn("failed to record failure event", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": inserted})
}

// --- orchestration ---

func slugParam(r *http.Request) string {
	return r.URL.Query().Get("slug")
}

func decodeOrchBody(r *http.Request, v any) {
	if r.Body == nil {
		return
	}
	_ = json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) handleOrchestrationStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Slug     string `json:"slug"`
		PlanPath string `json:"plan_path"`
	}
	decodeOrchBody(r, &req)
	st, err := s.Orch.Start(req.Slug, req.PlanPath)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleOrchestrationApprovePlan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Slug       string `json:"slug"`
		TotalTasks int    `json:"total_tasks"`
	}
	decodeOrchBody(r, &req)
	st, err := s.Orch.ApprovePlan(req.Slug, req.TotalTasks)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleOrchestrationStartTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Slug string `json:"slug"`
		N    int    `json:"task_num"`
	}
	decodeOrchBody(r, &req)
	st, err := s.Orch.StartTask(req.Slug, req.N)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleOrchestrationCompleteTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Slug string `json:"slug"`
		N    int    `json:"task_num"`
	}
	decodeOrchBody(r, &req)
	st, err := s.Orch.CompleteTask(req.Slug, req.N)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleOrchestrationStartVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Slug string `json:"slug"`
	}
	decodeOrchBody(r, &req)
	st, err := s.Orch.StartVerify(req.Slug)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleOrchestrationSubmitVerdict(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Slug    string               `json:"slug"`
		Verdict review.ReviewVerdict `json:"verdict"`
	}
	decodeOrchBody(r, &req)
	st, err := s.Orch.SubmitVerdict(req.Slug, req.Verdict)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleOrchestrationResolveVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Slug string `json:"slug"`
	}
	decodeOrchBody(r, &req)
	st, err := s.Orch.ResolveVerify(req.Slug)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleOrchestrationStartLearn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Slug string `json:"slug"`
	}
	decodeOrchBody(r, &req)
	st, err := s.Orch.StartLearn(req.Slug)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleOrchestrationComplete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Slug string `json:"slug"`
	}
	decodeOrchBody(r, &req)
	st, err := s.Orch.Complete(req.Slug)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleOrchestrationAbort(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Slug   string `json:"slug"`
		Reason string `json:"reason"`
	}
	decodeOrchBody(r, &req)
	st, err := s.Orch.Abort(req.Slug, req.Reason)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleOrchestrationState(w http.ResponseWriter, r *http.Request) {
	slug := slugParam(r)
	busy, err := s.Orch.IsBusy(slug, time.Now().UTC(), 0)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"busy": busy})
}
