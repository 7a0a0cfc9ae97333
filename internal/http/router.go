package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/sitesmith/internal/domain"
	"github.com/splax/sitesmith/internal/hosting"
	"github.com/splax/sitesmith/internal/repository"
	"github.com/splax/sitesmith/internal/service/auth"
	"github.com/splax/sitesmith/internal/service/build"
	"github.com/splax/sitesmith/internal/service/logs"
	"github.com/splax/sitesmith/internal/service/preview"
	"github.com/splax/sitesmith/internal/service/project"
	"github.com/splax/sitesmith/internal/service/publish"
	"github.com/splax/sitesmith/internal/ws"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	auth     auth.Service
	project  project.Service
	build    build.Service
	publish  publish.Service
	preview  preview.Service
	logs     logs.Service
	upgrader websocket.Upgrader
	limiter  RateLimiter
	dbHealth func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	buildsStarted      prometheus.Counter
	publishTotal       *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitSignup    = 5
	rateLimitLogin     = 12
	rateLimitGenerate  = 10
	rateLimitUserWrite = 60
	rateLimitUserRead  = 120
	rateLimitStream    = 30
	healthCheckTimeout = 2 * time.Second
	sseHeartbeatEvery  = 15 * time.Second
	sseIdleTimeout     = 10 * time.Minute
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, authSvc auth.Service, projectSvc project.Service, buildSvc build.Service, publishSvc publish.Service, previewSvc preview.Service, logSvc logs.Service, limiter RateLimiter, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:     http.NewServeMux(),
		logger:  logger,
		auth:    authSvc,
		project: projectSvc,
		build:   buildSvc,
		publish: publishSvc,
		preview: previewSvc,
		logs:    logSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:  limiter,
		dbHealth: dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/auth/signup", r.audit("/auth/signup", r.withRateLimit("/auth/signup", rateLimitSignup, rateWindowDefault, rateLimitKeyIP, r.handleSignup)))
	r.mux.HandleFunc("/auth/login", r.audit("/auth/login", r.withRateLimit("/auth/login", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)))
	r.mux.HandleFunc("/projects", r.audit("/projects", r.handlerAuthRate("/projects", rateLimitUserWrite, rateWindowDefault, r.handleProjects)))
	r.mux.HandleFunc("/projects/", r.audit("/projects/", r.requireAuth(r.handleProjectSubroutes)))
	r.mux.HandleFunc("/builds/", r.audit("/builds/", r.handleBuildSubroutes))
	r.mux.HandleFunc("/public/builds/", r.audit("/public/builds/", r.handlePublicBuildStatus))
	r.mux.HandleFunc("/ws/builds", r.audit("/ws/builds", r.handlerAuthRate("/ws/builds", rateLimitStream, rateWindowRealtime, r.handleBuildWS)))
}

func (r *Router) handleSignup(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, tokens, err := r.auth.Signup(req.Context(), payload.Email, payload.Password)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":   map[string]any{"id": user.ID, "email": user.Email},
		"tokens": tokens,
	})
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, tokens, err := r.auth.Login(req.Context(), payload.Email, payload.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":   map[string]any{"id": user.ID, "email": user.Email},
		"tokens": tokens,
	})
}

func (r *Router) handleProjects(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for projects", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	switch req.Method {
	case http.MethodPost:
		var payload struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			Brief       string `json:"brief"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		proj, err := r.project.Create(req.Context(), project.CreateInput{
			OwnerID:     info.UserID,
			Name:        payload.Name,
			Description: payload.Description,
			Brief:       payload.Brief,
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, projectPayload(proj))
	case http.MethodGet:
		projects, err := r.project.List(req.Context(), info.UserID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out := make([]map[string]any, 0, len(projects))
		for i := range projects {
			out = append(out, projectPayload(&projects[i]))
		}
		writeJSON(w, http.StatusOK, out)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProjectSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/projects/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 1 || parts[0] == "" {
		r.notFound(w)
		return
	}
	proj, ok := r.ownedProject(w, req, parts[0])
	if !ok {
		return
	}
	if len(parts) == 1 {
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		writeJSON(w, http.StatusOK, projectPayload(proj))
		return
	}
	if len(parts) != 2 {
		r.notFound(w)
		return
	}
	switch parts[1] {
	case "config":
		r.handleProjectConfig(w, req, proj)
	case "builds":
		r.handleProjectBuilds(w, req, proj)
	case "publish":
		r.handleProjectPublish(w, req, proj)
	case "site":
		r.handleProjectSite(w, req, proj)
	case "logs":
		r.handleProjectLogs(w, req, proj)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleProjectConfig(w http.ResponseWriter, req *http.Request, proj *domain.Project) {
	switch req.Method {
	case http.MethodGet:
		cfg, err := r.project.GetConfig(req.Context(), proj.ID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				r.notFound(w)
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, configPayload(cfg))
	case http.MethodPut, http.MethodPost:
		var payload struct {
			Framework  string `json:"framework"`
			Styling    string `json:"styling"`
			TypeScript bool   `json:"typescript"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		cfg, err := r.project.SetConfig(req.Context(), project.ConfigInput{
			ProjectID:  proj.ID,
			Framework:  payload.Framework,
			Styling:    payload.Styling,
			TypeScript: payload.TypeScript,
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, configPayload(cfg))
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProjectBuilds(w http.ResponseWriter, req *http.Request, proj *domain.Project) {
	switch req.Method {
	case http.MethodPost:
		key := r.rateLimitKeyUser(req)
		decision := r.limiter.Allow("generate:"+key, rateLimitGenerate, rateWindowDefault)
		r.applyRateHeaders(w, rateLimitGenerate, decision)
		if !decision.allowed {
			r.recordRateLimitHit("/projects/{id}/builds", rateMetricKey(key))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		out, err := r.build.Start(req.Context(), proj.ID)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, repository.ErrNotFound) {
				status = http.StatusNotFound
			}
			writeError(w, status, err.Error())
			return
		}
		r.recordBuildStarted()
		writeJSON(w, http.StatusAccepted, buildPayload(out, false))
	case http.MethodGet:
		limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
		if limit <= 0 {
			limit = 20
		}
		builds, err := r.build.List(req.Context(), proj.ID, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out := make([]map[string]any, 0, len(builds))
		for i := range builds {
			out = append(out, buildPayload(&builds[i], false))
		}
		writeJSON(w, http.StatusOK, out)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProjectPublish(w http.ResponseWriter, req *http.Request, proj *domain.Project) {
	switch req.Method {
	case http.MethodPost:
		var payload struct {
			Slug string `json:"slug"`
		}
		if req.Body != nil {
			_ = json.NewDecoder(req.Body).Decode(&payload)
		}
		site, err := r.publish.Publish(req.Context(), proj.ID, strings.TrimSpace(payload.Slug))
		if err != nil {
			r.recordPublish("failure")
			writeError(w, publishErrorStatus(err), err.Error())
			return
		}
		r.recordPublish("success")
		writeJSON(w, http.StatusOK, sitePayload(site))
	case http.MethodDelete:
		if err := r.publish.Unpublish(req.Context(), proj.ID); err != nil {
			writeError(w, publishErrorStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "unpublished"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProjectSite(w http.ResponseWriter, req *http.Request, proj *domain.Project) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	status, err := r.publish.Status(req.Context(), proj.ID)
	if err != nil {
		writeError(w, publishErrorStatus(err), err.Error())
		return
	}
	payload := sitePayload(status.Site)
	payload["stale"] = status.Stale
	if status.LatestBuildID != "" {
		payload["latest_build_id"] = status.LatestBuildID
	}
	writeJSON(w, http.StatusOK, payload)
}

func (r *Router) handleProjectLogs(w http.ResponseWriter, req *http.Request, proj *domain.Project) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 100
	}
	offset, _ := strconv.Atoi(req.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	entries, err := r.logs.List(req.Context(), proj.ID, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (r *Router) handleBuildSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/builds/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 1 || parts[0] == "" {
		r.notFound(w)
		return
	}
	ctx, _, ok := r.ensureAuth(w, req)
	if !ok {
		return
	}
	if setter, ok := w.(contextSetter); ok {
		setter.SetContext(ctx)
	}
	req = req.WithContext(ctx)

	out, ok := r.ownedBuild(w, req, parts[0])
	if !ok {
		return
	}
	if len(parts) == 1 {
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		writeJSON(w, http.StatusOK, buildPayload(out, true))
		return
	}
	if len(parts) != 2 {
		r.notFound(w)
		return
	}
	switch parts[1] {
	case "events":
		r.handleBuildEvents(w, req, out)
	case "preview":
		r.handleBuildPreview(w, req, out)
	default:
		r.notFound(w)
	}
}

// handleBuildEvents streams build progress as Server-Sent Events until the
// client disconnects.
func (r *Router) handleBuildEvents(w http.ResponseWriter, req *http.Request, out *domain.BuildOutput) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	hub := r.build.Hub()
	hub.Register(out.ID, client)
	defer func() {
		hub.Unregister(out.ID, client)
		client.Close()
	}()

	ticker := time.NewTicker(sseHeartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-ticker.C:
			// A stream with no progress frames for this long is a finished or
			// stuck build; drop it rather than heartbeat forever.
			if time.Since(client.LastActivity()) > sseIdleTimeout {
				return
			}
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) handleBuildPreview(w http.ResponseWriter, req *http.Request, out *domain.BuildOutput) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	result, err := r.preview.Preview(req.Context(), out.ID)
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, preview.ErrBuildNotPreviewable):
			status = http.StatusConflict
		case errors.Is(err, repository.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, hosting.ErrMisconfigured):
			status = http.StatusInternalServerError
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"url":       result.URL,
		"token":     result.Token,
		"share_url": result.URL + "/?token=" + result.Token,
	})
}

// handlePublicBuildStatus reports the publish state of a build's project for
// preview banners. Unauthenticated and CORS-open: previews run on hosting
// origins and the response carries nothing but the state.
func (r *Router) handlePublicBuildStatus(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	switch req.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet:
	default:
		r.methodNotAllowed(w)
		return
	}
	trimmed := strings.TrimPrefix(req.URL.Path, "/public/builds/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "status" {
		r.notFound(w)
		return
	}
	out, err := r.build.Get(req.Context(), parts[0])
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			r.notFound(w)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	state := "not_published"
	status, err := r.publish.Status(req.Context(), out.ProjectID)
	switch {
	case err == nil && status.Site.Status == domain.SiteStatusDeleted:
	case err == nil && status.Stale:
		state = "update_available"
	case err == nil:
		state = "published"
	case !errors.Is(err, publish.ErrNotPublished) && !errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": state})
}

func (r *Router) handleBuildWS(w http.ResponseWriter, req *http.Request) {
	buildID := req.URL.Query().Get("build_id")
	if buildID == "" {
		writeError(w, http.StatusBadRequest, "build_id query parameter required")
		return
	}
	if _, ok := r.ownedBuild(w, req, buildID); !ok {
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	hub := r.build.Hub()
	hub.Register(buildID, client)
	go func() {
		defer func() {
			hub.Unregister(buildID, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{"status": "down", "error": err.Error()}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

// ownedProject loads a project and enforces that the caller owns it. Foreign
// projects answer 404, not 403, so ids do not leak.
func (r *Router) ownedProject(w http.ResponseWriter, req *http.Request, projectID string) (*domain.Project, bool) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return nil, false
	}
	proj, err := r.project.Get(req.Context(), projectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			r.notFound(w)
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	if proj.OwnerID != info.UserID {
		r.notFound(w)
		return nil, false
	}
	return proj, true
}

func (r *Router) ownedBuild(w http.ResponseWriter, req *http.Request, buildID string) (*domain.BuildOutput, bool) {
	out, err := r.build.Get(req.Context(), buildID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			r.notFound(w)
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	if _, ok := r.ownedProject(w, req, out.ProjectID); !ok {
		return nil, false
	}
	return out, true
}

func publishErrorStatus(err error) int {
	switch {
	case errors.Is(err, publish.ErrInvalidSlug):
		return http.StatusBadRequest
	case errors.Is(err, publish.ErrNoCompleteBuild):
		return http.StatusConflict
	case errors.Is(err, repository.ErrSlugTaken):
		return http.StatusConflict
	case errors.Is(err, publish.ErrNotPublished), errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, hosting.ErrMisconfigured):
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

func projectPayload(proj *domain.Project) map[string]any {
	return map[string]any{
		"id":          proj.ID,
		"name":        proj.Name,
		"description": proj.Description,
		"brief":       proj.Brief,
		"created_at":  proj.CreatedAt.Format(time.RFC3339Nano),
	}
}

func configPayload(cfg *domain.BuildConfig) map[string]any {
	return map[string]any{
		"project_id": cfg.ProjectID,
		"framework":  cfg.Framework,
		"styling":    cfg.Styling,
		"typescript": cfg.TypeScript,
		"updated_at": cfg.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func buildPayload(out *domain.BuildOutput, includeFiles bool) map[string]any {
	payload := map[string]any{
		"id":         out.ID,
		"project_id": out.ProjectID,
		"framework":  out.Framework,
		"styling":    out.Styling,
		"typescript": out.TypeScript,
		"status":     out.Status,
		"verified":   out.Verified,
		"created_at": out.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": out.UpdatedAt.Format(time.RFC3339Nano),
	}
	if out.Error != "" {
		payload["error"] = out.Error
	}
	if out.PreviewURL != "" {
		payload["preview_url"] = out.PreviewURL
	}
	if includeFiles {
		payload["files"] = out.Files
	} else {
		payload["file_count"] = len(out.Files)
	}
	return payload
}

func sitePayload(site *domain.PublishedSite) map[string]any {
	return map[string]any{
		"id":                 site.ID,
		"project_id":         site.ProjectID,
		"slug":               site.Slug,
		"url":                site.URL,
		"status":             site.Status,
		"build_output_id":    site.BuildOutputID,
		"hosting_project_id": site.HostingProjectID,
		"deployment_id":      site.DeploymentID,
		"updated_at":         site.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", info.UserID)
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
