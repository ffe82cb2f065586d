package main

import (
	"bufio"
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"likegate/pkg/access"
	"likegate/pkg/audit"
	"likegate/pkg/eventbus"
	"likegate/pkg/httpx"
	"likegate/pkg/models"
	"likegate/pkg/quota"
	"likegate/pkg/stream"
	"likegate/pkg/telemetry"
)

const adminSource = "admin"

type userView struct {
	ID         models.Identity `json:"id"`
	Owner      bool            `json:"owner"`
	Verified   bool            `json:"verified"`
	VerifiedAt *time.Time      `json:"verified_at,omitempty"`
	UsedToday  int             `json:"used_today"`
	Limit      *int            `json:"limit"`
	Remaining  *int            `json:"remaining"`
	Override   bool            `json:"override"`
	Today      models.DateKey  `json:"today"`
}

func limitPtr(l quota.Limit) *int {
	if l.IsUnlimited() {
		return nil
	}
	v := l.Value()
	return &v
}

func (a *app) adminRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(a.observe)
	r.Use(httpx.ServiceTokenMiddleware(a.cfg.AdminAuthHeader, a.cfg.AdminAuthToken, "/healthz"))

	r.Get("/v1/events", a.streamEvents)
	r.Group(func(r chi.Router) {
		r.Use(telemetry.HTTPMiddleware("likegate-admin"))
		r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			status := "ok"
			if a.store.Dirty() {
				status = "degraded"
			}
			httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{"status": status, "service": "likegate"})
		})
		r.Get("/metrics", a.metrics.Handler())
		r.Get("/metrics/prometheus", a.metrics.PrometheusHandler())
		r.Get("/v1/users/{id}", a.getUser)
		r.Put("/v1/users/{id}/limit", a.putLimit)
		r.Get("/v1/groups", a.listGroups)
		r.Put("/v1/groups/{id}", a.putGroup)
		r.Delete("/v1/groups/{id}", a.deleteGroup)
		r.Post("/v1/admit", a.probeAdmission)
		r.Get("/v1/audit", a.listAudit)
	})
	return r
}

// observe records status and latency per route pattern.
func (a *app) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		a.metrics.Observe(r.Method+" "+path, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// Hijack is needed by the websocket upgrade on /v1/events.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	s.status = http.StatusSwitchingProtocols
	return http.NewResponseController(s.ResponseWriter).Hijack()
}

func pathIdentity(r *http.Request) (models.Identity, bool) {
	id, err := models.ParseIdentity(chi.URLParam(r, "id"))
	return id, err == nil
}

func (a *app) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathIdentity(r)
	if !ok {
		httpx.Error(w, http.StatusBadRequest, "invalid user id")
		return
	}
	v := userView{
		ID:        id,
		Owner:     a.cfg.Owners.IsOwner(id),
		Verified:  a.verification.IsVerified(id),
		UsedToday: a.ledger.UsageToday(id),
		Limit:     limitPtr(a.ledger.DailyLimit(id)),
		Remaining: limitPtr(a.ledger.Remaining(id)),
		Today:     a.ledger.Today(),
	}
	if at, ok := a.verification.VerifiedAt(id); ok {
		v.VerifiedAt = &at
	}
	if rec, ok := a.store.UserSnapshot(id); ok {
		v.Override = rec.LimitOverride != nil
	}
	httpx.WriteJSON(w, http.StatusOK, v)
}

func (a *app) putLimit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathIdentity(r)
	if !ok {
		httpx.Error(w, http.StatusBadRequest, "invalid user id")
		return
	}
	var body struct {
		Limit *int `json:"limit"`
	}
	if err := httpx.DecodeJSON(r, &body, 0); err != nil || body.Limit == nil {
		httpx.Error(w, http.StatusBadRequest, "limit required")
		return
	}
	if err := a.ledger.SetLimit(r.Context(), id, *body.Limit); err != nil {
		if errors.Is(err, quota.ErrInvalidArgument) {
			httpx.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		httpx.Error(w, http.StatusServiceUnavailable, "persist failed")
		return
	}
	a.record(r.Context(), audit.ActionSetLimit, id.String(), map[string]int{"limit": *body.Limit})
	a.publish(r.Context(), stream.TypeLimit, id, 0, map[string]interface{}{"user": id, "limit": *body.Limit})
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{"id": id, "limit": *body.Limit})
}

func (a *app) listGroups(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{"groups": a.groups.List()})
}

func (a *app) putGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathIdentity(r)
	if !ok {
		httpx.Error(w, http.StatusBadRequest, "invalid group id")
		return
	}
	var body struct {
		Title string `json:"title"`
	}
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &body, 0); err != nil {
			httpx.Error(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	rec, err := a.groups.Authorize(r.Context(), models.ScopeForChat(int64(id)), body.Title)
	if err != nil {
		if errors.Is(err, access.ErrInvalidScope) {
			httpx.Error(w, http.StatusBadRequest, "group ids are negative")
			return
		}
		httpx.Error(w, http.StatusServiceUnavailable, "persist failed")
		return
	}
	a.record(r.Context(), audit.ActionAuthorizeGroup, rec.ID.String(), map[string]string{"title": rec.Title})
	a.publish(r.Context(), stream.TypeGroup, 0, rec.ID, map[string]interface{}{"group": rec, "authorized": true})
	httpx.WriteJSON(w, http.StatusOK, rec)
}

func (a *app) deleteGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathIdentity(r)
	if !ok {
		httpx.Error(w, http.StatusBadRequest, "invalid group id")
		return
	}
	removed, err := a.groups.Deauthorize(r.Context(), models.ScopeForChat(int64(id)))
	if err != nil {
		if errors.Is(err, access.ErrInvalidScope) {
			httpx.Error(w, http.StatusBadRequest, "group ids are negative")
			return
		}
		httpx.Error(w, http.StatusServiceUnavailable, "persist failed")
		return
	}
	if removed {
		a.record(r.Context(), audit.ActionDeauthorizeGroup, id.String(), nil)
		a.publish(r.Context(), stream.TypeGroup, 0, id, map[string]interface{}{"group": id, "authorized": false})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{"id": id, "removed": removed})
}

// probeAdmission evaluates the gate without running a command.
func (a *app) probeAdmission(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ChatID int64       `json:"chat_id"`
		UserID int64       `json:"user_id"`
		Kind   access.Kind `json:"kind"`
	}
	if err := httpx.DecodeJSON(r, &body, 0); err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	switch body.Kind {
	case access.Informational, access.Verified, access.QuotaGated, access.OwnerOnly:
	default:
		httpx.Error(w, http.StatusBadRequest, "unknown kind")
		return
	}
	if body.UserID == 0 {
		httpx.Error(w, http.StatusBadRequest, "user_id required")
		return
	}
	chat := body.ChatID
	if chat == 0 {
		chat = body.UserID
	}
	d := a.gate.Admit(models.ScopeForChat(chat), models.Identity(body.UserID), body.Kind)
	httpx.WriteJSON(w, http.StatusOK, d)
}

func (a *app) listAudit(w http.ResponseWriter, r *http.Request) {
	if a.auditLog == nil {
		httpx.Error(w, http.StatusServiceUnavailable, errNoAuditLog.Error())
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	recs, err := a.auditLog.Recent(r.Context(), limit)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "audit query failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{"records": recs})
}

func (a *app) streamEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sub := a.hub.Subscribe(64, r.URL.Query()["type"]...)
	defer a.hub.Unsubscribe(sub)

	_ = wsjson.Write(ctx, conn, stream.NewEvent("ready", nil))
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				readErr <- err
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-readErr:
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case evt, ok := <-sub:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "closed")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, evt)
			cancelWrite()
			if err != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
				return
			}
		}
	}
}

func (a *app) record(ctx context.Context, action, target string, detail interface{}) {
	rec := audit.NewRecord(action, adminSource, target, adminSource, detail)
	if err := a.audit.Append(ctx, rec); err != nil {
		a.metrics.IncCommand("admin.audit_failed")
	}
}

func (a *app) publish(ctx context.Context, eventType string, user, chat models.Identity, data interface{}) {
	a.hub.Publish(stream.NewEvent(eventType, data))
	if err := a.events.Publish(ctx, eventbus.NewRecord(eventType, user, chat, data)); err != nil {
		log.Printf("admin: publish %s event: %v", eventType, err)
		a.metrics.IncCommand("admin.publish_failed")
	}
}
