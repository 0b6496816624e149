package health

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"fx-backoffice/internal/httputil"
)

// Handler serves liveness, readiness, full diagnostics and a small
// Prometheus exposition. Full and Metrics sit behind the internal token
// because they reveal pool and dependency detail.
type Handler struct {
	pool         *pgxpool.Pool
	startedAt    time.Time
	gatewayMode  string
	paymentsMode string
	httpAddr     string
	internalTok  string
}

func NewHandler(pool *pgxpool.Pool, startedAt time.Time, gatewayMode, paymentsMode, httpAddr, internalToken string) *Handler {
	start := startedAt.UTC()
	if start.IsZero() {
		start = time.Now().UTC()
	}
	return &Handler{
		pool:         pool,
		startedAt:    start,
		gatewayMode:  strings.TrimSpace(gatewayMode),
		paymentsMode: strings.TrimSpace(paymentsMode),
		httpAddr:     strings.TrimSpace(httpAddr),
		internalTok:  strings.TrimSpace(internalToken),
	}
}

type liveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	UptimeSec int64  `json:"uptime_sec"`
}

type dbStatus struct {
	Reachable bool   `json:"reachable"`
	PingMs    int64  `json:"ping_ms"`
	Error     string `json:"error,omitempty"`
}

type readinessResponse struct {
	Status    string   `json:"status"`
	Timestamp string   `json:"timestamp"`
	UptimeSec int64    `json:"uptime_sec"`
	Database  dbStatus `json:"database"`
}

type poolStatus struct {
	TotalConns    int32 `json:"total_conns"`
	IdleConns     int32 `json:"idle_conns"`
	AcquiredConns int32 `json:"acquired_conns"`
	MaxConns      int32 `json:"max_conns"`
}

type fullResponse struct {
	Status       string     `json:"status"`
	Timestamp    string     `json:"timestamp"`
	UptimeSec    int64      `json:"uptime_sec"`
	HTTPAddr     string     `json:"http_addr"`
	GatewayMode  string     `json:"gateway_mode"`
	PaymentsMode string     `json:"payments_mode"`
	GoVersion    string     `json:"go_version"`
	Goroutines   int        `json:"goroutines"`
	HeapAlloc    uint64     `json:"heap_alloc_bytes"`
	GCCount      uint32     `json:"gc_count"`
	Database     dbStatus   `json:"database"`
	Pool         poolStatus `json:"pool"`
}

func (h *Handler) uptimeSec(now time.Time) int64 {
	uptime := now.Sub(h.startedAt)
	if uptime < 0 {
		return 0
	}
	return int64(uptime.Seconds())
}

func secureTokenEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (h *Handler) requireInternalToken(w http.ResponseWriter, r *http.Request) bool {
	if h.internalTok == "" {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, httputil.ErrorResponse{Error: "internal token is not configured"})
		return false
	}
	provided := strings.TrimSpace(r.Header.Get("X-Internal-Token"))
	if !secureTokenEqual(provided, h.internalTok) {
		httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "invalid internal token"})
		return false
	}
	return true
}

func (h *Handler) pingDB(ctx context.Context) dbStatus {
	if h.pool == nil {
		return dbStatus{Error: "pool is not configured"}
	}
	start := time.Now()
	pingCtx, cancel := context.WithTimeout(ctx, time.Second)
	err := h.pool.Ping(pingCtx)
	cancel()
	st := dbStatus{PingMs: time.Since(start).Milliseconds()}
	if err != nil {
		st.Error = err.Error()
		return st
	}
	st.Reachable = true
	return st
}

// Get keeps compatibility: /health is the readiness summary.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	h.Ready(w, r)
}

// Live does not touch the database.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	httputil.WriteJSON(w, http.StatusOK, liveResponse{
		Status:    "ok",
		Timestamp: now.Format(time.RFC3339),
		UptimeSec: h.uptimeSec(now),
	})
}

// Ready checks the primary dependency and returns 503 when it is down.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	db := h.pingDB(r.Context())
	status, httpStatus := "ok", http.StatusOK
	if !db.Reachable {
		status, httpStatus = "degraded", http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, httpStatus, readinessResponse{
		Status:    status,
		Timestamp: now.Format(time.RFC3339),
		UptimeSec: h.uptimeSec(now),
		Database:  db,
	})
}

// Full returns operator diagnostics behind the internal token.
func (h *Handler) Full(w http.ResponseWriter, r *http.Request) {
	if !h.requireInternalToken(w, r) {
		return
	}
	now := time.Now().UTC()
	db := h.pingDB(r.Context())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	pool := poolStatus{}
	if h.pool != nil {
		stat := h.pool.Stat()
		pool = poolStatus{
			TotalConns:    stat.TotalConns(),
			IdleConns:     stat.IdleConns(),
			AcquiredConns: stat.AcquiredConns(),
			MaxConns:      stat.MaxConns(),
		}
	}

	status, httpStatus := "ok", http.StatusOK
	if !db.Reachable {
		status, httpStatus = "degraded", http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, httpStatus, fullResponse{
		Status:       status,
		Timestamp:    now.Format(time.RFC3339),
		UptimeSec:    h.uptimeSec(now),
		HTTPAddr:     h.httpAddr,
		GatewayMode:  h.gatewayMode,
		PaymentsMode: h.paymentsMode,
		GoVersion:    runtime.Version(),
		Goroutines:   runtime.NumGoroutine(),
		HeapAlloc:    mem.HeapAlloc,
		GCCount:      mem.NumGC,
		Database:     db,
		Pool:         pool,
	})
}

// Metrics exposes the same numbers in Prometheus text format, behind the
// internal token.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	if !h.requireInternalToken(w, r) {
		return
	}
	now := time.Now().UTC()
	db := h.pingDB(r.Context())
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	dbUp := 0
	if db.Reachable {
		dbUp = 1
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "# HELP fxbo_up Service process is running.\n")
	_, _ = fmt.Fprintf(w, "# TYPE fxbo_up gauge\n")
	_, _ = fmt.Fprintf(w, "fxbo_up 1\n")
	_, _ = fmt.Fprintf(w, "fxbo_uptime_seconds %d\n", h.uptimeSec(now))

	_, _ = fmt.Fprintf(w, "# HELP fxbo_db_up Database ping status (1=ok,0=down).\n")
	_, _ = fmt.Fprintf(w, "# TYPE fxbo_db_up gauge\n")
	_, _ = fmt.Fprintf(w, "fxbo_db_up %d\n", dbUp)
	_, _ = fmt.Fprintf(w, "fxbo_db_ping_milliseconds %d\n", db.PingMs)

	_, _ = fmt.Fprintf(w, "fxbo_go_goroutines %d\n", runtime.NumGoroutine())
	_, _ = fmt.Fprintf(w, "fxbo_go_mem_heap_alloc_bytes %d\n", mem.HeapAlloc)
	_, _ = fmt.Fprintf(w, "fxbo_go_gc_count %d\n", mem.NumGC)

	if h.pool != nil {
		stat := h.pool.Stat()
		_, _ = fmt.Fprintf(w, "fxbo_db_pool_total_conns %d\n", stat.TotalConns())
		_, _ = fmt.Fprintf(w, "fxbo_db_pool_idle_conns %d\n", stat.IdleConns())
		_, _ = fmt.Fprintf(w, "fxbo_db_pool_acquired_conns %d\n", stat.AcquiredConns())
		_, _ = fmt.Fprintf(w, "fxbo_db_pool_max_conns %d\n", stat.MaxConns())
	}
}
