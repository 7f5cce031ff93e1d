package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/daylend/emi-engine/internal/domain"
	"github.com/daylend/emi-engine/internal/service"
	"github.com/daylend/emi-engine/pkg/response"
)

// OpsHandler exposes the operator surface: on-demand overdue sweep, the
// drift audit, and health probes.
type OpsHandler struct {
	overdue   *service.OverdueService
	reconcile *service.ReconcileService
	db        *sqlx.DB
	redis     *redis.Client
}

func NewOpsHandler(overdue *service.OverdueService, reconcile *service.ReconcileService, db *sqlx.DB, redisClient *redis.Client) *OpsHandler {
	return &OpsHandler{
		overdue:   overdue,
		reconcile: reconcile,
		db:        db,
		redis:     redisClient,
	}
}

// RunOverdueSweep handles POST /ops/overdue-sweep
func (h *OpsHandler) RunOverdueSweep(w http.ResponseWriter, r *http.Request) {
	penalized, err := h.overdue.RunSweep(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, domain.SweepResult{Penalized: penalized})
}

// RunAudit handles POST /ops/audit
func (h *OpsHandler) RunAudit(w http.ResponseWriter, r *http.Request) {
	drifts, err := h.reconcile.AuditLoans(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, map[string]interface{}{
		"drifted": len(drifts),
		"reports": drifts,
	})
}

type healthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// Health handles GET /health
func (h *OpsHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.Success(w, healthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Checks:    map[string]string{},
	})
}

// Ready handles GET /health/ready, probing database and redis.
func (h *OpsHandler) Ready(w http.ResponseWriter, r *http.Request) {
	status := healthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Checks:    map[string]string{},
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		status.Status = "error"
		status.Checks["database"] = "failed: " + err.Error()
	} else {
		status.Checks["database"] = "ok"
	}

	if err := h.redis.Ping(ctx).Err(); err != nil {
		status.Status = "error"
		status.Checks["redis"] = "failed: " + err.Error()
	} else {
		status.Checks["redis"] = "ok"
	}

	if status.Status == "error" {
		response.Error(w, http.StatusServiceUnavailable, "service not ready", nil)
		return
	}

	response.Success(w, status)
}
