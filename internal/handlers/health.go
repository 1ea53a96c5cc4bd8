package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"docsearch/internal/contextutil"
	"docsearch/internal/vectorstore"
)

// Pinger is implemented by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// dependencyCheck tests one backing service. A failed required check makes
// the service unhealthy; any other failure only degrades it.
type dependencyCheck struct {
	name     string
	issue    string
	required bool
	check    func(ctx context.Context) error
}

// HealthHandler reports the state of the database and the vector index.
type HealthHandler struct {
	checks  []dependencyCheck
	timeout time.Duration
}

var errIndexUnreachable = errors.New("vector index unreachable")

func NewHealthHandler(db Pinger, store vectorstore.Store) *HealthHandler {
	return &HealthHandler{
		timeout: 5 * time.Second,
		checks: []dependencyCheck{
			{
				name:     "database",
				issue:    "database_unavailable",
				required: true,
				check:    db.PingContext,
			},
			{
				// Initialize reconnects when the index was down, so uploads
				// made during the outage are searchable once it returns.
				name:  "vector_store",
				issue: "vector_store_unavailable",
				check: func(ctx context.Context) error {
					if !store.Initialize(ctx) {
						return errIndexUnreachable
					}
					return nil
				},
			},
		},
	}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	// "healthy", "degraded" or "unhealthy"
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Issues    []string          `json:"issues,omitempty"`
}

// ServeHTTP handles GET /health. It answers 503 only when a required
// dependency is down.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodGet {
		logger.WarnContext(ctx, "method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    make(map[string]string, len(h.checks)),
	}
	code := http.StatusOK

	for _, c := range h.checks {
		if err := c.check(checkCtx); err != nil {
			logger.WarnContext(ctx, "health check failed", "check", c.name, "error", err)
			resp.Checks[c.name] = "error"
			resp.Issues = append(resp.Issues, c.issue)
			if c.required {
				resp.Status = "unhealthy"
				code = http.StatusServiceUnavailable
			} else if resp.Status == "healthy" {
				resp.Status = "degraded"
			}
			continue
		}
		resp.Checks[c.name] = "ok"
	}

	writeJSON(ctx, w, code, resp)
}
