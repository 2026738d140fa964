package jobs

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// QueueReader reports queue state. *asynq.Inspector satisfies it.
type QueueReader interface {
	Queues() ([]string, error)
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// QueueHealth is one queue in the health response.
type QueueHealth struct {
	Queue    string `json:"queue"`
	Pending  int    `json:"pending"`
	Retry    int    `json:"retry"`
	Archived int    `json:"archived"`
	Paused   bool   `json:"paused"`
}

// Handler exposes queue health over HTTP.
type Handler struct {
	queues QueueReader
	logger *slog.Logger
}

// NewHandler constructs the jobs handler. A nil reader reports empty queues.
func NewHandler(queues QueueReader, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{queues: queues, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	known := map[string]bool{}
	if h.queues != nil {
		names, err := h.queues.Queues()
		if err != nil {
			h.unavailable(w, r, err)
			return
		}
		for _, name := range names {
			known[name] = true
		}
	}

	out := make([]QueueHealth, 0, len(queuePriorities))
	for _, name := range []string{QueueAudit, QueueDefault} {
		// asynq creates a queue on first enqueue
		if !known[name] {
			out = append(out, QueueHealth{Queue: name})
			continue
		}
		info, err := h.queues.GetQueueInfo(name)
		if err != nil {
			h.unavailable(w, r, err)
			return
		}
		out = append(out, QueueHealth{
			Queue:    name,
			Pending:  info.Pending,
			Retry:    info.Retry,
			Archived: info.Archived,
			Paused:   info.Paused,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"queues": out})
}

func (h *Handler) unavailable(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Warn("jobs health", slog.Any("error", err))
	httpx.Problem(w, r, http.StatusServiceUnavailable, "Queue Unavailable", "")
}
