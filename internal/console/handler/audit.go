package handler

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/xela07ax/agentwallet/internal/api"
	"github.com/xela07ax/agentwallet/internal/audit"
	"github.com/xela07ax/agentwallet/internal/console/service"
	"github.com/xela07ax/agentwallet/internal/domain"
)

type AuditHandler struct {
	service *service.EventService
	logger  *zap.Logger
}

func NewAuditHandler(s *service.EventService, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{service: s, logger: logger}
}

// GetEvents GET /v1/admin/events?subject=...&kind=...&limit=...
func (h *AuditHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	q := audit.EventQuery{
		Subject: r.URL.Query().Get("subject"),
		Kind:    audit.Kind(r.URL.Query().Get("kind")),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			api.WriteError(w, h.logger, domain.Errorf(domain.CodeInvalidArgument, "limit must be an integer"))
			return
		}
		q.Limit = n
	}

	events, err := h.service.FetchEvents(r.Context(), q)
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, events)
}
