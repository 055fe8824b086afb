package http

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/example/cleaning-scheduler/internal/application"
	"github.com/example/cleaning-scheduler/internal/calendar"
)

type calendarService interface {
	GetCalendar(ctx context.Context, params application.CalendarParams) (application.CalendarResult, error)
}

type CalendarHandler struct {
	service   calendarService
	responder responder
}

func NewCalendarHandler(service calendarService, logger *zap.Logger) *CalendarHandler {
	return &CalendarHandler{service: service, responder: newResponder(logger)}
}

// Get serves GET /calendar?date=YYYY-MM-DD&objectId=...
func (h *CalendarHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	query := r.URL.Query()
	params := application.CalendarParams{
		Principal: principal,
		ObjectID:  strings.TrimSpace(query.Get("objectId")),
	}
	if raw := strings.TrimSpace(query.Get("date")); raw != "" {
		date, err := calendar.ParseDate(raw)
		if err != nil {
			h.responder.writeError(r.Context(), w, http.StatusBadRequest, "INVALID_DATE", errInvalidDate)
			return
		}
		params.BaseDate = date
	}

	result, err := h.service.GetCalendar(r.Context(), params)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, toCalendarResponse(result))
}
