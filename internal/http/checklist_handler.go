package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/example/cleaning-scheduler/internal/application"
)

type checklistGenerator interface {
	Generate(ctx context.Context, principal *application.Principal) (application.GenerateResult, error)
	Status(ctx context.Context) (application.GeneratorStatus, error)
}

type cronVerifier interface {
	Enabled() bool
	Verify(token string) error
}

type ChecklistHandler struct {
	generator checklistGenerator
	cron      cronVerifier
	responder responder
	logger    *zap.Logger
}

func NewChecklistHandler(generator checklistGenerator, cron cronVerifier, logger *zap.Logger) *ChecklistHandler {
	return &ChecklistHandler{generator: generator, cron: cron, responder: newResponder(logger), logger: defaultLogger(logger)}
}

// AutoGenerate serves POST /checklists/auto-generate. A request carrying
// X-Cron-Token is authorized by the token alone; any other request needs an
// ADMIN identity.
func (h *ChecklistHandler) AutoGenerate(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.generator == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	logger := handlerLogger(r.Context(), h.logger, "ChecklistHandler", "AutoGenerate")

	var principal *application.Principal
	if token := strings.TrimSpace(r.Header.Get(HeaderCronToken)); token != "" {
		if h.cron == nil || !h.cron.Enabled() {
			logger.Warn("cron token presented but token auth is disabled")
			h.responder.handleServiceError(r.Context(), w, application.ErrInvalidCronToken)
			return
		}
		if err := h.cron.Verify(token); err != nil {
			logger.Warn("cron token rejected", zap.Error(err))
			h.responder.handleServiceError(r.Context(), w, application.ErrInvalidCronToken)
			return
		}
	} else {
		identity, err := identityFromHeaders(r)
		switch {
		case errors.Is(err, errMissingIdentity):
			h.responder.writeError(r.Context(), w, http.StatusUnauthorized, codeUnauthenticated, err)
			return
		case err != nil:
			h.responder.writeError(r.Context(), w, http.StatusForbidden, codePermissionDenied, err)
			return
		}
		principal = &identity
	}

	result, err := h.generator.Generate(r.Context(), principal)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, result)
}

// Status serves GET /checklists/auto-generate for global roles.
func (h *ChecklistHandler) Status(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.generator == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, ok := PrincipalFromContext(r.Context())
	if !ok || !principal.Role.SeesEverything() {
		h.responder.handleServiceError(r.Context(), w, application.ErrUnauthorized)
		return
	}

	status, err := h.generator.Status(r.Context())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, status)
}
