package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/example/cleaning-scheduler/internal/application"
	"github.com/example/cleaning-scheduler/internal/scheduler"
)

type taskService interface {
	GetTask(ctx context.Context, principal application.Principal, id string) (scheduler.Occurrence, error)
	Materialize(ctx context.Context, params application.MaterializeParams) (scheduler.Task, error)
	Start(ctx context.Context, principal application.Principal, occurrenceID string) (scheduler.Task, error)
	Complete(ctx context.Context, params application.CompleteParams) (scheduler.Task, error)
	Comment(ctx context.Context, params application.CommentParams) (application.CommentResult, error)
	Comments(ctx context.Context, principal application.Principal, taskID string) ([]scheduler.Comment, error)
}

type TaskHandler struct {
	service   taskService
	responder responder
	logger    *zap.Logger
}

func NewTaskHandler(service taskService, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{service: service, responder: newResponder(logger), logger: defaultLogger(logger)}
}

// decodeBody decodes an optional JSON body; an empty body leaves dst untouched.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (h *TaskHandler) taskID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(mux.Vars(r)["id"])
	if id == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, codeBadRequest, errMissingTaskID)
		return "", false
	}
	return id, true
}

func (h *TaskHandler) available(w http.ResponseWriter) bool {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return false
	}
	return true
}

func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	id, ok := h.taskID(w, r)
	if !ok {
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	occurrence, err := h.service.GetTask(r.Context(), principal, id)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toOccurrenceDTO(occurrence))
}

func (h *TaskHandler) Materialize(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	id, ok := h.taskID(w, r)
	if !ok {
		return
	}

	var req materializeRequest
	if err := decodeBody(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, codeBadRequest, errBadRequestBody)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	handlerLogger(r.Context(), h.logger, "TaskHandler", "Materialize").
		Debug("materializing occurrence", zap.String("occurrence_id", id), zap.String("action", req.Action))

	task, err := h.service.Materialize(r.Context(), application.MaterializeParams{
		Principal:    principal,
		OccurrenceID: id,
		Action:       application.Action(strings.ToLower(strings.TrimSpace(req.Action))),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toTaskDTO(task, ""))
}

func (h *TaskHandler) Start(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	id, ok := h.taskID(w, r)
	if !ok {
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	task, err := h.service.Start(r.Context(), principal, id)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toTaskDTO(task, ""))
}

func (h *TaskHandler) Complete(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	id, ok := h.taskID(w, r)
	if !ok {
		return
	}

	var req completeRequest
	if err := decodeBody(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, codeBadRequest, errBadRequestBody)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	task, err := h.service.Complete(r.Context(), application.CompleteParams{
		Principal:      principal,
		OccurrenceID:   id,
		Comment:        req.Comment,
		Photos:         req.Photos,
		CloseWithPhoto: req.CloseWithPhoto,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toTaskDTO(task, ""))
}

func (h *TaskHandler) Comment(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	id, ok := h.taskID(w, r)
	if !ok {
		return
	}

	var req commentRequest
	if err := decodeBody(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, codeBadRequest, errBadRequestBody)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	result, err := h.service.Comment(r.Context(), application.CommentParams{
		Principal:    principal,
		OccurrenceID: id,
		Text:         req.Text,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, commentResponse{
		Task:    toTaskDTO(result.Task, ""),
		Comment: toCommentDTO(result.Comment),
	})
}

func (h *TaskHandler) Comments(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	id, ok := h.taskID(w, r)
	if !ok {
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	comments, err := h.service.Comments(r.Context(), principal, id)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, map[string]any{"comments": toCommentDTOs(comments)})
}
