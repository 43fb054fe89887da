package httpx

import (
	"net/http"
	"strconv"

	"github.com/ordinaut/ordinaut/internal/domain/model"
	"github.com/ordinaut/ordinaut/internal/service"
)

// defaultPageSize bounds list endpoints when the client sets no limit.
const defaultPageSize = 50

// maxPageSize bounds list endpoints regardless of what the client asks for.
const maxPageSize = 500

// TaskHandlers serves the /api/tasks resource.
type TaskHandlers struct {
	Tasks *service.TaskService
	Runs  *service.RunService
}

// Create handles POST /api/tasks.
func (h *TaskHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateTaskRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	task, err := h.Tasks.Create(r.Context(), ActorFromContext(r.Context()), &req)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, task)
}

// List handles GET /api/tasks.
func (h *TaskHandlers) List(w http.ResponseWriter, r *http.Request) {
	opts := model.TaskListOptions{}
	query := r.URL.Query()

	if s := query.Get("status"); s != "" {
		status := model.TaskStatus(s)
		opts.Status = &status
	}
	if k := query.Get("schedule_kind"); k != "" {
		kind := model.ScheduleKind(k)
		opts.ScheduleKind = &kind
	}
	if agent := query.Get("created_by"); agent != "" {
		opts.CreatedBy = &agent
	}
	opts.Limit, opts.Offset = pagination(query.Get("limit"), query.Get("offset"))

	tasks, err := h.Tasks.List(r.Context(), opts)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

// Get handles GET /api/tasks/{id}.
func (h *TaskHandlers) Get(w http.ResponseWriter, r *http.Request) {
	task, err := h.Tasks.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, task)
}

// Update handles PATCH /api/tasks/{id}.
func (h *TaskHandlers) Update(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateTaskRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	task, err := h.Tasks.Update(r.Context(), ActorFromContext(r.Context()), r.PathValue("id"), &req)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, task)
}

// Cancel handles DELETE /api/tasks/{id}. Cancellation is a status transition,
// not a row delete: runs and audit history stay queryable.
func (h *TaskHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	task, err := h.Tasks.Cancel(r.Context(), ActorFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, task)
}

// ListRuns handles GET /api/tasks/{id}/runs.
func (h *TaskHandlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	// 404 for a task that never existed beats an empty list that lies.
	if _, err := h.Tasks.Get(r.Context(), taskID); err != nil {
		WriteServiceError(w, err)
		return
	}

	query := r.URL.Query()
	opts := model.RunListOptions{TaskID: taskID}
	if s := query.Get("success"); s != "" {
		success, err := strconv.ParseBool(s)
		if err == nil {
			opts.Success = &success
		}
	}
	opts.Limit, opts.Offset = pagination(query.Get("limit"), query.Get("offset"))

	runs, err := h.Runs.List(r.Context(), opts)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// pagination parses limit/offset query values with defaults and caps.
func pagination(limitStr, offsetStr string) (limit, offset int) {
	limit = defaultPageSize
	if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
		limit = min(n, maxPageSize)
	}
	if n, err := strconv.Atoi(offsetStr); err == nil && n > 0 {
		offset = n
	}
	return limit, offset
}
