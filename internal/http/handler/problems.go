package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"ezywork/internal/problem"
)

type ProblemHandler struct {
	Store *problem.Store
	Log   *slog.Logger
}

type createProblemReq struct {
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Category    string           `json:"category"`
	Location    problem.Location `json:"location"`
	CreatedBy   string           `json:"created_by"`
}

func (h *ProblemHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createProblemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	createdBy, err := actor(r, strings.TrimSpace(req.CreatedBy))
	if err != nil {
		writeError(w, http.StatusForbidden, "created_by does not match token")
		return
	}

	p, err := h.Store.Create(r.Context(), problem.CreateInput{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Location:    req.Location,
		CreatedBy:   createdBy,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *ProblemHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Store.ListOpen(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *ProblemHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.Store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *ProblemHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	evs, err := h.Store.Timeline(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, evs)
}

type workerReq struct {
	WorkerID string `json:"worker_id"`
}

func (h *ProblemHandler) Accept(w http.ResponseWriter, r *http.Request) {
	workerID, ok := h.workerFromBody(w, r)
	if !ok {
		return
	}
	p, err := h.Store.Accept(r.Context(), chi.URLParam(r, "id"), workerID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *ProblemHandler) Complete(w http.ResponseWriter, r *http.Request) {
	workerID, ok := h.workerFromBody(w, r)
	if !ok {
		return
	}
	p, err := h.Store.Complete(r.Context(), chi.URLParam(r, "id"), workerID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type cancelReq struct {
	CustomerID string `json:"customer_id"`
}

func (h *ProblemHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelReq
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	customerID, err := actor(r, strings.TrimSpace(req.CustomerID))
	if err != nil {
		writeError(w, http.StatusForbidden, "customer_id does not match token")
		return
	}
	p, err := h.Store.Cancel(r.Context(), chi.URLParam(r, "id"), customerID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Assigned lists the jobs bound to the worker in the path.
func (h *ProblemHandler) Assigned(w http.ResponseWriter, r *http.Request) {
	workerID, err := actor(r, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	rows, err := h.Store.ListAssigned(r.Context(), workerID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *ProblemHandler) workerFromBody(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req workerReq
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return "", false
	}
	workerID, err := actor(r, strings.TrimSpace(req.WorkerID))
	if err != nil {
		writeError(w, http.StatusForbidden, "worker_id does not match token")
		return "", false
	}
	return workerID, true
}

func (h *ProblemHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, problem.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, problem.ErrNotFound):
		writeError(w, http.StatusNotFound, "problem not found")
	case errors.Is(err, problem.ErrConflict):
		writeError(w, http.StatusConflict, "problem already assigned or closed")
	default:
		h.Log.Error("problem request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "server error")
	}
}
