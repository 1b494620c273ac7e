// Package api implements the dispatcher described by spec.md §4.4/§6: a
// single HTTP/1.1 POST "/" endpoint that decodes one protocol.Request body
// and writes back exactly one protocol.Response — no streaming, no
// sub-resource routes, matching spec.md's explicit rejection of the
// teacher's SSE/REST surface in favor of the legacy wire protocol.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ikmb/qmanager/internal/job"
	"github.com/ikmb/qmanager/internal/protocol"
	"github.com/ikmb/qmanager/internal/queue"
)

// Handler holds the dependencies needed to answer every protocol.Request.
type Handler struct {
	supervisor *queue.Supervisor
}

// NewHandler constructs a Handler bound to a running Supervisor.
func NewHandler(s *queue.Supervisor) *Handler {
	return &Handler{supervisor: s}
}

// RegisterRoutes registers the single dispatch endpoint on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /", h.Dispatch)
}

const maxRequestBody = 1 << 20 // 1 MiB; cmdlines and job output never approach this

// Dispatch decodes a protocol.Request and writes back a protocol.Response,
// mapping every queue-store error kind onto an Error response per spec.md
// §7 (BadAppkey/NotFound/Running/IllegalState/SpawnFailed/Codec all speak
// through the same Error tag — the distinction lives in the message text,
// matching the legacy wire format, which has no separate error-kind field).
func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	var req protocol.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("dispatch: malformed request body", "error", err)
		writeResponse(w, protocol.ErrorResponse(protocol.ErrCodec.Error()))
		return
	}

	resp := h.handle(req)
	writeResponse(w, resp)
}

func (h *Handler) handle(req protocol.Request) protocol.Response {
	switch req.Tag {
	case protocol.TagSubmitJob:
		id, err := h.supervisor.Submit(req.Cmdline)
		if err != nil {
			return errorResponse(err)
		}
		return protocol.SubmitJobResponse(id)

	case protocol.TagRemoveJob:
		j, err := h.supervisor.Remove(req.JobID)
		if err != nil {
			return errorResponse(err)
		}
		return protocol.GetJobResponse(j)

	case protocol.TagKillJob:
		if err := h.supervisor.Kill(req.JobID); err != nil {
			return errorResponse(err)
		}
		return protocol.OkResponse()

	case protocol.TagGetQueuedJobs:
		return protocol.GetJobsResponse(h.supervisor.ListQueued())

	case protocol.TagGetFinishedJobs:
		return protocol.GetJobsResponse(h.supervisor.ListFinished())

	case protocol.TagSetQueueState:
		if err := h.supervisor.SetState(req.QueueState); err != nil {
			return errorResponse(err)
		}
		return protocol.QueueStateResponse(h.supervisor.State())

	case protocol.TagGetQueueState:
		return protocol.QueueStateResponse(h.supervisor.State())

	default:
		return protocol.ErrorResponse(protocol.ErrCodec.Error())
	}
}

// errorResponse maps a queue-store sentinel error to a wire Error response.
func errorResponse(err error) protocol.Response {
	switch {
	case errors.Is(err, job.ErrBadAppkey),
		errors.Is(err, job.ErrNotFound),
		errors.Is(err, job.ErrRunning),
		errors.Is(err, job.ErrIllegalState):
		return protocol.ErrorResponse(err.Error())
	default:
		slog.Error("dispatch: unexpected error", "error", err)
		return protocol.ErrorResponse(err.Error())
	}
}

func writeResponse(w http.ResponseWriter, resp protocol.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("dispatch: failed to encode response", "error", err)
	}
}
