package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/PortNumber53/beat-storefront/backend/internal/models"
	"github.com/PortNumber53/beat-storefront/backend/internal/store"
)

// JobQueue defines the job queue operations exposed to admins
type JobQueue interface {
	Enqueue(ctx context.Context, job *models.Job) error
	GetByID(ctx context.Context, id int64) (*models.Job, error)
	GetStats(ctx context.Context) (*models.JobStats, error)
}

// JobHandler serves the admin job routes
type JobHandler struct {
	queue    JobQueue
	sessions SessionReader
}

// NewJobHandler creates a job handler
func NewJobHandler(queue JobQueue, sessions SessionReader) *JobHandler {
	return &JobHandler{queue: queue, sessions: sessions}
}

// RegisterRoutes mounts the job routes on an admin router
func (h *JobHandler) RegisterRoutes(router chi.Router) {
	router.Post("/orders/{sessionID}/resend", ResendDelivery(h.queue, h.sessions))
	router.Get("/jobs/stats", GetJobStats(h.queue))
	router.Get("/jobs/{id}", GetJob(h.queue))
}

// ResendDelivery enqueues a resend of the stored manifest for a fulfilled
// order.
func ResendDelivery(queue JobQueue, sessions SessionReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionID")

		sess, err := sessions.GetCheckoutSession(r.Context(), sessionID)
		if errors.Is(err, store.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		if err != nil {
			log.Printf("ResendDelivery: failed to load session %s: %v", sessionID, err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if sess.Status != models.SessionFulfilled {
			writeError(w, http.StatusConflict, "order is not fulfilled")
			return
		}

		job := models.NewDeliveryResendJob(sessionID)
		if err := queue.Enqueue(r.Context(), job); err != nil {
			log.Printf("ResendDelivery: failed to enqueue job: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to enqueue resend")
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"job_id":     job.ID,
			"status":     job.Status,
			"session_id": sessionID,
		})
	}
}

// GetJob retrieves a job by ID
func GetJob(queue JobQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid job ID")
			return
		}

		job, err := queue.GetByID(r.Context(), jobID)
		if errors.Is(err, store.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		if err != nil {
			log.Printf("GetJob: failed to get job %d: %v", jobID, err)
			writeError(w, http.StatusInternalServerError, "failed to get job")
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

// GetJobStats returns queue counts per status
func GetJobStats(queue JobQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := queue.GetStats(r.Context())
		if err != nil {
			log.Printf("GetJobStats: failed to get stats: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to get job stats")
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}
