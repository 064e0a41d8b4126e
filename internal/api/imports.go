package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/LindemannRock/survey-campaigns/internal/importer"
	"github.com/LindemannRock/survey-campaigns/internal/pkg/httputil"
)

// maxUploadBytes bounds the multipart form size. The row cap is the real
// limit; this only stops runaway request bodies.
const maxUploadBytes = 32 << 20

// UploadImport accepts a CSV file and opens an import session.
func (h *Handlers) UploadImport(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		httputil.BadRequest(w, "expected a multipart upload")
		return
	}

	campaignID, err := formInt64(r, "campaignId")
	if err != nil {
		httputil.BadRequest(w, "campaignId is required")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.BadRequest(w, "file field is required")
		return
	}
	defer file.Close()

	sess, err := h.imports.Upload(r.Context(), campaignID, header.Filename, file)
	if err != nil {
		importError(w, err)
		return
	}

	httputil.Created(w, map[string]any{
		"session":  sess.ID,
		"state":    sess.State,
		"headers":  sess.Headers,
		"rowCount": len(sess.Rows),
	})
}

type mapImportRequest struct {
	Mapping     importer.FieldMapping `json:"mapping"`
	DefaultSite int64                 `json:"defaultSite"`
}

// MapImport records the column mapping and returns a short sample.
func (h *Handlers) MapImport(w http.ResponseWriter, r *http.Request) {
	var req mapImportRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	sess, sample, err := h.imports.Map(r.Context(), chi.URLParam(r, "sessionID"), req.Mapping, req.DefaultSite)
	if err != nil {
		importError(w, err)
		return
	}

	httputil.OK(w, map[string]any{
		"session": sess.ID,
		"state":   sess.State,
		"sample":  sample,
	})
}

// PreviewImport categorizes every row and returns the partition.
func (h *Handlers) PreviewImport(w http.ResponseWriter, r *http.Request) {
	sess, err := h.imports.Preview(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		importError(w, err)
		return
	}

	httputil.OK(w, map[string]any{
		"session": sess.ID,
		"state":   sess.State,
		"preview": sess.Preview,
	})
}

type commitImportRequest struct {
	QueueSending bool `json:"queueSending"`
	Async        bool `json:"async"`
}

// CommitImport persists the previewed rows best-effort. With async set the
// commit runs on the worker instead and the session id is returned right away.
func (h *Handlers) CommitImport(w http.ResponseWriter, r *http.Request) {
	var req commitImportRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	sessionID := chi.URLParam(r, "sessionID")

	if req.Async {
		job := importer.Job{SessionID: sessionID, QueueSending: req.QueueSending}
		jobID, err := h.queue.Push(r.Context(), importer.JobType, job, importer.JobTTR, importer.JobMaxAttempts)
		if err != nil {
			httputil.InternalError(w, err)
			return
		}
		httputil.JSON(w, http.StatusAccepted, map[string]any{
			"session": sessionID,
			"job":     jobID,
		})
		return
	}

	result, err := h.imports.Commit(r.Context(), sessionID, req.QueueSending)
	if err != nil {
		importError(w, err)
		return
	}
	httputil.OK(w, result)
}

// GetImport returns the current session state, so a reload can resume.
func (h *Handlers) GetImport(w http.ResponseWriter, r *http.Request) {
	sess, err := h.imports.Session(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		importError(w, err)
		return
	}
	httputil.OK(w, sess)
}

func importError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, importer.ErrSessionNotFound):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, importer.ErrWrongState):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, importer.ErrEmptyFile),
		errors.Is(err, importer.ErrTooManyRows),
		errors.Is(err, importer.ErrSingleColumn),
		errors.Is(err, importer.ErrNameNotMapped),
		errors.Is(err, importer.ErrContactNotMapped):
		httputil.BadRequest(w, err.Error())
	default:
		httputil.InternalError(w, err)
	}
}

func formInt64(r *http.Request, field string) (int64, error) {
	return strconv.ParseInt(r.FormValue(field), 10, 64)
}
