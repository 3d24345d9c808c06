package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gabrielee5/grafo-sub000/internal/domain"
	"github.com/gabrielee5/grafo-sub000/internal/i18n"
	"github.com/gabrielee5/grafo-sub000/internal/middleware"
	"github.com/gabrielee5/grafo-sub000/internal/pipeline"
)

// multipartOverhead covers the form boundary and the prompt field.
const multipartOverhead = 1 << 20

type processResponse struct {
	Success           bool                  `json:"success"`
	HistoryID         string                `json:"historyId"`
	Status            domain.HistoryStatus  `json:"status"`
	OriginalImageURL  *string               `json:"originalImageUrl"`
	ProcessedImageURL *string               `json:"processedImageUrl"`
	ProcessingTime    int64                 `json:"processingTime"`
	WorkflowSteps     []domain.WorkflowStep `json:"workflowSteps"`
	Error             string                `json:"error,omitempty"`
	Code              string                `json:"code,omitempty"`
}

// ProcessImage accepts a multipart upload with fields image and prompt.
// Clients sending Accept: text/event-stream get step events as they happen.
func (a *App) ProcessImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.MaxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, r, http.StatusRequestEntityTooLarge, i18n.MsgFileTooLarge, a.maxUploadMB())
			return
		}
		a.error(w, r, http.StatusBadRequest, i18n.MsgInvalidBody)
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("image")
	if err != nil {
		a.error(w, r, http.StatusBadRequest, i18n.MsgMissingImage)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, a.MaxUploadBytes+1))
	if err != nil {
		a.error(w, r, http.StatusBadRequest, i18n.MsgInvalidBody)
		return
	}

	sub := pipeline.Submission{
		Image:       data,
		MIMEType:    header.Header.Get("Content-Type"),
		FileName:    header.Filename,
		Instruction: r.FormValue("prompt"),
		OwnerID:     a.currentUserID(r),
	}

	if wantsEventStream(r) {
		if flusher, ok := w.(http.Flusher); ok {
			a.processStream(w, r, flusher, sub)
			return
		}
	}

	outcome, err := a.Processor.Process(r.Context(), sub)
	if err != nil {
		a.fail(w, r, err, i18n.MsgHistoryNotFound)
		return
	}
	status := http.StatusOK
	if outcome.Status != domain.StatusCompleted {
		status = http.StatusBadGateway
	}
	a.json(w, status, a.processResponse(r, outcome))
}

func (a *App) processStream(w http.ResponseWriter, r *http.Request, flusher http.Flusher, sub pipeline.Submission) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	started := false
	start := func() {
		if !started {
			started = true
			w.WriteHeader(http.StatusOK)
		}
	}
	// Writes after a client disconnect fail quietly; the attempt carries on.
	send := func(event string, v any) {
		start()
		payload, err := json.Marshal(v)
		if err != nil {
			return
		}
		_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
		flusher.Flush()
	}

	sub.OnCreated = func(id string) { send("created", map[string]string{"historyId": id}) }
	sub.OnStep = func(step domain.WorkflowStep) { send("step", step) }

	outcome, err := a.Processor.Process(r.Context(), sub)
	if err != nil && !started {
		// Nothing streamed yet: answer like the plain endpoint.
		h.Set("Content-Type", "application/json")
		a.fail(w, r, err, i18n.MsgHistoryNotFound)
		return
	}
	if err != nil {
		key := i18n.MsgInternal
		if errors.Is(err, domain.ErrNotFound) {
			key = i18n.MsgHistoryNotFound
		} else {
			a.logger().Error().Err(err).Msg("process image stream failed")
		}
		send("error", middleware.ErrorBody{
			Error: i18n.T(middleware.LocaleFromContext(r.Context()), key),
			Code:  string(key),
		})
		return
	}
	send("result", a.processResponse(r, outcome))
}

func (a *App) processResponse(r *http.Request, o *domain.OutcomeRecord) processResponse {
	resp := processResponse{
		Success:           o.Status == domain.StatusCompleted,
		HistoryID:         o.HistoryID,
		Status:            o.Status,
		OriginalImageURL:  o.OriginalImageURL,
		ProcessedImageURL: o.ProcessedImageURL,
		ProcessingTime:    o.ProcessingTime,
		WorkflowSteps:     o.WorkflowSteps,
	}
	if !resp.Success {
		resp.Error = i18n.T(middleware.LocaleFromContext(r.Context()), i18n.MsgProcessingFailed)
		resp.Code = string(i18n.MsgProcessingFailed)
	}
	return resp
}

func wantsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}
