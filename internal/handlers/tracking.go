package handlers

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/Brownie44l1/indofood-api/internal/frame"
	"github.com/Brownie44l1/indofood-api/internal/model"
	"github.com/Brownie44l1/indofood-api/internal/tracking"
)

const (
	// maxFrameBytes is the NV21 size of the largest accepted frame.
	maxFrameBytes = frame.MaxDimension * frame.MaxDimension * 3 / 2
	// maxImageSide bounds decoded uploads, whatever their file size.
	maxImageSide = 4096
)

type sessionResponse struct {
	ID         string          `json:"id"`
	Status     tracking.Status `json:"status"`
	Stats      tracking.Stats  `json:"stats"`
	Watchers   int             `json:"watchers"`
	LastActive time.Time       `json:"last_active"`
}

func newSessionResponse(t *tracking.Tracker) sessionResponse {
	return sessionResponse{
		ID:         t.ID(),
		Status:     t.Latest().Get(),
		Stats:      t.Stats(),
		Watchers:   t.Latest().SubscriberCount(),
		LastActive: t.LastActive(),
	}
}

// session resolves {id} or writes 404.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*tracking.Tracker, bool) {
	t, err := h.sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return nil, false
	}
	return t, true
}

// CreateSession starts live detection, the equivalent of entering the
// camera screen.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	t, err := h.sessions.Open()
	if errors.Is(err, tracking.ErrTooManySessions) {
		h.logger.Warn().Int("sessions", h.sessions.Len()).Msg("Session limit reached")
		http.Error(w, "Too many tracking sessions", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to start tracking session")
		http.Error(w, "Detection unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusCreated, newSessionResponse(t))
}

// DeleteSession tears the session down and releases its classifier.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	err := h.sessions.Close(mux.Vars(r)["id"])
	if errors.Is(err, tracking.ErrNoSession) {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Warn().Err(err).Msg("Session closed with error")
	}
	w.WriteHeader(http.StatusNoContent)
}

type submitResponse struct {
	Accepted bool   `json:"accepted"`
	Seq      uint64 `json:"seq,omitempty"`
}

// SubmitFrame takes a raw NV21 body. A frame arriving while the previous
// one is still being classified is dropped, which is not an error.
func (h *Handler) SubmitFrame(w http.ResponseWriter, r *http.Request) {
	t, ok := h.session(w, r)
	if !ok {
		return
	}

	width, err1 := strconv.Atoi(r.URL.Query().Get("width"))
	height, err2 := strconv.Atoi(r.URL.Query().Get("height"))
	if err1 != nil || err2 != nil {
		http.Error(w, "width and height query parameters are required", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxFrameBytes+1))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	if len(body) > maxFrameBytes {
		http.Error(w, "Frame too large", http.StatusRequestEntityTooLarge)
		return
	}

	f, err := frame.FromNV21(body, width, height)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !t.Submit(f) {
		writeJSON(w, http.StatusOK, submitResponse{Accepted: false})
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{Accepted: true, Seq: f.Seq})
}

// Result is the latest published detection of the session.
func (h *Handler) Result(w http.ResponseWriter, r *http.Request) {
	t, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(t))
}

type imageResponse struct {
	Text   string       `json:"text"`
	Result model.Result `json:"result"`
}

// ClassifyImage classifies an uploaded upright JPEG or PNG on the session's
// worker.
func (h *Handler) ClassifyImage(w http.ResponseWriter, r *http.Request) {
	t, ok := h.session(w, r)
	if !ok {
		return
	}

	// Parse multipart form (10MB max)
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "No image file provided. Use 'image' as the form field name", http.StatusBadRequest)
		return
	}
	defer file.Close()

	cfg, _, err := image.DecodeConfig(file)
	if err != nil {
		http.Error(w, "Invalid image format. Supported: JPEG, PNG", http.StatusBadRequest)
		return
	}
	if cfg.Width > maxImageSide || cfg.Height > maxImageSide {
		http.Error(w, fmt.Sprintf("Image too large: %dx%d, max %d per side", cfg.Width, cfg.Height, maxImageSide),
			http.StatusRequestEntityTooLarge)
		return
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		http.Error(w, "Failed to read image", http.StatusInternalServerError)
		return
	}

	img, format, err := image.Decode(file)
	if err != nil {
		http.Error(w, "Invalid image format. Supported: JPEG, PNG", http.StatusBadRequest)
		return
	}

	h.logger.Debug().
		Str("session", t.ID()).
		Str("file", header.Filename).
		Str("format", format).
		Int("width", img.Bounds().Dx()).
		Int("height", img.Bounds().Dy()).
		Msg("Received image")

	res, err := t.ClassifyImage(r.Context(), img)
	switch {
	case errors.Is(err, tracking.ErrBusy):
		http.Error(w, "Session busy", http.StatusConflict)
		return
	case errors.Is(err, tracking.ErrClosed):
		http.Error(w, "Session closed", http.StatusGone)
		return
	case err != nil:
		h.logger.Warn().Err(err).Str("session", t.ID()).Msg("Image classification failed")
		http.Error(w, "Prediction failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, imageResponse{Text: res.String(), Result: res})
}
