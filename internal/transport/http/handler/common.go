package handler

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"glucomate/internal/app"
	"glucomate/internal/pkg/recognition"
	"glucomate/internal/transport/http/middleware"
	"glucomate/internal/transport/http/response"
)

var errUploadTooLarge = errors.New("upload too large")

func requireUser(c *gin.Context) (uint, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
	}
	return userID, ok
}

// writeError maps service errors shared by several handlers. fallback is
// the message used for anything unexpected.
func writeError(c *gin.Context, err error, fallback string) {
	var recErr *recognition.Error
	switch {
	case errors.Is(err, app.ErrInvalidInput),
		errors.Is(err, app.ErrMessageEmpty),
		errors.Is(err, app.ErrImageEmpty),
		errors.Is(err, app.ErrAudioEmpty),
		errors.Is(err, app.ErrInvalidPeriod),
		errors.Is(err, app.ErrInvalidValue):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, errUploadTooLarge):
		response.Error(c, http.StatusRequestEntityTooLarge, response.CodePayloadTooLarge, err.Error())
	case errors.Is(err, app.ErrSessionNotFound):
		response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, err.Error())
	case errors.Is(err, app.ErrFoodNotFound):
		response.Error(c, http.StatusNotFound, response.CodeFoodNotFound, err.Error())
	case errors.Is(err, app.ErrReplyInFlight):
		response.Error(c, http.StatusConflict, response.CodeReplyInFlight, err.Error())
	case errors.Is(err, app.ErrMessageEnqueue):
		response.Error(c, http.StatusServiceUnavailable, response.CodeInternalServer, err.Error())
	case errors.Is(err, recognition.ErrNoTextRecognized):
		response.Error(c, http.StatusUnprocessableEntity, response.CodeNoTextRecognized, "未识别到有效内容，请重新上传")
	case errors.Is(err, recognition.ErrUpstream):
		_ = c.Error(err)
		response.Error(c, http.StatusBadGateway, response.CodeUpstreamFailed, "识别服务暂时不可用，请稍后重试")
	case errors.As(err, &recErr):
		response.ErrorWithData(c, http.StatusUnprocessableEntity, response.CodeRecognitionFailed, recErr.Suggestion, gin.H{
			"provider": recErr.Provider,
			"code":     recErr.Code,
		})
	default:
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}

// readUpload reads one multipart file field, refusing files over limit.
func readUpload(c *gin.Context, field string, limit int64) ([]byte, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return nil, fmt.Errorf("%w: missing %s file", app.ErrInvalidInput, field)
	}
	if fh.Size > limit {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", errUploadTooLarge, field, limit)
	}
	return readFileHeader(fh, limit)
}

func readFileHeader(fh *multipart.FileHeader, limit int64) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload failed: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read upload failed: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, errUploadTooLarge
	}
	return data, nil
}

// sseWriter defers the event-stream headers until the first event so that
// errors raised before any output can still be sent as JSON.
type sseWriter struct {
	c       *gin.Context
	flusher http.Flusher
	started bool
}

func newSSEWriter(c *gin.Context) (*sseWriter, bool) {
	flusher, ok := c.Writer.(http.Flusher)
	return &sseWriter{c: c, flusher: flusher}, ok
}

// send writes one event. Multi-line data is split over several data lines.
func (w *sseWriter) send(event, data string) error {
	if !w.started {
		h := w.c.Writer.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		w.c.Status(http.StatusOK)
		w.started = true
	}

	var b strings.Builder
	if event != "" {
		b.WriteString("event: ")
		b.WriteString(event)
		b.WriteByte('\n')
	}
	for _, line := range strings.Split(strings.ReplaceAll(data, "\r\n", "\n"), "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	if _, err := w.c.Writer.WriteString(b.String()); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}
