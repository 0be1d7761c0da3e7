package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"glucomate/internal/app"
	"glucomate/internal/transport/http/response"
)

type GlucoseHandler struct {
	glucoseService *app.GlucoseService
}

type LogGlucoseRequest struct {
	Value      float64    `json:"value" binding:"required"`
	Period     string     `json:"period"`
	Note       string     `json:"note" binding:"max=255"`
	MeasuredAt *time.Time `json:"measured_at"`
}

func NewGlucoseHandler(glucoseService *app.GlucoseService) *GlucoseHandler {
	return &GlucoseHandler{glucoseService: glucoseService}
}

func (h *GlucoseHandler) Log(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req LogGlucoseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	input := app.LogGlucoseInput{
		UserID: userID,
		Value:  req.Value,
		Period: req.Period,
		Note:   req.Note,
	}
	if req.MeasuredAt != nil {
		input.MeasuredAt = *req.MeasuredAt
	}
	record, err := h.glucoseService.Log(input)
	if err != nil {
		writeError(c, err, "log glucose failed")
		return
	}

	response.OK(c, record)
}

// List accepts RFC 3339 from/to bounds and a limit.
func (h *GlucoseHandler) List(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	from, to, ok := parseWindow(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	records, err := h.glucoseService.List(userID, from, to, limit)
	if err != nil {
		writeError(c, err, "list glucose failed")
		return
	}

	response.OK(c, records)
}

func (h *GlucoseHandler) Stats(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	from, to, ok := parseWindow(c)
	if !ok {
		return
	}

	stats, err := h.glucoseService.Stats(userID, from, to)
	if err != nil {
		writeError(c, err, "glucose stats failed")
		return
	}

	response.OK(c, stats)
}

func parseWindow(c *gin.Context) (from, to time.Time, ok bool) {
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &from}, {"to", &to}} {
		raw := c.Query(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid "+p.name)
			return time.Time{}, time.Time{}, false
		}
		*p.dst = t
	}
	return from, to, true
}
