package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"glucomate/internal/app"
	"glucomate/internal/transport/http/response"
)

const maxImageBytes = 10 << 20

type LabHandler struct {
	labService *app.LabService
}

type ExtractTextRequest struct {
	Text string `json:"text" binding:"required,max=20000"`
}

func NewLabHandler(labService *app.LabService) *LabHandler {
	return &LabHandler{labService: labService}
}

// UploadReport takes a multipart "image" field holding a lab report photo.
func (h *LabHandler) UploadReport(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	image, err := readUpload(c, "image", maxImageBytes)
	if err != nil {
		writeError(c, err, "read image failed")
		return
	}

	result, err := h.labService.IngestReport(c.Request.Context(), userID, image)
	if err != nil {
		writeError(c, err, "analyze report failed")
		return
	}

	response.OK(c, result)
}

func (h *LabHandler) ExtractText(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req ExtractTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.labService.ExtractText(c.Request.Context(), userID, req.Text)
	if err != nil {
		writeError(c, err, "extract text failed")
		return
	}

	response.OK(c, result)
}

func (h *LabHandler) ListIndicators(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	indicators, err := h.labService.ListIndicators(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err, "list indicators failed")
		return
	}

	response.OK(c, indicators)
}

func (h *LabHandler) ClearIndicators(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	if err := h.labService.ClearIndicators(c.Request.Context(), userID); err != nil {
		writeError(c, err, "clear indicators failed")
		return
	}

	response.OK(c, gin.H{"cleared": true})
}
