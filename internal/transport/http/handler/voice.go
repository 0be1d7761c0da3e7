package handler

import (
	"github.com/gin-gonic/gin"

	"glucomate/internal/app"
	"glucomate/internal/speech"
	"glucomate/internal/transport/http/response"
)

// WAV header allowance on top of the raw PCM limit.
const maxAudioUpload = speech.MaxAudioBytes + 4096

type VoiceHandler struct {
	voiceService *app.VoiceService
}

func NewVoiceHandler(voiceService *app.VoiceService) *VoiceHandler {
	return &VoiceHandler{voiceService: voiceService}
}

// Transcribe takes a multipart "audio" field. With chat=1 the transcript is
// also sent to session_id, or to the current session when it is absent.
func (h *VoiceHandler) Transcribe(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	audio, err := readUpload(c, "audio", maxAudioUpload)
	if err != nil {
		writeError(c, err, "read audio failed")
		return
	}

	if c.Query("chat") == "1" {
		result, err := h.voiceService.TranscribeAndChat(c.Request.Context(), userID, c.Query("session_id"), audio)
		if err != nil {
			writeError(c, err, "voice chat failed")
			return
		}
		response.OK(c, result)
		return
	}

	text, err := h.voiceService.Transcribe(c.Request.Context(), audio)
	if err != nil {
		writeError(c, err, "transcribe failed")
		return
	}

	response.OK(c, app.VoiceChatResult{Transcript: text})
}
