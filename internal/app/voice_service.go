package app

import (
	"bytes"
	"context"
	"encoding/binary"

	"go.uber.org/zap"
)

type VoiceService struct {
	recognizer SpeechRecognizer
	chat       *ChatService
	logger     *zap.Logger
}

type VoiceChatResult struct {
	Transcript string       `json:"transcript"`
	Reply      *ReplyResult `json:"reply,omitempty"`
}

func NewVoiceService(recognizer SpeechRecognizer, chat *ChatService, logger *zap.Logger) *VoiceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VoiceService{recognizer: recognizer, chat: chat, logger: logger.Named("voice")}
}

// Transcribe accepts raw 16 kHz mono PCM or the same wrapped in a WAV
// container.
func (s *VoiceService) Transcribe(ctx context.Context, audio []byte) (string, error) {
	pcm := stripWAVHeader(audio)
	if len(pcm) == 0 {
		return "", ErrAudioEmpty
	}
	text, err := s.recognizer.Recognize(ctx, pcm)
	if err != nil {
		s.logger.Warn("transcribe failed", zap.Int("bytes", len(pcm)), zap.Error(err))
		return "", err
	}
	return text, nil
}

// TranscribeAndChat sends the transcript as a chat turn.
func (s *VoiceService) TranscribeAndChat(ctx context.Context, userID uint, sessionID string, audio []byte) (*VoiceChatResult, error) {
	text, err := s.Transcribe(ctx, audio)
	if err != nil {
		return nil, err
	}
	reply, err := s.chat.SendMessage(ctx, SendMessageInput{UserID: userID, SessionID: sessionID, Content: text})
	if err != nil {
		return nil, err
	}
	return &VoiceChatResult{Transcript: text, Reply: reply}, nil
}

// stripWAVHeader returns the payload of the "data" chunk of a RIFF/WAVE
// file, or audio unchanged when it is not one.
func stripWAVHeader(audio []byte) []byte {
	if len(audio) < 12 || !bytes.Equal(audio[0:4], []byte("RIFF")) || !bytes.Equal(audio[8:12], []byte("WAVE")) {
		return audio
	}
	pos := 12
	for pos+8 <= len(audio) {
		id := audio[pos : pos+4]
		size := int(binary.LittleEndian.Uint32(audio[pos+4 : pos+8]))
		body := pos + 8
		if bytes.Equal(id, []byte("data")) {
			end := body + size
			if end > len(audio) {
				end = len(audio)
			}
			return audio[body:end]
		}
		pos = body + size + size%2
	}
	return nil
}
