package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"glucomate/internal/pkg/recognition"
)

const (
	providerName = "baidu-speech"

	// Sample rate and channel count the recorder produces.
	sampleRate = 16000
	channels   = 1

	// Vendor limit for one request: 60 s of 16 kHz 16-bit mono PCM.
	MaxAudioBytes = 60 * sampleRate * 2

	errCodeAuthFailed = 3302
)

var errorSuggestions = map[string]string{
	"3300": "请检查录音参数是否正确",
	"3301": "录音质量较差，请在安静环境中靠近麦克风重新录音",
	"3302": "语音服务鉴权失败，请检查密钥配置",
	"3303": "语音服务繁忙，请稍后重试",
	"3304": "请求过于频繁，请稍后再试",
	"3305": "今日识别次数已用完，请明天再试",
	"3307": "识别出错，请重新录音",
	"3308": "录音过长，请控制在60秒以内",
	"3309": "音频数据异常，请确认录音格式为16k单声道PCM",
	"3310": "录音文件过大，请缩短录音时长",
	"3311": "采样率不受支持，请使用16000Hz录音",
	"3312": "音频格式不受支持，请使用PCM格式录音",
}

type Config struct {
	RecognizeURL string
	DevPID       int
	CUID         string
}

// Client calls Baidu short speech recognition.
type Client struct {
	httpClient *http.Client
	tokens     *TokenCache
	cfg        Config
	logger     *zap.Logger
}

func NewClient(cfg Config, tokens *TokenCache, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		tokens:     tokens,
		cfg:        cfg,
		logger:     logger.Named("speech"),
	}
}

type recognizeRequest struct {
	Format  string `json:"format"`
	Rate    int    `json:"rate"`
	Channel int    `json:"channel"`
	DevPID  int    `json:"dev_pid"`
	Token   string `json:"token"`
	CUID    string `json:"cuid"`
	Len     int    `json:"len"`
	Speech  string `json:"speech"`
}

type recognizeResponse struct {
	ErrNo  int      `json:"err_no"`
	ErrMsg string   `json:"err_msg"`
	SN     string   `json:"sn"`
	Result []string `json:"result"`
}

// buildRequest encodes raw PCM. Len is the raw byte count, not the length
// of the base64 text.
func buildRequest(cfg Config, token string, audio []byte) recognizeRequest {
	return recognizeRequest{
		Format:  "pcm",
		Rate:    sampleRate,
		Channel: channels,
		DevPID:  cfg.DevPID,
		Token:   token,
		CUID:    cfg.CUID,
		Len:     len(audio),
		Speech:  base64.StdEncoding.EncodeToString(audio),
	}
}

// Recognize transcribes 16 kHz mono PCM audio.
func (c *Client) Recognize(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("speech audio is empty")
	}
	if len(audio) > MaxAudioBytes {
		return "", recognition.NewError(providerName, "3308", "audio too long", errorSuggestions)
	}

	token, err := c.tokens.Get(ctx)
	if err != nil {
		return "", err
	}

	bodyBytes, err := json.Marshal(buildRequest(c.cfg, token, audio))
	if err != nil {
		return "", fmt.Errorf("marshal speech request failed: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RecognizeURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("build speech request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: speech request failed: %w", recognition.ErrUpstream, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read speech response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: speech response status %d: %s", recognition.ErrUpstream, resp.StatusCode, string(raw))
	}

	var parsed recognizeResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("parse speech json failed: %w", err)
	}
	if parsed.ErrNo != 0 {
		if parsed.ErrNo == errCodeAuthFailed {
			c.tokens.Invalidate()
		}
		c.logger.Warn("speech recognition rejected",
			zap.Int("err_no", parsed.ErrNo),
			zap.String("err_msg", parsed.ErrMsg),
			zap.String("sn", parsed.SN),
		)
		return "", recognition.NewError(providerName, strconv.Itoa(parsed.ErrNo), parsed.ErrMsg, errorSuggestions)
	}

	text := strings.TrimSpace(strings.Join(parsed.Result, ""))
	if text == "" {
		return "", recognition.ErrNoTextRecognized
	}
	return text, nil
}
