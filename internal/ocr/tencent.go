package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"glucomate/internal/pkg/recognition"
)

const providerName = "tencent-ocr"

// Shapes a recognition result can take, in the order they are tried.
const (
	ShapeStructured = "structured"
	ShapeWords      = "words"
	ShapeText       = "text"
)

var errorSuggestions = map[string]string{
	"FailedOperation.ImageDecodeFailed": "图片解码失败，请重新拍照上传",
	"FailedOperation.ImageNoText":       "未检测到文字，请确认化验单完整清晰",
	"FailedOperation.ImageBlur":         "图片模糊，请对焦后重新拍照",
	"FailedOperation.OcrFailed":         "识别失败，请重新拍照",
	"FailedOperation.ImageSizeTooLarge": "图片过大，请压缩后上传",
	"LimitExceeded.TooLargeFileError":   "图片过大，请压缩后上传",
	"RequestLimitExceeded":              "请求过于频繁，请稍后再试",
	"AuthFailure.SignatureFailure":      "OCR密钥配置错误，请联系管理员",
	"AuthFailure.SecretIdNotFound":      "OCR密钥配置错误，请联系管理员",
	"ResourceUnavailable.InArrears":     "OCR服务暂不可用，请稍后再试",
}

type Config struct {
	Endpoint  string
	Region    string
	SecretID  string
	SecretKey string
	Action    string
	Version   string
}

// Result is a recognized report. Rows are header -> cell maps; Text is the
// best plain-text rendering available.
type Result struct {
	Shape string              `json:"shape"`
	Rows  []map[string]string `json:"rows,omitempty"`
	Text  string              `json:"text"`
}

type Client struct {
	httpClient *http.Client
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cfg:        cfg,
		logger:     logger.Named("ocr"),
		now:        time.Now,
	}
}

type ocrResponse struct {
	Response struct {
		Error *struct {
			Code    string `json:"Code"`
			Message string `json:"Message"`
		} `json:"Error"`
		RequestID      string `json:"RequestId"`
		StructuralList []struct {
			Groups []struct {
				Lines []struct {
					Key struct {
						AutoName string `json:"AutoName"`
					} `json:"Key"`
					Value struct {
						AutoContent string `json:"AutoContent"`
					} `json:"Value"`
				} `json:"Lines"`
			} `json:"Groups"`
		} `json:"StructuralList"`
		TextDetections []struct {
			DetectedText string `json:"DetectedText"`
		} `json:"TextDetections"`
		WordList []struct {
			DetectedText string `json:"DetectedText"`
		} `json:"WordList"`
		Text string `json:"Text"`
	} `json:"Response"`
}

// Recognize uploads image and interprets the answer. options is merged into
// the request payload next to ImageBase64.
func (c *Client) Recognize(ctx context.Context, image []byte, options map[string]any) (*Result, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("ocr image is empty")
	}

	payload := map[string]any{}
	for k, v := range options {
		payload[k] = v
	}
	payload["ImageBase64"] = base64.StdEncoding.EncodeToString(image)
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal ocr request failed: %w", err)
	}

	endpoint, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse ocr endpoint failed: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("build ocr request failed: %w", err)
	}
	ts := c.now()
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-TC-Action", c.cfg.Action)
	req.Header.Set("X-TC-Version", c.cfg.Version)
	req.Header.Set("X-TC-Region", c.cfg.Region)
	req.Header.Set("X-TC-Timestamp", strconv.FormatInt(ts.Unix(), 10))
	req.Header.Set("Authorization", signTC3(c.cfg.SecretID, c.cfg.SecretKey, endpoint.Host, bodyBytes, ts))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: ocr request failed: %w", recognition.ErrUpstream, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read ocr response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: ocr response status %d: %s", recognition.ErrUpstream, resp.StatusCode, string(raw))
	}

	var parsed ocrResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse ocr json failed: %w", err)
	}
	if e := parsed.Response.Error; e != nil && e.Code != "" {
		c.logger.Warn("ocr recognition rejected",
			zap.String("code", e.Code),
			zap.String("message", e.Message),
			zap.String("request_id", parsed.Response.RequestID),
		)
		return nil, recognition.NewError(providerName, e.Code, e.Message, errorSuggestions)
	}

	result, ok := interpret(&parsed)
	if !ok {
		return nil, recognition.ErrNoTextRecognized
	}
	c.logger.Debug("ocr recognized",
		zap.String("shape", result.Shape),
		zap.Int("rows", len(result.Rows)),
		zap.String("request_id", parsed.Response.RequestID),
	)
	return result, nil
}

// interpret tries the structured table, then the word list, then the text
// blob.
func interpret(parsed *ocrResponse) (*Result, bool) {
	var rows []map[string]string
	var flat []string
	for _, group := range parsed.Response.StructuralList {
		for _, line := range group.Groups {
			row := make(map[string]string, len(line.Lines))
			var cells []string
			for _, item := range line.Lines {
				key := strings.TrimSpace(item.Key.AutoName)
				value := strings.TrimSpace(item.Value.AutoContent)
				if key == "" || value == "" {
					continue
				}
				row[key] = value
				cells = append(cells, key+" "+value)
			}
			if len(row) > 0 {
				rows = append(rows, row)
				flat = append(flat, strings.Join(cells, " "))
			}
		}
	}

	words := detectedText(parsed)
	if len(rows) > 0 {
		text := strings.Join(words, "\n")
		if text == "" {
			text = strings.Join(flat, "\n")
		}
		return &Result{Shape: ShapeStructured, Rows: rows, Text: text}, true
	}
	if len(words) > 0 {
		return &Result{Shape: ShapeWords, Text: strings.Join(words, "\n")}, true
	}
	if text := strings.TrimSpace(parsed.Response.Text); text != "" {
		return &Result{Shape: ShapeText, Text: text}, true
	}
	return nil, false
}

func detectedText(parsed *ocrResponse) []string {
	var words []string
	for _, d := range parsed.Response.TextDetections {
		if t := strings.TrimSpace(d.DetectedText); t != "" {
			words = append(words, t)
		}
	}
	if len(words) > 0 {
		return words
	}
	for _, d := range parsed.Response.WordList {
		if t := strings.TrimSpace(d.DetectedText); t != "" {
			words = append(words, t)
		}
	}
	return words
}
