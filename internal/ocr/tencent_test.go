package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glucomate/internal/pkg/recognition"
)

func TestSignTC3KnownVector(t *testing.T) {
	ts := time.Unix(1767225600, 0)
	got := signTC3("AKIDEXAMPLE", "secretexample", "ocr.tencentcloudapi.com", []byte(`{"ImageBase64":"aGVsbG8="}`), ts)

	assert.Equal(t,
		"TC3-HMAC-SHA256 Credential=AKIDEXAMPLE/2026-01-01/ocr/tc3_request, SignedHeaders=content-type;host, "+
			"Signature=01b47090327fd5c83b52e3f66766c179858a6da5ea9be6c11a5d5b68255d2c54",
		got)
}

func newTestClient(t *testing.T, body string, check func(r *http.Request)) *Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(server.Close)

	return NewClient(Config{
		Endpoint:  server.URL,
		Region:    "ap-guangzhou",
		SecretID:  "id",
		SecretKey: "key",
		Action:    "SmartStructuralOCRV2",
		Version:   "2018-11-19",
	}, nil)
}

func TestRecognizeStructuredRows(t *testing.T) {
	body := `{"Response":{"RequestId":"r1","StructuralList":[{"Groups":[
		{"Lines":[{"Key":{"AutoName":"项目名称"},"Value":{"AutoContent":"葡萄糖"}},
		          {"Key":{"AutoName":"结果"},"Value":{"AutoContent":"8.2"}},
		          {"Key":{"AutoName":"参考范围"},"Value":{"AutoContent":"3.9-6.1"}}]},
		{"Lines":[{"Key":{"AutoName":"项目名称"},"Value":{"AutoContent":""}}]}
	]}],"WordList":[{"DetectedText":"葡萄糖 8.2 ↑"}]}}`

	client := newTestClient(t, body, func(r *http.Request) {
		assert.Equal(t, "SmartStructuralOCRV2", r.Header.Get("X-TC-Action"))
		assert.Equal(t, "2018-11-19", r.Header.Get("X-TC-Version"))
		assert.Equal(t, "ap-guangzhou", r.Header.Get("X-TC-Region"))
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "TC3-HMAC-SHA256 Credential=id/"))

		var payload map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("img")), payload["ImageBase64"])
		assert.Equal(t, true, payload["ReturnFullText"])
	})

	result, err := client.Recognize(context.Background(), []byte("img"), map[string]any{"ReturnFullText": true})
	require.NoError(t, err)
	assert.Equal(t, ShapeStructured, result.Shape)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, "葡萄糖", result.Rows[0]["项目名称"])
	assert.Equal(t, "3.9-6.1", result.Rows[0]["参考范围"])
	assert.Equal(t, "葡萄糖 8.2 ↑", result.Text)
}

func TestRecognizeFallsBackToWords(t *testing.T) {
	body := `{"Response":{"StructuralList":[],"TextDetections":[{"DetectedText":"空腹血糖 7.8 mmol/L"},{"DetectedText":" "},{"DetectedText":"诊断：2型糖尿病"}]}}`
	client := newTestClient(t, body, nil)

	result, err := client.Recognize(context.Background(), []byte("img"), nil)
	require.NoError(t, err)
	assert.Equal(t, ShapeWords, result.Shape)
	assert.Empty(t, result.Rows)
	assert.Equal(t, "空腹血糖 7.8 mmol/L\n诊断：2型糖尿病", result.Text)
}

func TestRecognizeFallsBackToTextBlob(t *testing.T) {
	client := newTestClient(t, `{"Response":{"Text":"  血压 150/95 mmHg  "}}`, nil)

	result, err := client.Recognize(context.Background(), []byte("img"), nil)
	require.NoError(t, err)
	assert.Equal(t, ShapeText, result.Shape)
	assert.Equal(t, "血压 150/95 mmHg", result.Text)
}

func TestRecognizeNothingRecognized(t *testing.T) {
	client := newTestClient(t, `{"Response":{"RequestId":"r2","StructuralList":[{"Groups":[]}]}}`, nil)

	_, err := client.Recognize(context.Background(), []byte("img"), nil)
	assert.ErrorIs(t, err, recognition.ErrNoTextRecognized)
}

func TestRecognizeVendorError(t *testing.T) {
	client := newTestClient(t, `{"Response":{"Error":{"Code":"FailedOperation.ImageBlur","Message":"blurred"},"RequestId":"r3"}}`, nil)

	_, err := client.Recognize(context.Background(), []byte("img"), nil)
	var recErr *recognition.Error
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, "FailedOperation.ImageBlur", recErr.Code)
	assert.Equal(t, "图片模糊，请对焦后重新拍照", recErr.Suggestion)
}

func TestRecognizeEmptyImage(t *testing.T) {
	client := newTestClient(t, `{}`, func(*http.Request) {
		t.Error("no request expected")
	})
	_, err := client.Recognize(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestRecognizeUpstreamStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	client := NewClient(Config{Endpoint: server.URL, SecretID: "id", SecretKey: "key"}, nil)
	_, err := client.Recognize(context.Background(), []byte("img"), nil)
	assert.ErrorIs(t, err, recognition.ErrUpstream)
}
