package ocr

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

const (
	signAlgorithm = "TC3-HMAC-SHA256"
	serviceName   = "ocr"
	contentType   = "application/json; charset=utf-8"
)

// signTC3 returns the Authorization header for a Tencent Cloud API v3 POST
// with a JSON payload, signing content-type and host.
func signTC3(secretID, secretKey, host string, payload []byte, ts time.Time) string {
	date := ts.UTC().Format("2006-01-02")

	canonicalHeaders := fmt.Sprintf("content-type:%s\nhost:%s\n", contentType, host)
	signedHeaders := "content-type;host"
	canonicalRequest := fmt.Sprintf("POST\n/\n\n%s\n%s\n%s",
		canonicalHeaders,
		signedHeaders,
		sha256Hex(payload),
	)

	scope := fmt.Sprintf("%s/%s/tc3_request", date, serviceName)
	stringToSign := fmt.Sprintf("%s\n%d\n%s\n%s",
		signAlgorithm,
		ts.Unix(),
		scope,
		sha256Hex([]byte(canonicalRequest)),
	)

	secretDate := hmacSHA256([]byte("TC3"+secretKey), date)
	secretService := hmacSHA256(secretDate, serviceName)
	secretSigning := hmacSHA256(secretService, "tc3_request")
	signature := hex.EncodeToString(hmacSHA256(secretSigning, stringToSign))

	return fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		signAlgorithm, secretID, scope, signedHeaders, signature)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key []byte, msg string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}
