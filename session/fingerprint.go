package session

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
)

// Fingerprint derives a stable device correlation value from request headers.
// It is recorded on sessions and never used to accept or reject a request.
func Fingerprint(userAgent, acceptLanguage, acceptEncoding string) string {
	sum := sha256.Sum256([]byte(userAgent + "|" + acceptLanguage + "|" + acceptEncoding))
	return hex.EncodeToString(sum[:])
}

// FingerprintRequest is Fingerprint over r's headers.
func FingerprintRequest(r *http.Request) string {
	return Fingerprint(r.UserAgent(), r.Header.Get("Accept-Language"), r.Header.Get("Accept-Encoding"))
}
