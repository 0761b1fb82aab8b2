package daraja

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"
)

// darajaTimestamp formats t the way the STK push API expects.
func darajaTimestamp(t time.Time) string {
	return t.Format("20060102150405")
}

// stkPassword builds the STK push password: base64(shortcode+passkey+timestamp).
func stkPassword(shortCode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
}

// Hmac256 is a function to generate HMAC256 hash.
func Hmac256(body, key []byte) string {
	hash := hmac.New(sha256.New, key)
	hash.Write(body)
	return hex.EncodeToString(hash.Sum(nil))
}

// VerifySignature checks an inbound callback body against its signature
// header in constant time.
func VerifySignature(key, body []byte, receivedHMAC string) bool {
	expectedHMAC := Hmac256(body, key)
	return hmac.Equal([]byte(receivedHMAC), []byte(expectedHMAC))
}
