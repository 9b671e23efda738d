package provision

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"
)

// Auth types carried in the signed string.
const (
	AuthTypeSession  = 0
	AuthTypeRegister = 1
)

// Nonce is the per-request freshness material. A new Nonce must be drawn
// for every request; signatures are never reused.
type Nonce struct {
	Random    int32
	Timestamp uint64
}

// Sign returns the base64 HMAC-SHA256 over
// auth_type, device_name, random_num, product_key, timestamp in that order.
func Sign(secret, productKey, deviceName string, authType int, nonce Nonce) string {
	return signCanonical(secret, canonical(productKey, deviceName, authType, nonce))
}

// SignWithInstance is Sign with instance_id appended last. The websocket
// handshake uses this shape.
func SignWithInstance(secret, productKey, deviceName, instanceID string, authType int, nonce Nonce) string {
	return signCanonical(secret, canonical(productKey, deviceName, authType, nonce)+"&instance_id="+instanceID)
}

func canonical(productKey, deviceName string, authType int, nonce Nonce) string {
	var b strings.Builder
	b.WriteString("auth_type=")
	b.WriteString(strconv.Itoa(authType))
	b.WriteString("&device_name=")
	b.WriteString(deviceName)
	b.WriteString("&random_num=")
	b.WriteString(strconv.FormatInt(int64(nonce.Random), 10))
	b.WriteString("&product_key=")
	b.WriteString(productKey)
	b.WriteString("&timestamp=")
	b.WriteString(strconv.FormatUint(nonce.Timestamp, 10))
	return b.String()
}

func signCanonical(secret, input string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(input))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
