package provision

import (
	"bytes"
	"crypto/aes"
	"encoding/base64"
	"errors"
	"fmt"
)

// Secret holds device credential bytes. It formats as a placeholder so it
// cannot leak through logs or %v.
type Secret []byte

func (s Secret) String() string { return "[redacted]" }

// GoString keeps %#v redacted too.
func (s Secret) GoString() string { return "provision.Secret([redacted])" }

// Zero overwrites the secret in place.
func (s Secret) Zero() {
	for i := range s {
		s[i] = 0
	}
}

// decryptPayload reverses the service's AES-ECB/PKCS#7 encryption of a
// base64 payload keyed by the product secret.
func decryptPayload(key string, payload string) (Secret, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload is not base64: %v", ErrMalformedResponse, err)
	}
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, fmt.Errorf("%w: product secret is not a valid aes key: %v", ErrInvalidIdentity, err)
	}
	size := block.BlockSize()
	if len(raw) == 0 || len(raw)%size != 0 {
		return nil, fmt.Errorf("%w: payload length %d is not a multiple of %d", ErrMalformedResponse, len(raw), size)
	}
	out := make([]byte, len(raw))
	for i := 0; i < len(raw); i += size {
		block.Decrypt(out[i:i+size], raw[i:i+size])
	}
	plain, err := pkcs7Unpad(out, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return Secret(plain), nil
}

// EncryptPayload is the inverse of the register payload decode. The
// service side does this; local provisioning stubs use it too.
func EncryptPayload(key string, plain []byte) (string, error) {
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return "", err
	}
	size := block.BlockSize()
	padded := pkcs7Pad(plain, size)
	out := make([]byte, len(padded))
	for i := 0; i < len(padded); i += size {
		block.Encrypt(out[i:i+size], padded[i:i+size])
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

func pkcs7Pad(data []byte, size int) []byte {
	n := size - len(data)%size
	return append(append([]byte{}, data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, size int) ([]byte, error) {
	n := int(data[len(data)-1])
	if n == 0 || n > size || n > len(data) {
		return nil, errors.New("invalid pkcs7 padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("invalid pkcs7 padding")
		}
	}
	return data[:len(data)-n], nil
}
