package auth

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"strings"
)

// reportSeparator joins signed report fields.
const reportSeparator = "|"

// DecodeSecret decodes a base64url shared secret, padded or not.
// Standard-alphabet secrets are accepted as well.
func DecodeSecret(secret string) ([]byte, error) {
	s := strings.TrimRight(secret, "=")
	if key, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return key, nil
	}
	key, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidSecret
	}
	return key, nil
}

// ComputeHMAC computes the HMAC-SHA512 of message keyed by secret.
func ComputeHMAC(secret []byte, message string) []byte {
	h := hmac.New(sha512.New, secret)
	h.Write([]byte(message))
	return h.Sum(nil)
}

// VerifyHMAC verifies HMAC signature using constant-time comparison.
func VerifyHMAC(expectedHash, computedHash []byte) bool {
	return hmac.Equal(expectedHash, computedHash)
}

// EncodeSignature encodes a MAC as base64url without padding.
func EncodeSignature(mac []byte) string {
	return base64.RawURLEncoding.EncodeToString(mac)
}

// SignReport signs the fields joined by "|" and returns the encoded signature.
func SignReport(secret []byte, fields ...string) string {
	return EncodeSignature(ComputeHMAC(secret, strings.Join(fields, reportSeparator)))
}

// VerifyReport checks an encoded signature against the fields.
func VerifyReport(secret []byte, signature string, fields ...string) bool {
	got, err := base64.RawURLEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	return VerifyHMAC(ComputeHMAC(secret, strings.Join(fields, reportSeparator)), got)
}
