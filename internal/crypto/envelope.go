// Package crypto implements the composer's encrypted-configuration-value
// wire contract: an RSA-wrapped AES-256-GCM envelope used by the platform
// to ship per-connector secrets (registry passwords, API tokens) through
// configuration that is otherwise transmitted in the clear.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"unicode/utf8"

	"github.com/FiligranHQ/xtm-composer-sub000/internal/log"
)

const (
	envelopeVersion   = 1
	rsaBlobLen        = 512
	aesKeyLen         = 32
	aesIVLen          = 12
	headerLen         = 1 + rsaBlobLen
	decryptedBlobSize = aesKeyLen + aesIVLen
)

// DecryptValue unwraps a base64-encoded envelope using priv. An
// unsupported version or a GCM authentication failure are not errors:
// they return an empty string with a warning, since the platform may be
// mid-rotation of the encryption key. Malformed base64, an RSA failure,
// and non-UTF-8 plaintext are returned as errors.
func DecryptValue(priv *rsa.PrivateKey, ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode envelope base64: %w", err)
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("envelope is empty")
	}

	version := raw[0]
	if version != envelopeVersion {
		log.Logger.Warn().Int("version", int(version)).Msg("unsupported envelope version, returning empty value")
		return "", nil
	}

	if len(raw) < headerLen {
		return "", fmt.Errorf("envelope too short: %d bytes", len(raw))
	}

	blob := raw[1:headerLen]
	gcmCiphertext := raw[headerLen:]

	decryptedBlob, err := rsa.DecryptPKCS1v15(rand.Reader, priv, blob)
	if err != nil {
		return "", fmt.Errorf("rsa decrypt envelope key material: %w", err)
	}
	if len(decryptedBlob) != decryptedBlobSize {
		return "", fmt.Errorf("unexpected key material length: %d", len(decryptedBlob))
	}

	aesKey := decryptedBlob[:aesKeyLen]
	iv := decryptedBlob[aesKeyLen:]

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return "", fmt.Errorf("init aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("init gcm: %w", err)
	}

	plaintext, err := gcm.Open(nil, iv, gcmCiphertext, nil)
	if err != nil {
		log.Logger.Warn().Err(err).Msg("envelope gcm authentication failed, returning empty value")
		return "", nil
	}

	if !utf8.Valid(plaintext) {
		return "", fmt.Errorf("decrypted envelope value is not valid utf-8")
	}

	return string(plaintext), nil
}
