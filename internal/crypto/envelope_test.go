package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sealEnvelope(t *testing.T, pub *rsa.PublicKey, plaintext string) string {
	t.Helper()

	aesKey := make([]byte, aesKeyLen)
	_, err := rand.Read(aesKey)
	require.NoError(t, err)
	iv := make([]byte, aesIVLen)
	_, err = rand.Read(iv)
	require.NoError(t, err)

	block, err := aes.NewCipher(aesKey)
	require.NoError(t, err)
	gcm, err := cipher.NewGCM(block)
	require.NoError(t, err)
	ciphertext := gcm.Seal(nil, iv, []byte(plaintext), nil)

	keyMaterial := append(append([]byte{}, aesKey...), iv...)
	blob, err := rsa.EncryptPKCS1v15(rand.Reader, pub, keyMaterial)
	require.NoError(t, err)

	envelope := append([]byte{envelopeVersion}, blob...)
	envelope = append(envelope, ciphertext...)
	return base64.StdEncoding.EncodeToString(envelope)
}

func TestDecryptValueRoundTrip(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	envelope := sealEnvelope(t, &priv.PublicKey, "s3cr3t-password")

	plaintext, err := DecryptValue(priv, envelope)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t-password", plaintext)
}

func TestDecryptValueRejectsUnsupportedVersion(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	envelope := sealEnvelope(t, &priv.PublicKey, "whatever")
	raw, err := base64.StdEncoding.DecodeString(envelope)
	require.NoError(t, err)
	raw[0] = 2
	tampered := base64.StdEncoding.EncodeToString(raw)

	plaintext, err := DecryptValue(priv, tampered)
	require.NoError(t, err)
	assert.Empty(t, plaintext)
}

func TestDecryptValueRejectsMalformedBase64(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	_, err = DecryptValue(priv, "not-valid-base64!!!")
	assert.Error(t, err)
}

func TestDecryptValueSoftFailsOnGCMTamper(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	envelope := sealEnvelope(t, &priv.PublicKey, "hello")
	raw, err := base64.StdEncoding.DecodeString(envelope)
	require.NoError(t, err)
	// Flip a byte in the GCM ciphertext region so authentication fails.
	raw[len(raw)-1] ^= 0xFF
	tampered := base64.StdEncoding.EncodeToString(raw)

	plaintext, err := DecryptValue(priv, tampered)
	require.NoError(t, err)
	assert.Empty(t, plaintext)
}
