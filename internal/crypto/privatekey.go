package crypto

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"crypto/rsa"

	"github.com/FiligranHQ/xtm-composer-sub000/internal/log"
)

// LoadPrivateKey loads the manager's RSA private key.
// filePath takes priority over inline when both are set. Any failure is
// fatal at startup: a missing or malformed key leaves the decryptor
// unable to do its job for the entire process lifetime.
func LoadPrivateKey(filePath, inline string) *rsa.PrivateKey {
	if filePath != "" && inline != "" {
		log.Logger.Warn().Msg("both credentials_key_filepath and credentials_key are set; the file takes priority")
	}

	var pemText string
	switch {
	case filePath != "":
		data, err := os.ReadFile(filePath)
		if err != nil {
			log.Fatal(fmt.Sprintf("failed to read private key file %s: %v", filePath, err))
		}
		pemText = string(data)
	case inline != "":
		pemText = inline
	default:
		log.Fatal("no private key configured: set manager.credentials_key_filepath or manager.credentials_key")
	}

	pemText = strings.TrimSpace(pemText)
	if !strings.Contains(pemText, "BEGIN PRIVATE KEY") || !strings.Contains(pemText, "END PRIVATE KEY") {
		log.Fatal("private key is not PKCS#8 PEM: missing BEGIN/END PRIVATE KEY markers")
	}

	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		log.Fatal("failed to decode private key PEM block")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		log.Fatal(fmt.Sprintf("failed to parse PKCS#8 private key: %v", err))
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		log.Fatal("private key is not an RSA key")
	}

	return rsaKey
}
