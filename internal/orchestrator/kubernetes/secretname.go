package kubernetes

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/FiligranHQ/xtm-composer-sub000/internal/log"
	"github.com/FiligranHQ/xtm-composer-sub000/internal/registry"
)

const secretNameMaxLength = 253

var secretNameInvalid = regexp.MustCompile(`[^a-z0-9.-]`)

// generateSecretName derives an RFC 1123 subdomain-compliant Secret name
// for a registry server: "opencti-registry-" followed by the server
// with ":", "." and "/" replaced by "-", trimmed of any resulting
// leading/trailing hyphen.
func generateSecretName(server string) string {
	if server == "" {
		server = "default"
	}
	server = strings.TrimRight(server, "/")
	replaced := strings.NewReplacer(":", "-", ".", "-", "/", "-").Replace(server)
	name := "opencti-registry-" + strings.ToLower(replaced)

	name = strings.TrimRight(name, "-")
	if strings.HasPrefix(name, "-") || strings.HasPrefix(name, ".") {
		name = "r" + name
	}
	if len(name) > secretNameMaxLength {
		name = name[:secretNameMaxLength]
		name = strings.TrimRight(name, "-")
	}
	return name
}

// validateSecretName checks an RFC 1123 subdomain: alphanumeric first
// and last character, only alphanumerics/"-"/"." throughout, at most
// 253 characters.
func validateSecretName(name string) error {
	if name == "" {
		return fmt.Errorf("secret name cannot be empty")
	}
	if len(name) > secretNameMaxLength {
		return fmt.Errorf("secret name too long: %d characters (max %d)", len(name), secretNameMaxLength)
	}
	if !isAlphanumeric(rune(name[0])) {
		return fmt.Errorf("secret name must start with an alphanumeric character")
	}
	if !isAlphanumeric(rune(name[len(name)-1])) {
		return fmt.Errorf("secret name must end with an alphanumeric character")
	}
	if secretNameInvalid.MatchString(name) {
		return fmt.Errorf("secret name %q contains characters outside [a-z0-9-.]", name)
	}
	return nil
}

func isAlphanumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

type dockerConfigEntry struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
	Auth     string `json:"auth"`
}

type dockerConfigJSON struct {
	Auths map[string]dockerConfigEntry `json:"auths"`
}

// ensureImagePullSecret creates or updates the dockerconfigjson Secret
// backing creds, returning its name for use in a Pod's
// imagePullSecrets.
func (o *Orchestrator) ensureImagePullSecret(ctx context.Context, creds registry.Credentials) (string, error) {
	secretName := generateSecretName(creds.ServerAddress)
	if err := validateSecretName(secretName); err != nil {
		return "", fmt.Errorf("invalid secret name %q: %w", secretName, err)
	}

	server := creds.ServerAddress
	if server == "" {
		server = "https://index.docker.io/v1/"
	}

	auth := base64.StdEncoding.EncodeToString([]byte(creds.Username + ":" + creds.Password))
	config := dockerConfigJSON{
		Auths: map[string]dockerConfigEntry{
			server: {
				Username: creds.Username,
				Password: creds.Password,
				Email:    creds.Email,
				Auth:     auth,
			},
		},
	}
	raw, err := json.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("marshal dockerconfigjson: %w", err)
	}

	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: secretName},
		Type:       corev1.SecretTypeDockerConfigJson,
		Data:       map[string][]byte{corev1.DockerConfigJsonKey: raw},
	}

	secrets := o.clientset.CoreV1().Secrets(o.namespace)
	_, err = secrets.Create(ctx, secret, metav1.CreateOptions{})
	if err == nil {
		log.Logger.Info().Str("secret", secretName).Msg("created image pull secret")
		return secretName, nil
	}
	if !apierrors.IsAlreadyExists(err) {
		return "", fmt.Errorf("create image pull secret: %w", err)
	}

	if _, err := secrets.Update(ctx, secret, metav1.UpdateOptions{}); err != nil {
		return "", fmt.Errorf("update image pull secret: %w", err)
	}
	log.Logger.Debug().Str("secret", secretName).Msg("updated existing image pull secret")
	return secretName, nil
}
