package kubernetes

import (
	"encoding/json"
	"fmt"
	"strings"

	appsv1 "k8s.io/api/apps/v1"
	"gopkg.in/yaml.v3"
)

// DecodeBaseDeployment parses an operator-authored base deployment
// manifest, accepted as either YAML or JSON text (JSON is a YAML
// subset, so one parser handles both), into *appsv1.Deployment.
// yaml.v3 decodes into map[string]interface{} rather than v2's
// map[interface{}]interface{}, so the intermediate value re-marshals
// to JSON directly — the same "YAML in, JSON semantics out" path
// sigs.k8s.io/yaml uses for Kubernetes API types.
func DecodeBaseDeployment(manifest string) (*appsv1.Deployment, error) {
	if strings.TrimSpace(manifest) == "" {
		return nil, nil
	}

	var generic map[string]interface{}
	if err := yaml.Unmarshal([]byte(manifest), &generic); err != nil {
		return nil, fmt.Errorf("parse base deployment manifest: %w", err)
	}

	buf, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("re-encode base deployment manifest: %w", err)
	}

	var dep appsv1.Deployment
	if err := json.Unmarshal(buf, &dep); err != nil {
		return nil, fmt.Errorf("decode base deployment manifest: %w", err)
	}
	return &dep, nil
}
