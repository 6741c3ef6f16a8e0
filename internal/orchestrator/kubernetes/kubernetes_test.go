package kubernetes

import (
	"testing"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"

	"github.com/FiligranHQ/xtm-composer-sub000/internal/orchestrator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSecretNameNormalizesServer(t *testing.T) {
	assert.Equal(t, "opencti-registry-registry-example-com", generateSecretName("registry.example.com"))
}

func TestGenerateSecretNameDefaultsWhenEmpty(t *testing.T) {
	assert.Equal(t, "opencti-registry-default", generateSecretName(""))
}

func TestGenerateSecretNameStripsTrailingHyphen(t *testing.T) {
	name := generateSecretName("registry.example.com:5000/")
	assert.False(t, name == "" || name[len(name)-1] == '-')
}

func TestValidateSecretNameRejectsEmpty(t *testing.T) {
	assert.Error(t, validateSecretName(""))
}

func TestValidateSecretNameRejectsLeadingHyphen(t *testing.T) {
	assert.Error(t, validateSecretName("-bad-name"))
}

func TestValidateSecretNameAcceptsGenerated(t *testing.T) {
	assert.NoError(t, validateSecretName(generateSecretName("registry.example.com")))
}

func TestStateConverterMapsRunningAndWaitingToStarted(t *testing.T) {
	o := &Orchestrator{}
	assert.Equal(t, orchestrator.StatusStarted, o.StateConverter(orchestrator.Container{State: "running"}))
	assert.Equal(t, orchestrator.StatusStarted, o.StateConverter(orchestrator.Container{State: "waiting"}))
	assert.Equal(t, orchestrator.StatusStopped, o.StateConverter(orchestrator.Container{State: "terminated"}))
}

func TestMergeEnvOverlayWinsOnSharedKeys(t *testing.T) {
	base := []corev1.EnvVar{{Name: "FOO", Value: "base"}, {Name: "KEEP", Value: "yes"}}
	overlay := []corev1.EnvVar{{Name: "FOO", Value: "overlay"}, {Name: "NEW", Value: "added"}}

	merged := mergeEnv(base, overlay)
	byName := map[string]string{}
	for _, e := range merged {
		byName[e.Name] = e.Value
	}

	require.Len(t, merged, 3)
	assert.Equal(t, "overlay", byName["FOO"])
	assert.Equal(t, "yes", byName["KEEP"])
	assert.Equal(t, "added", byName["NEW"])
}

func TestMergeDeploymentNilBaseReturnsTarget(t *testing.T) {
	target := &appsv1.Deployment{
		Spec: appsv1.DeploymentSpec{
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{Containers: []corev1.Container{{Name: "connector"}}},
			},
		},
	}
	assert.Same(t, target, mergeDeployment(nil, target))
}
