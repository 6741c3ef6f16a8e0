package kubernetes

import (
	"encoding/json"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
)

// mergeDeployment overlays target onto an operator-provided base
// deployment. The base supplies pod-level defaults (service account,
// tolerations, resource limits, sidecars, volumes); target always wins
// on identity (name, labels, annotations, replica count, and the
// managed container's image/env/pull policy/pull secrets).
func mergeDeployment(base, target *appsv1.Deployment) *appsv1.Deployment {
	if base == nil {
		return target
	}

	merged := base.DeepCopy()
	merged.Name = target.Name
	merged.Labels = target.Labels
	merged.Annotations = target.Annotations

	if merged.Spec.Replicas == nil || target.Spec.Replicas != nil {
		merged.Spec.Replicas = target.Spec.Replicas
	}
	if target.Spec.Selector != nil {
		merged.Spec.Selector = target.Spec.Selector
	}

	merged.Spec.Template.ObjectMeta.Labels = target.Spec.Template.ObjectMeta.Labels

	managed := target.Spec.Template.Spec.Containers[0]
	if len(merged.Spec.Template.Spec.Containers) == 0 {
		merged.Spec.Template.Spec.Containers = []corev1.Container{managed}
	} else {
		base := merged.Spec.Template.Spec.Containers[0]
		base.Name = managed.Name
		base.Image = managed.Image
		base.Env = mergeEnv(base.Env, managed.Env)
		base.ImagePullPolicy = managed.ImagePullPolicy
		merged.Spec.Template.Spec.Containers[0] = base
	}

	if len(target.Spec.Template.Spec.ImagePullSecrets) > 0 {
		merged.Spec.Template.Spec.ImagePullSecrets = target.Spec.Template.Spec.ImagePullSecrets
	}

	return merged
}

// mergeEnv overlays overlay on top of base: entries sharing a Name are
// replaced in place, new entries are appended, base-only entries are
// kept (operator-provided defaults survive).
func mergeEnv(base, overlay []corev1.EnvVar) []corev1.EnvVar {
	if len(base) == 0 {
		return overlay
	}
	index := make(map[string]int, len(base))
	merged := make([]corev1.EnvVar, len(base))
	copy(merged, base)
	for i, e := range merged {
		index[e.Name] = i
	}
	for _, e := range overlay {
		if i, ok := index[e.Name]; ok {
			merged[i] = e
			continue
		}
		merged = append(merged, e)
		index[e.Name] = len(merged) - 1
	}
	return merged
}

// deploymentMergePatch marshals a deployment into the JSON merge patch
// body used by Refresh to update an existing deployment's spec without
// disturbing operator-managed fields this composer never set.
func deploymentMergePatch(dep *appsv1.Deployment) ([]byte, error) {
	patch := struct {
		Metadata struct {
			Annotations map[string]string `json:"annotations,omitempty"`
			Labels      map[string]string `json:"labels,omitempty"`
		} `json:"metadata"`
		Spec appsv1.DeploymentSpec `json:"spec"`
	}{}
	patch.Metadata.Annotations = dep.Annotations
	patch.Metadata.Labels = dep.Labels
	patch.Spec = dep.Spec
	return json.Marshal(patch)
}
