// Package kubernetes implements the orchestrator.Orchestrator contract
// against a Kubernetes cluster: one Deployment (scaled 1/0) plus its
// Pods per managed connector.
package kubernetes

import (
	"context"
	"fmt"
	"strings"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/FiligranHQ/xtm-composer-sub000/internal/log"
	"github.com/FiligranHQ/xtm-composer-sub000/internal/orchestrator"
	"github.com/FiligranHQ/xtm-composer-sub000/internal/registry"
)

// ValidPullPolicies are the only accepted values of Options.ImagePullPolicy.
var ValidPullPolicies = map[string]bool{
	"Always":       true,
	"IfNotPresent": true,
	"Never":        true,
}

const defaultPullPolicy = "IfNotPresent"

// Options mirrors the opencti.daemon.kubernetes configuration block.
type Options struct {
	Namespace       string
	KubeconfigPath  string
	ImagePullPolicy string
	BaseDeployment  *appsv1.Deployment
}

// Orchestrator drives Deployments and Pods in a single namespace of a
// Kubernetes cluster.
type Orchestrator struct {
	clientset *kubernetes.Clientset
	namespace string
	managerID string
	options   Options
	resolver  *registry.Resolver
	authCache *registry.AuthCache
}

// New builds a Kubernetes client: in-cluster configuration when
// KubeconfigPath is empty, otherwise a kubeconfig file.
func New(managerID string, options Options, resolver *registry.Resolver, authCache *registry.AuthCache) (*Orchestrator, error) {
	var cfg *rest.Config
	var err error
	if options.KubeconfigPath == "" {
		cfg, err = rest.InClusterConfig()
	} else {
		cfg, err = clientcmd.BuildConfigFromFlags("", options.KubeconfigPath)
	}
	if err != nil {
		return nil, fmt.Errorf("build kubernetes client config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("build kubernetes clientset: %w", err)
	}

	namespace := options.Namespace
	if namespace == "" {
		namespace = corev1.NamespaceDefault
	}

	return &Orchestrator{
		clientset: clientset,
		namespace: namespace,
		managerID: managerID,
		options:   options,
		resolver:  resolver,
		authCache: authCache,
	}, nil
}

func (o *Orchestrator) deploymentName(connector orchestrator.Connector) string {
	return orchestrator.CanonicalName(connector.Name)
}

func (o *Orchestrator) imagePullPolicy() corev1.PullPolicy {
	policy := o.options.ImagePullPolicy
	if policy == "" {
		return corev1.PullPolicy(defaultPullPolicy)
	}
	if !ValidPullPolicies[policy] {
		log.Logger.Warn().Str("image_pull_policy", policy).Msg("invalid image pull policy configured, falling back to default")
		return corev1.PullPolicy(defaultPullPolicy)
	}
	return corev1.PullPolicy(policy)
}

func fromDeployment(dep *appsv1.Deployment) orchestrator.Container {
	var replicas int32
	if dep.Spec.Replicas != nil {
		replicas = *dep.Spec.Replicas
	}
	state := "running"
	if replicas == 0 {
		state = "terminated"
	}
	return orchestrator.Container{
		ID:     string(dep.UID),
		Name:   dep.Name,
		State:  state,
		Labels: dep.Labels,
		Envs:   dep.Annotations,
	}
}

// deploymentPod returns the first pod matching the connector id label, if
// any.
func (o *Orchestrator) deploymentPod(ctx context.Context, connectorID string) (*corev1.Pod, bool) {
	selector := fmt.Sprintf("%s=%s", orchestrator.LabelConnector, connectorID)
	pods, err := o.clientset.CoreV1().Pods(o.namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		log.Logger.Error().Err(err).Str("connector_id", connectorID).Msg("failed to list connector pods")
		return nil, false
	}
	if len(pods.Items) == 0 {
		return nil, false
	}
	return &pods.Items[0], true
}

func enrichFromPod(c *orchestrator.Container, pod *corev1.Pod) {
	if len(pod.Status.ContainerStatuses) == 0 {
		return
	}
	status := pod.Status.ContainerStatuses[0]
	c.RestartCount = int(status.RestartCount)
	if status.State.Running != nil && !status.State.Running.StartedAt.IsZero() {
		t := status.State.Running.StartedAt.Time
		c.StartedAt = &t
	}
}

func (o *Orchestrator) Get(ctx context.Context, connector orchestrator.Connector) (*orchestrator.Container, bool, error) {
	dep, err := o.clientset.AppsV1().Deployments(o.namespace).Get(ctx, o.deploymentName(connector), metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get deployment: %w", err)
	}

	c := fromDeployment(dep)
	if pod, ok := o.deploymentPod(ctx, connector.ID); ok {
		enrichFromPod(&c, pod)
	}
	return &c, true, nil
}

func (o *Orchestrator) List(ctx context.Context) ([]orchestrator.Container, error) {
	selector := fmt.Sprintf("%s=%s", orchestrator.LabelManager, o.managerID)
	deployments, err := o.clientset.AppsV1().Deployments(o.namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		log.Logger.Error().Err(err).Str("manager_id", o.managerID).Msg("failed to list managed deployments")
		return nil, nil
	}

	out := make([]orchestrator.Container, 0, len(deployments.Items))
	for i := range deployments.Items {
		out = append(out, fromDeployment(&deployments.Items[i]))
	}
	return out, nil
}

func (o *Orchestrator) scaleTo(ctx context.Context, connector orchestrator.Connector, replicas int32) {
	patch := []byte(fmt.Sprintf(`{"spec":{"replicas":%d}}`, replicas))
	name := o.deploymentName(connector)
	_, err := o.clientset.AppsV1().Deployments(o.namespace).Patch(ctx, name, types.MergePatchType, patch, metav1.PatchOptions{})
	if err != nil {
		log.Logger.Error().Err(err).Str("name", name).Int32("replicas", replicas).Msg("failed to scale deployment")
	}
}

func (o *Orchestrator) Start(ctx context.Context, c orchestrator.Container, connector orchestrator.Connector) {
	o.scaleTo(ctx, connector, 1)
}

func (o *Orchestrator) Stop(ctx context.Context, c orchestrator.Container, connector orchestrator.Connector) {
	o.scaleTo(ctx, connector, 0)
}

func (o *Orchestrator) Remove(ctx context.Context, c orchestrator.Container) error {
	connectorID, _ := c.ExtractConnectorID()
	selector := fmt.Sprintf("%s=%s", orchestrator.LabelConnector, connectorID)
	err := o.clientset.AppsV1().Deployments(o.namespace).DeleteCollection(ctx, metav1.DeleteOptions{}, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return fmt.Errorf("delete deployment for connector %s: %w", connectorID, err)
	}
	log.Logger.Debug().Str("connector_id", connectorID).Msg("deployment removed")
	return nil
}

func (o *Orchestrator) Refresh(ctx context.Context, connector orchestrator.Connector) (*orchestrator.Container, bool) {
	dep := o.buildDeployment(connector, connector.Image, nil)
	payload, err := deploymentMergePatch(dep)
	if err != nil {
		log.Logger.Error().Err(err).Msg("failed to marshal deployment patch")
		return nil, false
	}

	name := o.deploymentName(connector)
	updated, err := o.clientset.AppsV1().Deployments(o.namespace).Patch(ctx, name, types.MergePatchType, payload, metav1.PatchOptions{})
	if err != nil {
		log.Logger.Error().Err(err).Str("name", name).Msg("failed to patch deployment")
		return nil, false
	}

	c := fromDeployment(updated)
	return &c, true
}

func (o *Orchestrator) Deploy(ctx context.Context, connector orchestrator.Connector) (*orchestrator.Container, bool) {
	resolved, err := o.resolver.ResolveImage(connector.Image)
	if err != nil {
		log.Logger.Error().Err(err).Str("image", connector.Image).Msg("failed to resolve image name")
		return nil, false
	}

	var pullSecrets []corev1.LocalObjectReference
	if resolved.NeedsAuth {
		creds, err := o.authCache.GetCredentials(ctx, o.resolver, resolved.RegistryServer, o.authenticate)
		if err != nil {
			log.Logger.Error().Err(err).Str("orchestrator", "kubernetes").Msg("failed to get registry credentials")
			return nil, false
		}
		secretName, err := o.ensureImagePullSecret(ctx, creds)
		if err != nil {
			log.Logger.Error().Err(err).Str("registry", resolved.RegistryServer).Msg("failed to create imagePullSecret")
			return nil, false
		}
		pullSecrets = append(pullSecrets, corev1.LocalObjectReference{Name: secretName})
	}

	if resolved.RegistryServer != "" {
		log.Logger.Info().Str("orchestrator", "kubernetes").Str("image", resolved.FullName).Msg("deploying kubernetes workload from private registry")
	} else {
		log.Logger.Info().Str("orchestrator", "kubernetes").Str("image", resolved.FullName).Msg("deploying kubernetes workload")
	}

	dep := o.buildDeployment(connector, resolved.FullName, pullSecrets)
	created, err := o.clientset.AppsV1().Deployments(o.namespace).Create(ctx, dep, metav1.CreateOptions{})
	if err != nil {
		log.Logger.Error().Err(err).Str("name", dep.Name).Str("image", resolved.FullName).Msg("failed to create deployment")
		return nil, false
	}

	c := fromDeployment(created)
	return &c, true
}

// buildDeployment merges the connector-specific target deployment on top
// of the operator-provided base deployment (if any), mirroring the
// reference strategic-merge behaviour: the base supplies pod-level
// defaults (tolerations, service account, resource limits, sidecars)
// while the target always wins on name, labels, image and replica count.
func (o *Orchestrator) buildDeployment(connector orchestrator.Connector, image string, pullSecrets []corev1.LocalObjectReference) *appsv1.Deployment {
	labels := orchestrator.ManagedLabels(o.managerID, connector)
	replicas := int32(0)
	if connector.RequestedStatus == orchestrator.RequestedStarting {
		replicas = 1
	}

	envVars := make([]corev1.EnvVar, 0, len(connector.Configuration))
	for _, item := range connector.Configuration {
		envVars = append(envVars, corev1.EnvVar{Name: item.Key, Value: item.Value})
	}

	name := o.deploymentName(connector)
	target := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:        name,
			Labels:      labels,
			Annotations: map[string]string{orchestrator.AnnotationHash: connector.ContractHash},
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:            name,
						Image:           image,
						Env:             envVars,
						ImagePullPolicy: o.imagePullPolicy(),
					}},
					ImagePullSecrets: pullSecrets,
				},
			},
		},
	}

	return mergeDeployment(o.options.BaseDeployment, target)
}

func (o *Orchestrator) Logs(ctx context.Context, c orchestrator.Container, connector orchestrator.Connector) ([]string, bool) {
	pod, ok := o.deploymentPod(ctx, connector.ID)
	if !ok {
		return nil, false
	}

	req := o.clientset.CoreV1().Pods(o.namespace).GetLogs(pod.Name, &corev1.PodLogOptions{TailLines: int64Ptr(100)})
	stream, err := req.Stream(ctx)
	if err != nil {
		log.Logger.Error().Err(err).Str("pod", pod.Name).Msg("failed to fetch pod logs")
		return nil, false
	}
	defer stream.Close()

	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, readErr := stream.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if readErr != nil {
			break
		}
	}
	lines := strings.Split(strings.TrimRight(string(buf), "\n"), "\n")
	return lines, true
}

func (o *Orchestrator) StateConverter(c orchestrator.Container) orchestrator.Status {
	switch c.State {
	case "running", "waiting":
		return orchestrator.StatusStarted
	default:
		return orchestrator.StatusStopped
	}
}

func (o *Orchestrator) authenticate(ctx context.Context, server string) (registry.Credentials, error) {
	return o.resolver.BuildCredentials(), nil
}

func int64Ptr(v int64) *int64 {
	return &v
}
