package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const (
	managedByLabel   = "app.kubernetes.io/managed-by"
	scriptContainer  = "script"
	podPollInterval  = 500 * time.Millisecond
	jobNamePrefix    = "execplane-"
	maxK8sNameLength = 63
)

// KubernetesConfig holds configuration for the Kubernetes runtime.
type KubernetesConfig struct {
	// Namespace where script jobs are created.
	Namespace string
	// ServiceAccount for script pods (optional).
	ServiceAccount string
	CPULimit       string
	MemoryLimit    string
	// Images maps script types to images. Nil uses DefaultImages.
	Images map[string]string
	Logger *slog.Logger
}

// KubernetesRuntime runs each script as a Kubernetes Job with a single pod.
// Pod logs do not separate the streams, so all output goes to Stdout.
type KubernetesRuntime struct {
	clientset kubernetes.Interface
	config    KubernetesConfig
}

// KubernetesHandle represents a script Job.
type KubernetesHandle struct {
	clientset kubernetes.Interface
	namespace string
	jobName   string
	podName   string
	stdout    io.Writer
	logger    *slog.Logger
}

func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	return os.Getenv("USERPROFILE")
}

// NewKubernetesRuntime tries in-cluster configuration first and falls back
// to ~/.kube/config for local development.
func NewKubernetesRuntime(cfg KubernetesConfig) (*KubernetesRuntime, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	restCfg, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := filepath.Join(homeDir(), ".kube", "config")
		cfg.Logger.Info("in-cluster config not available, trying kubeconfig", "path", kubeconfig, "error", err)
		restCfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build kubernetes config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}
	return newKubernetesRuntime(clientset, cfg), nil
}

func newKubernetesRuntime(clientset kubernetes.Interface, cfg KubernetesConfig) *KubernetesRuntime {
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	if cfg.CPULimit == "" {
		cfg.CPULimit = "500m"
	}
	if cfg.MemoryLimit == "" {
		cfg.MemoryLimit = "256Mi"
	}
	if cfg.Images == nil {
		cfg.Images = DefaultImages
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &KubernetesRuntime{clientset: clientset, config: cfg}
}

// jobName derives a DNS-1123 label from the execution id.
func jobName(executionID string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(executionID) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	id := b.String()
	if id == "" {
		id = fmt.Sprintf("%d", time.Now().UnixNano())
	}
	name := jobNamePrefix + id
	if len(name) > maxK8sNameLength {
		name = name[:maxK8sNameLength]
	}
	return strings.TrimRight(name, "-")
}

// Start creates the Job. Output streaming begins in Wait once the pod exists.
func (k *KubernetesRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	if _, err := validate(opts); err != nil {
		return nil, err
	}
	img, ok := k.config.Images[opts.ScriptType]
	if !ok {
		return nil, fmt.Errorf("%w: no image for %q", ErrUnsupportedType, opts.ScriptType)
	}
	cmd, err := dockerCommand(opts.ScriptType, opts.Content)
	if err != nil {
		return nil, err
	}

	limits, err := k.limits()
	if err != nil {
		return nil, err
	}

	var envVars []corev1.EnvVar
	for _, kv := range mapToEnvList(opts.Env) {
		name, value, _ := strings.Cut(kv, "=")
		envVars = append(envVars, corev1.EnvVar{Name: name, Value: value})
	}

	name := jobName(opts.ExecutionID)
	labels := map[string]string{
		managedByLabel: "execplane",
		executionLabel: opts.ExecutionID,
	}
	podLabels := map[string]string{
		managedByLabel: "execplane",
		"job-name":     name,
	}

	// The controller owns retries and timeouts.
	backoffLimit := int32(0)
	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: k.config.Namespace,
			Labels:    labels,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: &backoffLimit,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: podLabels},
				Spec: corev1.PodSpec{
					RestartPolicy:      corev1.RestartPolicyNever,
					ServiceAccountName: k.config.ServiceAccount,
					Containers: []corev1.Container{{
						Name:      scriptContainer,
						Image:     img,
						Command:   cmd,
						Env:       envVars,
						Resources: corev1.ResourceRequirements{Limits: limits},
					}},
				},
			},
		},
	}

	created, err := k.clientset.BatchV1().Jobs(k.config.Namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes job: %w", err)
	}
	k.config.Logger.Debug("created script job", "job", created.Name, "namespace", k.config.Namespace)

	return &KubernetesHandle{
		clientset: k.clientset,
		namespace: k.config.Namespace,
		jobName:   created.Name,
		stdout:    orDiscard(opts.Stdout),
		logger:    k.config.Logger,
	}, nil
}

func (k *KubernetesRuntime) limits() (corev1.ResourceList, error) {
	cpu, err := resource.ParseQuantity(k.config.CPULimit)
	if err != nil {
		return nil, fmt.Errorf("invalid cpu limit %q: %w", k.config.CPULimit, err)
	}
	mem, err := resource.ParseQuantity(k.config.MemoryLimit)
	if err != nil {
		return nil, fmt.Errorf("invalid memory limit %q: %w", k.config.MemoryLimit, err)
	}
	return corev1.ResourceList{corev1.ResourceCPU: cpu, corev1.ResourceMemory: mem}, nil
}

// Wait streams the pod log into Stdout and blocks until the pod finishes.
func (h *KubernetesHandle) Wait(ctx context.Context) (ExitResult, error) {
	podName, err := h.waitForPod(ctx)
	if err != nil {
		return ExitResult{ExitCode: -1, Error: err}, err
	}
	h.podName = podName

	if err := h.waitForContainerReady(ctx); err != nil {
		return ExitResult{ExitCode: -1, Error: err}, err
	}

	copied := make(chan error, 1)
	go func() {
		copied <- h.copyLogs(ctx)
	}()

	result, err := h.waitForCompletion(ctx)
	if err != nil {
		return result, err
	}

	select {
	case err := <-copied:
		if err != nil {
			h.logger.Warn("pod log stream ended with error", "pod", h.podName, "error", err)
		}
	case <-ctx.Done():
		return ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
	}

	if err := h.Stop(context.WithoutCancel(ctx)); err != nil {
		h.logger.Warn("failed to clean up script job", "job", h.jobName, "error", err)
	}
	return result, nil
}

func (h *KubernetesHandle) copyLogs(ctx context.Context) error {
	stream, err := h.clientset.CoreV1().Pods(h.namespace).GetLogs(h.podName, &corev1.PodLogOptions{
		Container: scriptContainer,
		Follow:    true,
	}).Stream(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()
	_, err = io.Copy(h.stdout, stream)
	return err
}

func (h *KubernetesHandle) waitForCompletion(ctx context.Context) (ExitResult, error) {
	pods := h.clientset.CoreV1().Pods(h.namespace)

	pod, err := pods.Get(ctx, h.podName, metav1.GetOptions{})
	if err != nil {
		return ExitResult{ExitCode: -1, Error: err}, err
	}
	if result, done := podResult(pod); done {
		return result, nil
	}

	watcher, err := pods.Watch(ctx, metav1.ListOptions{
		FieldSelector: "metadata.name=" + h.podName,
	})
	if err != nil {
		return ExitResult{ExitCode: -1, Error: err}, err
	}
	defer watcher.Stop()

	for event := range watcher.ResultChan() {
		if event.Type == watch.Error {
			err := fmt.Errorf("watch error on pod %s", h.podName)
			return ExitResult{ExitCode: -1, Error: err}, err
		}
		pod, ok := event.Object.(*corev1.Pod)
		if !ok {
			continue
		}
		if result, done := podResult(pod); done {
			return result, nil
		}
	}

	if ctx.Err() != nil {
		return ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
	}
	err = fmt.Errorf("watch on pod %s closed", h.podName)
	return ExitResult{ExitCode: -1, Error: err}, err
}

// podResult reports the exit of a finished pod.
func podResult(pod *corev1.Pod) (ExitResult, bool) {
	switch pod.Status.Phase {
	case corev1.PodSucceeded:
		return ExitResult{ExitCode: 0}, true
	case corev1.PodFailed:
		result := ExitResult{ExitCode: -1}
		for _, cs := range pod.Status.ContainerStatuses {
			if cs.Name != scriptContainer || cs.State.Terminated == nil {
				continue
			}
			result.ExitCode = int(cs.State.Terminated.ExitCode)
			if reason := cs.State.Terminated.Reason; reason != "" && reason != "Error" {
				result.Error = fmt.Errorf("%s", reason)
			}
		}
		if result.ExitCode == -1 && pod.Status.Reason != "" {
			result.Error = fmt.Errorf("%s", pod.Status.Reason)
		}
		return result, true
	}
	return ExitResult{}, false
}

func (h *KubernetesHandle) waitForPod(ctx context.Context) (string, error) {
	ticker := time.NewTicker(podPollInterval)
	defer ticker.Stop()

	for {
		pods, err := h.clientset.CoreV1().Pods(h.namespace).List(ctx, metav1.ListOptions{
			LabelSelector: "job-name=" + h.jobName,
		})
		if err != nil {
			return "", err
		}
		if len(pods.Items) > 0 {
			return pods.Items[0].Name, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (h *KubernetesHandle) waitForContainerReady(ctx context.Context) error {
	ticker := time.NewTicker(podPollInterval)
	defer ticker.Stop()

	for {
		pod, err := h.clientset.CoreV1().Pods(h.namespace).Get(ctx, h.podName, metav1.GetOptions{})
		if err != nil {
			return err
		}
		switch pod.Status.Phase {
		case corev1.PodRunning, corev1.PodSucceeded, corev1.PodFailed:
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop deletes the Job and its pod.
func (h *KubernetesHandle) Stop(ctx context.Context) error {
	propagation := metav1.DeletePropagationForeground
	err := h.clientset.BatchV1().Jobs(h.namespace).Delete(ctx, h.jobName, metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", h.jobName, err)
	}
	return nil
}
