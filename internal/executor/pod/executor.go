// Package pod provides the Executor for running stages as Kubernetes Pods.
package pod

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	workflowv1 "github.com/kination/kpiwatch/api/v1"
	"github.com/kination/kpiwatch/internal/executor"
)

var log = ctrl.Log.WithName("executor").WithName("pod")

const containerName = "stage"

// Executor implements the executor.Executor interface for Pod-based stages
type Executor struct {
	executor.BaseExecutor
}

// New creates a new PodExecutor
func New(cfg executor.ExecutorConfig) *Executor {
	return &Executor{
		BaseExecutor: executor.NewBaseExecutor(cfg),
	}
}

// Backend returns the backend this executor handles
func (e *Executor) Backend() workflowv1.StageBackend {
	return workflowv1.BackendPod
}

// Execute creates a Pod for the stage and waits until it succeeds or fails.
// The Pod is removed once it reached a terminal phase.
func (e *Executor) Execute(ctx context.Context, stage workflowv1.StageSpec) (*executor.Result, error) {
	pod, err := e.buildPod(stage)
	if err != nil {
		return nil, err
	}

	if err := e.Config.Client.Create(ctx, pod); err != nil {
		if !errors.IsAlreadyExists(err) {
			return nil, fmt.Errorf("failed to create pod: %w", err)
		}
	}
	defer e.cleanup(pod)

	log.Info("Created stage pod", "stage", stage.Name, "pod", pod.Name, "namespace", pod.Namespace)
	start := time.Now()

	var phase corev1.PodPhase
	key := types.NamespacedName{Name: pod.Name, Namespace: pod.Namespace}
	err = wait.PollUntilContextCancel(ctx, e.Config.PollInterval, true, func(ctx context.Context) (bool, error) {
		if err := e.Config.Client.Get(ctx, key, pod); err != nil {
			if errors.IsNotFound(err) {
				return false, nil
			}
			return false, err
		}
		phase = pod.Status.Phase
		return phase == corev1.PodSucceeded || phase == corev1.PodFailed, nil
	})
	if err != nil {
		return nil, fmt.Errorf("waiting for pod %s: %w", pod.Name, err)
	}

	exitCode, message := terminationStatus(pod)
	result := &executor.Result{
		ExitCode: exitCode,
		Output:   e.Tail(message),
		Duration: time.Since(start),
	}
	if phase == corev1.PodFailed {
		if result.ExitCode == 0 {
			result.ExitCode = 1
		}
		return result, &executor.StageFailedError{Stage: stage.Name, ExitCode: result.ExitCode, Output: result.Output}
	}

	log.Info("Stage pod succeeded", "stage", stage.Name, "pod", pod.Name, "duration", result.Duration.String())
	return result, nil
}

// cleanup removes the stage Pod. It runs detached from the stage context so a
// cancelled run still releases its Pods.
func (e *Executor) cleanup(pod *corev1.Pod) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	propagation := metav1.DeletePropagationBackground
	target := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: pod.Name, Namespace: pod.Namespace}}
	if err := e.Config.Client.Delete(ctx, target, &client.DeleteOptions{PropagationPolicy: &propagation}); err != nil && !errors.IsNotFound(err) {
		log.Error(err, "Failed to delete stage pod", "pod", pod.Name)
	}
}

// buildPod converts a StageSpec to a Pod
func (e *Executor) buildPod(stage workflowv1.StageSpec) (*corev1.Pod, error) {
	args, err := executor.ParseCommand(stage.Command)
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", stage.Name, err)
	}

	image := stage.Image
	if image == "" {
		image = e.Config.Image
	}
	namespace := e.Config.Namespace
	if namespace == "" {
		namespace = "default"
	}

	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      e.getPodName(stage.Name),
			Namespace: namespace,
			Labels: map[string]string{
				"stage":                     dnsName(stage.Name),
				"app.kubernetes.io/name":    "kpiwatch",
				"app.kubernetes.io/part-of": "kpiwatch",
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Containers: []corev1.Container{
				{
					Name:                     containerName,
					Image:                    image,
					Command:                  args,
					WorkingDir:               stage.Dir,
					Env:                      e.buildEnv(stage.Env),
					TerminationMessagePolicy: corev1.TerminationMessageFallbackToLogsOnError,
				},
			},
		},
	}, nil
}

// buildEnv converts map to EnvVar slice
func (e *Executor) buildEnv(envMap map[string]string) []corev1.EnvVar {
	var envVars []corev1.EnvVar
	for k, v := range envMap {
		envVars = append(envVars, corev1.EnvVar{
			Name:  k,
			Value: v,
		})
	}
	return envVars
}

// getPodName generates a unique pod name for one stage attempt
func (e *Executor) getPodName(stageName string) string {
	return fmt.Sprintf("kpiwatch-%s-%s", dnsName(stageName), uuid.NewString()[:8])
}

// terminationStatus returns the exit code and termination message of the stage container
func terminationStatus(pod *corev1.Pod) (int, string) {
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.Name != containerName || cs.State.Terminated == nil {
			continue
		}
		return int(cs.State.Terminated.ExitCode), cs.State.Terminated.Message
	}
	return 0, pod.Status.Message
}

func dnsName(s string) string {
	return strings.Trim(strings.ReplaceAll(strings.ToLower(s), "_", "-"), "-")
}
