// Package kubernetes runs each job as a Kubernetes batch/v1 Job.
package kubernetes

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"snakeplane/internal/executor"
	"snakeplane/internal/registry"
	"snakeplane/internal/settings"
)

// Name is the plugin name.
const Name = "kubernetes"

const (
	labelManagedBy = "app.kubernetes.io/managed-by"
	labelJobID     = "snakeplane/jobid"
	containerName  = "job"
)

// Settings are the executor settings of the plugin.
type Settings struct {
	Namespace      string `setting:"namespace"`
	Image          string `setting:"image"`
	ServiceAccount string `setting:"service_account"`
	CPULimit       string `setting:"cpu_limit"`
	MemoryLimit    string `setting:"memory_limit"`
	Kubeconfig     string `setting:"kubeconfig"`
}

// Schema declares the plugin's settings.
func Schema() *settings.Schema {
	return &settings.Schema{Fields: []settings.Field{
		{Name: "namespace", Type: settings.String, Default: "default", Help: "Namespace jobs are created in", EnvVar: true},
		{Name: "image", Type: settings.String, Default: "snakemake/snakemake:stable", Help: "Container image jobs run in"},
		{Name: "service_account", Type: settings.String, Default: "", Help: "Service account of job pods"},
		{Name: "cpu_limit", Type: settings.String, Default: "500m", Help: "CPU limit of jobs that declare no _cores resource"},
		{Name: "memory_limit", Type: settings.String, Default: "256Mi", Help: "Memory limit of jobs that declare no mem_mb resource"},
		{Name: "kubeconfig", Type: settings.String, Default: "", Help: "Kubeconfig used outside the cluster (default: ~/.kube/config)", EnvVar: true},
	}}
}

// Common are the plugin's common settings.
func Common() *settings.CommonSettings {
	return &settings.CommonSettings{
		NonLocalExec:                   true,
		ImpliesNoSharedFS:              true,
		PassEnvvarDeclarationsToCmd:    true,
		PassDefaultStorageProviderArgs: true,
		PassDefaultResourcesArgs:       true,
	}
}

// Module is the registry module of the plugin.
func Module() registry.Module {
	return registry.Module{
		Name: registry.Prefix + Name,
		Attributes: map[string]any{
			registry.AttrCommonSettings:   Common(),
			registry.AttrExecutorSettings: Schema(),
			registry.AttrExecutor:         New,
		},
	}
}

// Backend implements executor.Backend with Kubernetes Jobs.
type Backend struct {
	clientset kubernetes.Interface
	settings  Settings
	logger    *slog.Logger
}

func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	return os.Getenv("USERPROFILE")
}

// New creates the backend. It tries in-cluster configuration first and
// falls back to a kubeconfig.
func New(host executor.Host, record *settings.Record) (*Backend, error) {
	var s Settings
	if err := record.Decode(&s); err != nil {
		return nil, err
	}
	logger := host.Logger().With("executor", Name)

	config, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := s.Kubeconfig
		if kubeconfig == "" {
			kubeconfig = filepath.Join(homeDir(), ".kube", "config")
		}
		logger.Debug("in-cluster config not available, using kubeconfig", "kubeconfig", kubeconfig, "error", err)
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build kubernetes config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}
	return newBackend(clientset, s, host.Logger()), nil
}

func newBackend(clientset kubernetes.Interface, s Settings, logger *slog.Logger) *Backend {
	if s.Namespace == "" {
		s.Namespace = "default"
	}
	if s.CPULimit == "" {
		s.CPULimit = "500m"
	}
	if s.MemoryLimit == "" {
		s.MemoryLimit = "256Mi"
	}
	return &Backend{
		clientset: clientset,
		settings:  s,
		logger:    logger.With("executor", Name),
	}
}

// Submit creates a Job running the job's command.
func (b *Backend) Submit(ctx context.Context, job executor.Job, tk executor.Toolkit) (*executor.SubmittedJobInfo, error) {
	cmd, err := tk.FormatJobExec(job)
	if err != nil {
		return nil, err
	}
	limits, err := b.limits(job)
	if err != nil {
		return nil, err
	}

	name := fmt.Sprintf("snakejob-%d-%s", job.JobID(), strings.SplitN(uuid.NewString(), "-", 2)[0])
	labels := map[string]string{
		labelManagedBy: "snakeplane",
		labelJobID:     strconv.Itoa(job.JobID()),
	}

	// The engine retries through the host, not through Kubernetes.
	backoffLimit := int32(0)
	kjob := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: b.settings.Namespace,
			Labels:    labels,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: &backoffLimit,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					RestartPolicy:      corev1.RestartPolicyNever,
					ServiceAccountName: b.settings.ServiceAccount,
					Containers: []corev1.Container{{
						Name:      containerName,
						Image:     b.settings.Image,
						Command:   []string{"sh", "-c", cmd},
						Resources: corev1.ResourceRequirements{Limits: limits},
					}},
				},
			},
		},
	}

	created, err := b.clientset.BatchV1().Jobs(b.settings.Namespace).Create(ctx, kjob, metav1.CreateOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes job: %w", err)
	}
	b.logger.Info("kubernetes job created", "jobid", job.JobID(), "name", created.Name, "namespace", b.settings.Namespace)

	return &executor.SubmittedJobInfo{Job: job, ExternalJobID: created.Name}, nil
}

// limits derives container limits from the job's _cores and mem_mb
// resources, falling back to the configured defaults.
func (b *Backend) limits(job executor.Job) (corev1.ResourceList, error) {
	cpu := b.settings.CPULimit
	memory := b.settings.MemoryLimit
	res := job.Resources()
	if cores, ok := res["_cores"].(int); ok && cores > 0 {
		cpu = strconv.Itoa(cores)
	}
	if mem, ok := res["mem_mb"].(int); ok && mem > 0 {
		memory = strconv.Itoa(mem) + "M"
	}

	cpuQty, err := resource.ParseQuantity(cpu)
	if err != nil {
		return nil, &executor.WorkflowError{Msg: fmt.Sprintf("invalid cpu limit %q", cpu), Err: err}
	}
	memQty, err := resource.ParseQuantity(memory)
	if err != nil {
		return nil, &executor.WorkflowError{Msg: fmt.Sprintf("invalid memory limit %q", memory), Err: err}
	}
	return corev1.ResourceList{
		corev1.ResourceCPU:    cpuQty,
		corev1.ResourceMemory: memQty,
	}, nil
}

// CheckActiveJobs reads the status of every Job.
func (b *Backend) CheckActiveJobs(ctx context.Context, active []*executor.SubmittedJobInfo) (executor.CheckResult, error) {
	jobs := b.clientset.BatchV1().Jobs(b.settings.Namespace)

	var res executor.CheckResult
	for _, info := range active {
		kjob, err := jobs.Get(ctx, info.ExternalJobID, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			res.Statuses = append(res.Statuses, executor.JobStatus{
				Info:    info,
				State:   executor.Failed,
				Message: fmt.Sprintf("kubernetes job %s no longer exists", info.ExternalJobID),
			})
			continue
		}
		if err != nil {
			return executor.CheckResult{}, fmt.Errorf("failed to get kubernetes job %s: %w", info.ExternalJobID, err)
		}
		res.Statuses = append(res.Statuses, jobStatus(info, kjob))
	}
	return res, nil
}

func jobStatus(info *executor.SubmittedJobInfo, kjob *batchv1.Job) executor.JobStatus {
	for _, cond := range kjob.Status.Conditions {
		if cond.Status != corev1.ConditionTrue {
			continue
		}
		switch cond.Type {
		case batchv1.JobComplete:
			return executor.JobStatus{Info: info, State: executor.Succeeded}
		case batchv1.JobFailed:
			return executor.JobStatus{
				Info:    info,
				State:   executor.Failed,
				Message: fmt.Sprintf("kubernetes job %s failed: %s %s", kjob.Name, cond.Reason, cond.Message),
			}
		}
	}
	switch {
	case kjob.Status.Succeeded > 0:
		return executor.JobStatus{Info: info, State: executor.Succeeded}
	case kjob.Status.Failed > 0:
		return executor.JobStatus{
			Info:    info,
			State:   executor.Failed,
			Message: fmt.Sprintf("kubernetes job %s failed", kjob.Name),
		}
	}
	return executor.JobStatus{Info: info, State: executor.Running}
}

// CancelJobs deletes the Jobs together with their pods.
func (b *Backend) CancelJobs(ctx context.Context, active []*executor.SubmittedJobInfo) error {
	propagation := metav1.DeletePropagationForeground
	jobs := b.clientset.BatchV1().Jobs(b.settings.Namespace)
	for _, info := range active {
		err := jobs.Delete(ctx, info.ExternalJobID, metav1.DeleteOptions{PropagationPolicy: &propagation})
		if err != nil && !apierrors.IsNotFound(err) {
			b.logger.Warn("failed to delete kubernetes job", "name", info.ExternalJobID, "error", err)
			continue
		}
		b.logger.Info("kubernetes job deleted", "name", info.ExternalJobID)
	}
	return nil
}
