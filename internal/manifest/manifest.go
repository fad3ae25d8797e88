// Package manifest builds the ordered set of cluster objects that
// realize one environment. Building is pure: no API calls, no clock,
// deterministic output for identical input.
package manifest

import (
	"fmt"
	"sort"
	"strings"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/hjimin027/kubdev-auto-system/internal/domain"
	apperrors "github.com/hjimin027/kubdev-auto-system/internal/pkg/errors"
)

// Kind identifies one of the resource types an environment is made of.
type Kind string

const (
	KindNamespace Kind = "Namespace"
	KindQuota     Kind = "ResourceQuota"
	KindWorkload  Kind = "Deployment"
	KindService   Kind = "Service"
	KindIngress   Kind = "Ingress"
)

// Resource is one buildable cluster object plus addressing metadata.
type Resource struct {
	Kind      Kind
	Name      string
	Namespace string
	Object    runtime.Object
}

// Ref addresses a resource without carrying its body.
type Ref struct {
	Kind      Kind
	Namespace string
	Name      string
}

// Ref returns the addressing part of the resource.
func (r Resource) Ref() Ref {
	return Ref{Kind: r.Kind, Namespace: r.Namespace, Name: r.Name}
}

func (r Ref) String() string {
	return fmt.Sprintf("%s/%s/%s", r.Kind, r.Namespace, r.Name)
}

const (
	// ManagedByLabel marks every object this system owns.
	ManagedByLabel = "app.kubernetes.io/managed-by"
	// ManagedByValue is the label value for owned objects.
	ManagedByValue = "kubdev"

	workspaceVolume = "workspace"
	workspacePath   = "/workspace"
	gitCloneImage   = "alpine/git:latest"
	defaultPort     = 8080
)

// Slugify derives a cluster-safe identifier from an environment name:
// lowercase, alphanumerics and dashes only, at most 40 characters.
func Slugify(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == ' ' || r == '.':
			b.WriteRune('-')
		}
	}
	slug := strings.Trim(b.String(), "-")
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	if len(slug) > 40 {
		slug = strings.TrimRight(slug[:40], "-")
	}
	return slug
}

// Deterministic names per identity. Re-running the builder for the
// same identity always targets the same objects.
func NamespaceName(slug string) string { return "env-" + slug }
func QuotaName(slug string) string     { return "quota-" + slug }
func WorkloadName(slug string) string  { return "app-" + slug }
func ServiceName(slug string) string   { return "svc-" + slug }
func IngressName(slug string) string   { return "ing-" + slug }

// HostName returns the hostname the environment is exposed under.
func HostName(slug, domain string) string { return slug + "." + domain }

// ValidatePorts rejects port numbers outside 1-65535 before they are
// narrowed into int32 container and service ports.
func ValidatePorts(ports []int) error {
	for _, p := range ports {
		if p < 1 || p > 65535 {
			return apperrors.BadRequest(apperrors.CodeValidationFailed, "exposed port out of range").
				WithParams(map[string]interface{}{"port": p})
		}
	}
	return nil
}

// Builder produces ordered resource lists for environments.
type Builder struct {
	ingressDomain string
}

// NewBuilder creates a Builder minting hostnames under ingressDomain.
func NewBuilder(ingressDomain string) *Builder {
	return &Builder{ingressDomain: ingressDomain}
}

// Build returns the environment's resources in dependency order:
// namespace, quota, workload, service, ingress. The quota object must
// precede the workload so enforcement is active before any pod is
// admitted.
func (b *Builder) Build(env *domain.Environment, image string) ([]Resource, error) {
	slug := Slugify(env.Name)
	if slug == "" {
		return nil, fmt.Errorf("environment name %q yields empty identity", env.Name)
	}
	if err := ValidatePorts(env.Ports); err != nil {
		return nil, err
	}

	ns := NamespaceName(slug)
	resources := []Resource{
		{Kind: KindNamespace, Name: ns, Object: b.buildNamespace(slug)},
		{Kind: KindQuota, Name: QuotaName(slug), Namespace: ns, Object: b.buildQuota(slug, env.Quota)},
		{Kind: KindWorkload, Name: WorkloadName(slug), Namespace: ns, Object: b.buildWorkload(slug, env, image)},
		{Kind: KindService, Name: ServiceName(slug), Namespace: ns, Object: b.buildService(slug, env.Ports)},
		{Kind: KindIngress, Name: IngressName(slug), Namespace: ns, Object: b.buildIngress(slug, env.Ports)},
	}
	return resources, nil
}

// Refs returns the addressing of every resource an environment with
// this identity owns, in build order.
func (b *Builder) Refs(name string) []Ref {
	slug := Slugify(name)
	ns := NamespaceName(slug)
	return []Ref{
		{Kind: KindNamespace, Name: ns},
		{Kind: KindQuota, Namespace: ns, Name: QuotaName(slug)},
		{Kind: KindWorkload, Namespace: ns, Name: WorkloadName(slug)},
		{Kind: KindService, Namespace: ns, Name: ServiceName(slug)},
		{Kind: KindIngress, Namespace: ns, Name: IngressName(slug)},
	}
}

// AccessURL returns the URL the environment is reachable at once its
// ingress is ready.
func (b *Builder) AccessURL(name string) string {
	return "http://" + HostName(Slugify(name), b.ingressDomain)
}

func managedLabels(slug string) map[string]string {
	return map[string]string{
		ManagedByLabel:          ManagedByValue,
		"kubdev.io/environment": slug,
	}
}

func (b *Builder) buildNamespace(slug string) *corev1.Namespace {
	return &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:   NamespaceName(slug),
			Labels: managedLabels(slug),
		},
	}
}

func (b *Builder) buildQuota(slug string, q domain.QuotaPolicy) *corev1.ResourceQuota {
	return &corev1.ResourceQuota{
		ObjectMeta: metav1.ObjectMeta{
			Name:      QuotaName(slug),
			Namespace: NamespaceName(slug),
			Labels:    managedLabels(slug),
		},
		Spec: corev1.ResourceQuotaSpec{
			Hard: corev1.ResourceList{
				"limits.cpu":    *resource.NewMilliQuantity(q.CPUMillis, resource.DecimalSI),
				"limits.memory": *resource.NewQuantity(q.MemoryBytes, resource.BinarySI),
				// Requests are admitted at half the limit ceiling.
				"requests.cpu":    *resource.NewMilliQuantity(q.CPUMillis/2, resource.DecimalSI),
				"requests.memory": *resource.NewQuantity(q.MemoryBytes/2, resource.BinarySI),

				"requests.storage": *resource.NewQuantity(q.StorageBytes, resource.BinarySI),

				"pods":     *resource.NewQuantity(int64(q.MaxPods), resource.DecimalSI),
				"services": *resource.NewQuantity(int64(q.MaxServices), resource.DecimalSI),

				"persistentvolumeclaims": *resource.NewQuantity(3, resource.DecimalSI),
				"secrets":                *resource.NewQuantity(10, resource.DecimalSI),
				"configmaps":             *resource.NewQuantity(10, resource.DecimalSI),
			},
		},
	}
}

func (b *Builder) buildWorkload(slug string, env *domain.Environment, image string) *appsv1.Deployment {
	name := WorkloadName(slug)
	podLabels := managedLabels(slug)
	podLabels["app"] = name
	podLabels["component"] = "ide"

	ports := env.Ports
	if len(ports) == 0 {
		ports = []int{defaultPort}
	}
	containerPorts := make([]corev1.ContainerPort, 0, len(ports))
	for _, p := range ports {
		containerPorts = append(containerPorts, corev1.ContainerPort{ContainerPort: int32(p)})
	}

	container := corev1.Container{
		Name:       "ide",
		Image:      image,
		WorkingDir: workspacePath,
		Env:        buildEnv(env),
		Ports:      containerPorts,
		Resources: corev1.ResourceRequirements{
			Limits: corev1.ResourceList{
				corev1.ResourceCPU:    *resource.NewMilliQuantity(env.Quota.CPUMillis, resource.DecimalSI),
				corev1.ResourceMemory: *resource.NewQuantity(env.Quota.MemoryBytes, resource.BinarySI),
			},
			// Half the limits, matching the quota's request admission.
			Requests: corev1.ResourceList{
				corev1.ResourceCPU:    *resource.NewMilliQuantity(env.Quota.CPUMillis/2, resource.DecimalSI),
				corev1.ResourceMemory: *resource.NewQuantity(env.Quota.MemoryBytes/2, resource.BinarySI),
			},
		},
		VolumeMounts: []corev1.VolumeMount{{Name: workspaceVolume, MountPath: workspacePath}},
	}

	var initContainers []corev1.Container
	if env.Git != nil && env.Git.RepoURL != "" {
		initContainers = append(initContainers, gitCloneContainer(env.Git))
	}

	replicas := int32(1)
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: NamespaceName(slug),
			Labels:    managedLabels(slug),
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: map[string]string{"app": name}},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: podLabels},
				Spec: corev1.PodSpec{
					InitContainers: initContainers,
					Containers:     []corev1.Container{container},
					Volumes: []corev1.Volume{{
						Name:         workspaceVolume,
						VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}},
					}},
					RestartPolicy: corev1.RestartPolicyAlways,
				},
			},
		},
	}
}

// gitCloneContainer fetches the git source into the shared workspace
// before the main process starts. A failed clone falls back to an
// empty workspace instead of blocking startup.
func gitCloneContainer(git *domain.GitSource) corev1.Container {
	branch := git.Branch
	if branch == "" {
		branch = "main"
	}
	cmd := fmt.Sprintf(
		"git clone -b %s %s %s || (mkdir -p %s && echo 'git clone failed, using empty workspace')",
		branch, git.RepoURL, workspacePath, workspacePath,
	)
	return corev1.Container{
		Name:         "git-clone",
		Image:        gitCloneImage,
		Command:      []string{"sh", "-c"},
		Args:         []string{cmd},
		VolumeMounts: []corev1.VolumeMount{{Name: workspaceVolume, MountPath: workspacePath}},
	}
}

// buildEnv merges the environment's variables with the metadata
// variables the workspace tooling expects, sorted for determinism.
func buildEnv(env *domain.Environment) []corev1.EnvVar {
	merged := map[string]string{
		"ENVIRONMENT_ID": env.ID,
		"TEMPLATE_NAME":  env.TemplateID,
		"USER_ID":        env.UserID,
	}
	for k, v := range env.EnvVars {
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]corev1.EnvVar, 0, len(keys))
	for _, k := range keys {
		out = append(out, corev1.EnvVar{Name: k, Value: merged[k]})
	}
	return out
}

func (b *Builder) buildService(slug string, ports []int) *corev1.Service {
	if len(ports) == 0 {
		ports = []int{defaultPort}
	}
	svcPorts := make([]corev1.ServicePort, 0, len(ports))
	for i, p := range ports {
		name := "http"
		if i > 0 {
			name = fmt.Sprintf("port-%d", p)
		}
		svcPorts = append(svcPorts, corev1.ServicePort{
			Name:       name,
			Port:       int32(p),
			TargetPort: intstr.FromInt(p),
		})
	}

	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      ServiceName(slug),
			Namespace: NamespaceName(slug),
			Labels:    managedLabels(slug),
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: map[string]string{"app": WorkloadName(slug)},
			Ports:    svcPorts,
		},
	}
}

func (b *Builder) buildIngress(slug string, ports []int) *networkingv1.Ingress {
	port := defaultPort
	if len(ports) > 0 {
		port = ports[0]
	}
	pathType := networkingv1.PathTypePrefix

	return &networkingv1.Ingress{
		ObjectMeta: metav1.ObjectMeta{
			Name:      IngressName(slug),
			Namespace: NamespaceName(slug),
			Labels:    managedLabels(slug),
		},
		Spec: networkingv1.IngressSpec{
			Rules: []networkingv1.IngressRule{{
				Host: HostName(slug, b.ingressDomain),
				IngressRuleValue: networkingv1.IngressRuleValue{
					HTTP: &networkingv1.HTTPIngressRuleValue{
						Paths: []networkingv1.HTTPIngressPath{{
							Path:     "/",
							PathType: &pathType,
							Backend: networkingv1.IngressBackend{
								Service: &networkingv1.IngressServiceBackend{
									Name: ServiceName(slug),
									Port: networkingv1.ServiceBackendPort{Number: int32(port)},
								},
							},
						}},
					},
				},
			}},
		},
	}
}
