package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/hjimin027/kubdev-auto-system/internal/domain"
	"github.com/hjimin027/kubdev-auto-system/internal/manifest"
)

// KubernetesAdapter implements Adapter against a real control plane
// through client-go. The clientset is bound at the composition root.
type KubernetesAdapter struct {
	client           kubernetes.Interface
	operationTimeout time.Duration
}

// NewKubernetesAdapter creates an adapter with a per-operation
// timeout.
func NewKubernetesAdapter(client kubernetes.Interface, operationTimeout time.Duration) *KubernetesAdapter {
	if operationTimeout <= 0 {
		operationTimeout = 2 * time.Minute
	}
	return &KubernetesAdapter{client: client, operationTimeout: operationTimeout}
}

// withTimeout wraps ctx with the configured operation timeout.
func (a *KubernetesAdapter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.operationTimeout)
}

// CreateResource submits one resource to the cluster.
func (a *KubernetesAdapter) CreateResource(ctx context.Context, res manifest.Resource) error {
	opCtx, cancel := a.withTimeout(ctx)
	defer cancel()

	opts := metav1.CreateOptions{}
	var err error
	switch obj := res.Object.(type) {
	case *corev1.Namespace:
		_, err = a.client.CoreV1().Namespaces().Create(opCtx, obj, opts)
	case *corev1.ResourceQuota:
		_, err = a.client.CoreV1().ResourceQuotas(res.Namespace).Create(opCtx, obj, opts)
	case *appsv1.Deployment:
		_, err = a.client.AppsV1().Deployments(res.Namespace).Create(opCtx, obj, opts)
	case *corev1.Service:
		_, err = a.client.CoreV1().Services(res.Namespace).Create(opCtx, obj, opts)
	case *networkingv1.Ingress:
		_, err = a.client.NetworkingV1().Ingresses(res.Namespace).Create(opCtx, obj, opts)
	default:
		return &AdapterError{
			Kind: ErrRejected, Op: "create", Ref: res.Ref(),
			Err: fmt.Errorf("unsupported object type %T", res.Object),
		}
	}
	if err != nil {
		return classify("create", res.Ref(), err)
	}
	return nil
}

// GetResource reads one resource's observed status.
func (a *KubernetesAdapter) GetResource(ctx context.Context, ref manifest.Ref) (*ResourceStatus, error) {
	opCtx, cancel := a.withTimeout(ctx)
	defer cancel()

	status := &ResourceStatus{Ref: ref}
	opts := metav1.GetOptions{}
	switch ref.Kind {
	case manifest.KindNamespace:
		ns, err := a.client.CoreV1().Namespaces().Get(opCtx, ref.Name, opts)
		if err != nil {
			return nil, classify("get", ref, err)
		}
		status.Phase = string(ns.Status.Phase)
	case manifest.KindQuota:
		quota, err := a.client.CoreV1().ResourceQuotas(ref.Namespace).Get(opCtx, ref.Name, opts)
		if err != nil {
			return nil, classify("get", ref, err)
		}
		status.Used = quotaUsage(quota)
	case manifest.KindWorkload:
		dep, err := a.client.AppsV1().Deployments(ref.Namespace).Get(opCtx, ref.Name, opts)
		if err != nil {
			return nil, classify("get", ref, err)
		}
		status.ReadyReplicas = int(dep.Status.ReadyReplicas)
		if dep.Spec.Replicas != nil {
			status.DesiredReplicas = int(*dep.Spec.Replicas)
		}
	case manifest.KindService:
		if _, err := a.client.CoreV1().Services(ref.Namespace).Get(opCtx, ref.Name, opts); err != nil {
			return nil, classify("get", ref, err)
		}
	case manifest.KindIngress:
		if _, err := a.client.NetworkingV1().Ingresses(ref.Namespace).Get(opCtx, ref.Name, opts); err != nil {
			return nil, classify("get", ref, err)
		}
	default:
		return nil, &AdapterError{
			Kind: ErrRejected, Op: "get", Ref: ref,
			Err: fmt.Errorf("unsupported kind %q", ref.Kind),
		}
	}
	return status, nil
}

// DeleteResource removes one resource; absent resources succeed.
func (a *KubernetesAdapter) DeleteResource(ctx context.Context, ref manifest.Ref) error {
	opCtx, cancel := a.withTimeout(ctx)
	defer cancel()

	opts := metav1.DeleteOptions{}
	var err error
	switch ref.Kind {
	case manifest.KindNamespace:
		err = a.client.CoreV1().Namespaces().Delete(opCtx, ref.Name, opts)
	case manifest.KindQuota:
		err = a.client.CoreV1().ResourceQuotas(ref.Namespace).Delete(opCtx, ref.Name, opts)
	case manifest.KindWorkload:
		err = a.client.AppsV1().Deployments(ref.Namespace).Delete(opCtx, ref.Name, opts)
	case manifest.KindService:
		err = a.client.CoreV1().Services(ref.Namespace).Delete(opCtx, ref.Name, opts)
	case manifest.KindIngress:
		err = a.client.NetworkingV1().Ingresses(ref.Namespace).Delete(opCtx, ref.Name, opts)
	default:
		return &AdapterError{
			Kind: ErrRejected, Op: "delete", Ref: ref,
			Err: fmt.Errorf("unsupported kind %q", ref.Kind),
		}
	}
	if err != nil {
		ae := classify("delete", ref, err)
		if ae.Kind == ErrNotFound {
			return nil
		}
		return ae
	}
	return nil
}

// ListResources lists managed resources of one kind by namespace
// prefix.
func (a *KubernetesAdapter) ListResources(ctx context.Context, kind manifest.Kind, namespacePrefix string) ([]manifest.Ref, error) {
	opCtx, cancel := a.withTimeout(ctx)
	defer cancel()

	opts := metav1.ListOptions{
		LabelSelector: manifest.ManagedByLabel + "=" + manifest.ManagedByValue,
	}
	listRef := manifest.Ref{Kind: kind}

	var refs []manifest.Ref
	appendRef := func(namespace, name string) {
		if kind == manifest.KindNamespace {
			if strings.HasPrefix(name, namespacePrefix) {
				refs = append(refs, manifest.Ref{Kind: kind, Name: name})
			}
			return
		}
		if strings.HasPrefix(namespace, namespacePrefix) {
			refs = append(refs, manifest.Ref{Kind: kind, Namespace: namespace, Name: name})
		}
	}

	switch kind {
	case manifest.KindNamespace:
		list, err := a.client.CoreV1().Namespaces().List(opCtx, opts)
		if err != nil {
			return nil, classify("list", listRef, err)
		}
		for _, item := range list.Items {
			appendRef("", item.Name)
		}
	case manifest.KindQuota:
		list, err := a.client.CoreV1().ResourceQuotas(metav1.NamespaceAll).List(opCtx, opts)
		if err != nil {
			return nil, classify("list", listRef, err)
		}
		for _, item := range list.Items {
			appendRef(item.Namespace, item.Name)
		}
	case manifest.KindWorkload:
		list, err := a.client.AppsV1().Deployments(metav1.NamespaceAll).List(opCtx, opts)
		if err != nil {
			return nil, classify("list", listRef, err)
		}
		for _, item := range list.Items {
			appendRef(item.Namespace, item.Name)
		}
	case manifest.KindService:
		list, err := a.client.CoreV1().Services(metav1.NamespaceAll).List(opCtx, opts)
		if err != nil {
			return nil, classify("list", listRef, err)
		}
		for _, item := range list.Items {
			appendRef(item.Namespace, item.Name)
		}
	case manifest.KindIngress:
		list, err := a.client.NetworkingV1().Ingresses(metav1.NamespaceAll).List(opCtx, opts)
		if err != nil {
			return nil, classify("list", listRef, err)
		}
		for _, item := range list.Items {
			appendRef(item.Namespace, item.Name)
		}
	default:
		return nil, &AdapterError{
			Kind: ErrRejected, Op: "list", Ref: listRef,
			Err: fmt.Errorf("unsupported kind %q", kind),
		}
	}
	return refs, nil
}

// ObserveEnvironment reads the composite observed state for one
// environment identity. An absent namespace fails with ErrNotFound;
// missing inner resources degrade to zero values.
func (a *KubernetesAdapter) ObserveEnvironment(ctx context.Context, name string) (*domain.ObservedState, error) {
	slug := manifest.Slugify(name)
	ns := manifest.NamespaceName(slug)

	nsStatus, err := a.GetResource(ctx, manifest.Ref{Kind: manifest.KindNamespace, Name: ns})
	if err != nil {
		return nil, err
	}

	observed := &domain.ObservedState{NamespacePhase: nsStatus.Phase}

	quotaRef := manifest.Ref{Kind: manifest.KindQuota, Namespace: ns, Name: manifest.QuotaName(slug)}
	if qs, err := a.GetResource(ctx, quotaRef); err == nil {
		observed.QuotaUsed = qs.Used
	} else if !IsNotFound(err) {
		return nil, err
	}

	workloadRef := manifest.Ref{Kind: manifest.KindWorkload, Namespace: ns, Name: manifest.WorkloadName(slug)}
	if ws, err := a.GetResource(ctx, workloadRef); err == nil {
		observed.WorkloadReadyReplicas = ws.ReadyReplicas
		observed.WorkloadDesiredReplicas = ws.DesiredReplicas
	} else if !IsNotFound(err) {
		return nil, err
	}

	ingressRef := manifest.Ref{Kind: manifest.KindIngress, Namespace: ns, Name: manifest.IngressName(slug)}
	if _, err := a.GetResource(ctx, ingressRef); err == nil {
		observed.NetworkEntryReady = true
	} else if !IsNotFound(err) {
		return nil, err
	}

	return observed, nil
}

// Overview summarizes cluster-wide health.
func (a *KubernetesAdapter) Overview(ctx context.Context) (*ClusterOverview, error) {
	opCtx, cancel := a.withTimeout(ctx)
	defer cancel()

	overview := &ClusterOverview{}

	nodes, err := a.client.CoreV1().Nodes().List(opCtx, metav1.ListOptions{})
	if err != nil {
		return nil, classify("list", manifest.Ref{Kind: "Node"}, err)
	}
	overview.TotalNodes = len(nodes.Items)
	for _, node := range nodes.Items {
		for _, cond := range node.Status.Conditions {
			if cond.Type == corev1.NodeReady && cond.Status == corev1.ConditionTrue {
				overview.ReadyNodes++
				break
			}
		}
	}

	pods, err := a.client.CoreV1().Pods(metav1.NamespaceAll).List(opCtx, metav1.ListOptions{})
	if err != nil {
		return nil, classify("list", manifest.Ref{Kind: "Pod"}, err)
	}
	overview.TotalPods = len(pods.Items)
	for _, pod := range pods.Items {
		switch pod.Status.Phase {
		case corev1.PodRunning:
			overview.RunningPods++
		case corev1.PodPending:
			overview.PendingPods++
		case corev1.PodFailed:
			overview.FailedPods++
		}

		if pod.Labels[manifest.ManagedByLabel] != manifest.ManagedByValue {
			continue
		}
		overview.Environments.Total++
		switch pod.Status.Phase {
		case corev1.PodRunning:
			overview.Environments.Active++
		case corev1.PodPending:
			overview.Environments.Pending++
		case corev1.PodFailed:
			overview.Environments.Failed++
		}
	}

	return overview, nil
}

// quotaUsage maps a quota's used block onto the observed usage shape.
func quotaUsage(quota *corev1.ResourceQuota) domain.ObservedUsage {
	var usage domain.ObservedUsage
	if cpu, ok := quota.Status.Used["limits.cpu"]; ok {
		usage.CPUMillis = cpu.MilliValue()
	}
	if mem, ok := quota.Status.Used["limits.memory"]; ok {
		usage.MemoryBytes = mem.Value()
	}
	if pods, ok := quota.Status.Used["pods"]; ok {
		usage.Pods = int(pods.Value())
	}
	return usage
}
