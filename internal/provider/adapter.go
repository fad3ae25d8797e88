// Package provider adapts the cluster control plane behind a
// capability interface. Everything above it consumes Adapter; the
// control plane client is bound at the composition root.
package provider

import (
	"context"
	"errors"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"github.com/hjimin027/kubdev-auto-system/internal/domain"
	"github.com/hjimin027/kubdev-auto-system/internal/manifest"
)

// ErrorKind classifies adapter failures. Only Transient errors are
// retried by callers.
type ErrorKind int

const (
	// ErrTransient covers network and timeout classes.
	ErrTransient ErrorKind = iota
	// ErrConflict is a definitive name collision.
	ErrConflict
	// ErrNotFound is an absent resource.
	ErrNotFound
	// ErrRejected covers malformed specs and policy denials.
	ErrRejected
)

func (k ErrorKind) String() string {
	switch k {
	case ErrConflict:
		return "conflict"
	case ErrNotFound:
		return "not_found"
	case ErrRejected:
		return "rejected"
	default:
		return "transient"
	}
}

// AdapterError wraps a control-plane failure with its classification
// and the resource it applies to.
type AdapterError struct {
	Kind ErrorKind
	Op   string
	Ref  manifest.Ref
	Err  error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Ref, e.Kind, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// KindOf returns the classification of err, or ErrRejected when err is
// not an AdapterError.
func KindOf(err error) ErrorKind {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ErrRejected
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var ae *AdapterError
	return errors.As(err, &ae) && ae.Kind == ErrTransient
}

// IsConflict reports whether err is a name collision.
func IsConflict(err error) bool {
	var ae *AdapterError
	return errors.As(err, &ae) && ae.Kind == ErrConflict
}

// IsNotFound reports whether err is an absent resource.
func IsNotFound(err error) bool {
	var ae *AdapterError
	return errors.As(err, &ae) && ae.Kind == ErrNotFound
}

var (
	errAlreadyExists = errors.New("already exists")
	errAbsent        = errors.New("not found")
)

// classify wraps a raw control-plane error into an AdapterError.
// Collisions, absences, and well-formed API rejections are definitive;
// everything else (timeouts, throttling, plain network errors) is
// Transient.
func classify(op string, ref manifest.Ref, err error) *AdapterError {
	var kind ErrorKind
	switch {
	case apierrors.IsAlreadyExists(err):
		kind = ErrConflict
	case apierrors.IsNotFound(err):
		kind = ErrNotFound
	case apierrors.IsInvalid(err),
		apierrors.IsBadRequest(err),
		apierrors.IsForbidden(err),
		apierrors.IsMethodNotSupported(err),
		apierrors.IsRequestEntityTooLargeError(err):
		kind = ErrRejected
	default:
		kind = ErrTransient
	}
	return &AdapterError{Kind: kind, Op: op, Ref: ref, Err: err}
}

// ResourceStatus is the observed status of a single resource.
type ResourceStatus struct {
	Ref             manifest.Ref
	Phase           string
	ReadyReplicas   int
	DesiredReplicas int
	Used            domain.ObservedUsage
}

// ClusterOverview summarizes cluster and environment health for the
// operator dashboard.
type ClusterOverview struct {
	TotalNodes   int `json:"total_nodes"`
	ReadyNodes   int `json:"ready_nodes"`
	TotalPods    int `json:"total_pods"`
	RunningPods  int `json:"running_pods"`
	PendingPods  int `json:"pending_pods"`
	FailedPods   int `json:"failed_pods"`
	Environments struct {
		Total   int `json:"total"`
		Active  int `json:"active"`
		Pending int `json:"pending"`
		Failed  int `json:"failed"`
	} `json:"environments"`
}

// Adapter is the capability interface to the cluster control plane.
type Adapter interface {
	// CreateResource submits one resource. A duplicate name fails with
	// an ErrConflict AdapterError; the cluster's atomic collision
	// detection is the authoritative uniqueness check.
	CreateResource(ctx context.Context, res manifest.Resource) error

	// GetResource reads one resource's observed status. Absent
	// resources fail with ErrNotFound.
	GetResource(ctx context.Context, ref manifest.Ref) (*ResourceStatus, error)

	// DeleteResource removes one resource. Deleting an already-absent
	// resource succeeds.
	DeleteResource(ctx context.Context, ref manifest.Ref) error

	// ListResources lists resources of one kind whose namespace starts
	// with namespacePrefix (empty prefix lists all managed ones).
	ListResources(ctx context.Context, kind manifest.Kind, namespacePrefix string) ([]manifest.Ref, error)

	// ObserveEnvironment reads the composite observed state for one
	// environment identity.
	ObserveEnvironment(ctx context.Context, name string) (*domain.ObservedState, error)

	// Overview summarizes cluster-wide health.
	Overview(ctx context.Context) (*ClusterOverview, error)
}
