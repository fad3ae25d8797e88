// Package quota resolves environment resource policies against the
// global ceiling and classifies observed usage pressure.
package quota

import (
	"math"

	"github.com/hjimin027/kubdev-auto-system/internal/domain"
	apperrors "github.com/hjimin027/kubdev-auto-system/internal/pkg/errors"
)

// PressureLevel classifies usage against allocated quota.
type PressureLevel int

const (
	PressureNormal PressureLevel = iota
	PressureWarning
	PressureCritical
)

func (p PressureLevel) String() string {
	switch p {
	case PressureWarning:
		return "warning"
	case PressureCritical:
		return "critical"
	default:
		return "normal"
	}
}

// DimensionPressure is the evaluation of a single quota dimension.
type DimensionPressure struct {
	Used    int64         `json:"used"`
	Limit   int64         `json:"limit"`
	Percent float64       `json:"percent"`
	Level   PressureLevel `json:"level"`
}

// Pressure is the full evaluation; the overall level is the maximum
// across dimensions.
type Pressure struct {
	CPU     DimensionPressure `json:"cpu"`
	Memory  DimensionPressure `json:"memory"`
	Pods    DimensionPressure `json:"pods"`
	Overall PressureLevel     `json:"overall"`
}

// Governor applies the global ceiling and the pressure thresholds.
// Thresholds are fractions of the allocated quota (0.70 and 0.90 by
// default), configured rather than baked into call sites.
type Governor struct {
	ceiling  domain.QuotaPolicy
	warning  float64
	critical float64
}

// NewGovernor creates a Governor with the given ceiling and
// thresholds.
func NewGovernor(ceiling domain.QuotaPolicy, warning, critical float64) *Governor {
	return &Governor{ceiling: ceiling, warning: warning, critical: critical}
}

// Ceiling returns the global ceiling the governor enforces.
func (g *Governor) Ceiling() domain.QuotaPolicy { return g.ceiling }

// Resolve merges template defaults with request overrides. An override
// dimension of zero means "not provided" and falls back to the
// default. Any resolved dimension above the global ceiling is a hard
// rejection, never a silent clamp.
func (g *Governor) Resolve(defaults domain.QuotaPolicy, override *domain.QuotaPolicy) (domain.QuotaPolicy, error) {
	resolved := defaults
	if override != nil {
		if override.CPUMillis > 0 {
			resolved.CPUMillis = override.CPUMillis
		}
		if override.MemoryBytes > 0 {
			resolved.MemoryBytes = override.MemoryBytes
		}
		if override.StorageBytes > 0 {
			resolved.StorageBytes = override.StorageBytes
		}
		if override.MaxPods > 0 {
			resolved.MaxPods = override.MaxPods
		}
		if override.MaxServices > 0 {
			resolved.MaxServices = override.MaxServices
		}
	}

	if resolved.CPUMillis > g.ceiling.CPUMillis {
		return domain.QuotaPolicy{}, apperrors.ErrQuotaExceedsCeilingf("cpu", resolved.CPUMillis, g.ceiling.CPUMillis)
	}
	if resolved.MemoryBytes > g.ceiling.MemoryBytes {
		return domain.QuotaPolicy{}, apperrors.ErrQuotaExceedsCeilingf("memory", resolved.MemoryBytes, g.ceiling.MemoryBytes)
	}
	if resolved.StorageBytes > g.ceiling.StorageBytes {
		return domain.QuotaPolicy{}, apperrors.ErrQuotaExceedsCeilingf("storage", resolved.StorageBytes, g.ceiling.StorageBytes)
	}
	if resolved.MaxPods > g.ceiling.MaxPods {
		return domain.QuotaPolicy{}, apperrors.ErrQuotaExceedsCeilingf("pods", int64(resolved.MaxPods), int64(g.ceiling.MaxPods))
	}
	if resolved.MaxServices > g.ceiling.MaxServices {
		return domain.QuotaPolicy{}, apperrors.ErrQuotaExceedsCeilingf("services", int64(resolved.MaxServices), int64(g.ceiling.MaxServices))
	}

	return resolved, nil
}

// Evaluate classifies observed usage against the allocated policy,
// independently per dimension.
func (g *Governor) Evaluate(policy domain.QuotaPolicy, used domain.ObservedUsage) Pressure {
	p := Pressure{
		CPU:    g.dimension(used.CPUMillis, policy.CPUMillis),
		Memory: g.dimension(used.MemoryBytes, policy.MemoryBytes),
		Pods:   g.dimension(int64(used.Pods), int64(policy.MaxPods)),
	}
	p.Overall = maxLevel(p.CPU.Level, p.Memory.Level, p.Pods.Level)
	return p
}

func (g *Governor) dimension(used, limit int64) DimensionPressure {
	d := DimensionPressure{Used: used, Limit: limit}
	if limit <= 0 {
		return d
	}
	ratio := float64(used) / float64(limit)
	d.Percent = math.Round(ratio*10000) / 100
	switch {
	case ratio >= g.critical:
		d.Level = PressureCritical
	case ratio >= g.warning:
		d.Level = PressureWarning
	}
	return d
}

func maxLevel(levels ...PressureLevel) PressureLevel {
	max := PressureNormal
	for _, l := range levels {
		if l > max {
			max = l
		}
	}
	return max
}
