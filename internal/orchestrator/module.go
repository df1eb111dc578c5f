package orchestrator

import (
	"errors"
	"fmt"
	"strings"
)

// ModuleType distinguishes the roles a module can register as.
type ModuleType int

const (
	ModuleTypeUnknown ModuleType = iota
	ModuleTypeProvider
	ModuleTypePublisher
)

// String returns the lowercase name used in logs and API payloads.
func (t ModuleType) String() string {
	switch t {
	case ModuleTypeProvider:
		return "provider"
	case ModuleTypePublisher:
		return "publisher"
	default:
		return "unknown"
	}
}

// ProviderKind identifies the ingest protocol a provider module speaks.
type ProviderKind int

const (
	ProviderKindUnknown ProviderKind = iota
	ProviderKindRTMP
	ProviderKindRTSP
	ProviderKindOVT
)

// String returns the lowercase scheme name for the kind.
func (k ProviderKind) String() string {
	switch k {
	case ProviderKindRTMP:
		return "rtmp"
	case ProviderKindRTSP:
		return "rtsp"
	case ProviderKindOVT:
		return "ovt"
	default:
		return "unknown"
	}
}

// ErrUnsupportedScheme is returned when an origin rule names a URL scheme no
// provider kind maps to.
var ErrUnsupportedScheme = errors.New("unsupported url scheme")

// ParseProviderKind maps an origin scheme to the provider kind that can pull
// it. Comparison is case-insensitive.
func ParseProviderKind(scheme string) (ProviderKind, error) {
	switch strings.ToLower(strings.TrimSpace(scheme)) {
	case "rtmp":
		return ProviderKindRTMP, nil
	case "rtsp":
		return ProviderKindRTSP, nil
	case "ovt":
		return ProviderKindOVT, nil
	default:
		return ProviderKindUnknown, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
}

// Module is the contract every attached provider or publisher implements.
//
// Lifecycle callbacks are invoked while the orchestrator holds its registry
// locks: implementations must not call back into the orchestrator and must
// return promptly, since a stalled callback stalls the whole control plane.
// Implementations must be comparable (pointer receivers are); the registry
// uses reference identity to enforce uniqueness.
type Module interface {
	// ModuleType declares the role the module registers as.
	ModuleType() ModuleType
	// OnCreateApplication is invoked after an application record is
	// inserted. Returning an error rejects the creation and triggers the
	// rollback of the whole workflow.
	OnCreateApplication(app Application) error
	// OnDeleteApplication is invoked after an application record is
	// removed. Errors are reported in the aggregate result but do not
	// resurrect the record.
	OnDeleteApplication(app Application) error
}

// ProviderModule is the capability set of stream-source modules. PullStream
// runs under the orchestrator locks like the lifecycle callbacks.
type ProviderModule interface {
	Module
	// ProviderKind declares which scheme this provider can pull.
	ProviderKind() ProviderKind
	// PullStream fetches the named stream for the application from one of
	// the candidate upstream URLs.
	PullStream(app Application, streamName string, urls []string) error
}

// ModuleInfo is a read-only snapshot of a registered module, in registration
// order.
type ModuleInfo struct {
	Type ModuleType
	Kind ProviderKind
}
