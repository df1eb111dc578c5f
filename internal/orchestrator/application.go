package orchestrator

import (
	"math"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ApplicationID identifies an application registered with the orchestrator.
type ApplicationID uint32

const (
	// MinApplicationID is the smallest id the allocator hands out.
	MinApplicationID ApplicationID = 0
	// MaxApplicationID is the largest id the allocator hands out.
	MaxApplicationID ApplicationID = math.MaxUint32 - 1
	// InvalidApplicationID is a reserved sentinel meaning "no such
	// application". It is never allocated.
	InvalidApplicationID ApplicationID = math.MaxUint32
)

// DefaultMaxApplications bounds how many applications may be live at once
// unless overridden with WithMaxApplications. The cap keeps the id allocator
// far away from an exhausted id space.
const DefaultMaxApplications = 4096

// ApplicationConfig describes an application to be created. The orchestrator
// treats everything beyond the name as opaque and hands it back to modules
// unchanged.
type ApplicationConfig struct {
	Name    string            `json:"name"`
	Options map[string]string `json:"options,omitempty"`
}

// Application is an immutable view of a registered application. The registry
// owns the authoritative record; callers always receive copies.
type Application struct {
	id     ApplicationID
	name   string
	config ApplicationConfig
}

func newApplication(id ApplicationID, config ApplicationConfig) Application {
	return Application{id: id, name: config.Name, config: config}
}

var invalidApplication = Application{id: InvalidApplicationID}

// ID returns the allocated application id, or InvalidApplicationID when the
// application is the not-found sentinel.
func (a Application) ID() ApplicationID {
	return a.id
}

// Name returns the application name.
func (a Application) Name() string {
	return a.name
}

// Config returns the configuration the application was created with.
func (a Application) Config() ApplicationConfig {
	return a.config
}

// IsValid reports whether the value refers to a registered application.
// Lookups return an invalid Application instead of an error when nothing
// matches, so call sites can chain a lookup and test validity inline.
func (a Application) IsValid() bool {
	return a.id != InvalidApplicationID
}

// normalizeName trims surrounding whitespace and applies NFC so that names
// arriving from configuration files and request payloads compare equal
// regardless of their Unicode spelling.
func normalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}
