package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"streamgate/internal/events"
	"streamgate/internal/journal"
	"streamgate/internal/observability/metrics"
)

// Result is the outcome of an application lifecycle operation.
type Result int

const (
	ResultFailed Result = iota
	ResultSucceeded
	ResultExists
	ResultNotExists
)

// String returns the lowercase name used in logs, journal entries, and API
// payloads.
func (r Result) String() string {
	switch r {
	case ResultSucceeded:
		return "succeeded"
	case ResultExists:
		return "exists"
	case ResultNotExists:
		return "not_exists"
	default:
		return "failed"
	}
}

var (
	// ErrNilModule is returned when a nil module handle is registered or
	// unregistered.
	ErrNilModule = errors.New("module is nil")
	// ErrModuleRegistered is returned when the same module handle is
	// registered twice, regardless of its declared type.
	ErrModuleRegistered = errors.New("module is already registered")
	// ErrModuleNotFound is returned when unregistering a handle that was
	// never registered.
	ErrModuleNotFound = errors.New("module is not registered")
	// ErrNoProviderForScheme is returned when a pull resolves to a scheme
	// no registered provider declares.
	ErrNoProviderForScheme = errors.New("no provider registered for scheme")
	// ErrNoOriginForLocation is returned when no origin rule matches the
	// requested location.
	ErrNoOriginForLocation = errors.New("no origin configured for location")
)

type moduleEntry struct {
	moduleType ModuleType
	module     Module
}

// Orchestrator owns the shared control-plane state: the module registry, the
// application registry, and the origin map. Each is guarded by its own lock;
// operations that touch more than one acquire them in the fixed order module
// registry, application registry, origin map. Every new operation must keep
// that order.
type Orchestrator struct {
	logger          *slog.Logger
	metrics         *metrics.Recorder
	journal         journal.Recorder
	events          events.Queue
	maxApplications int

	modulesMu     sync.Mutex
	modules       []moduleEntry
	modulesByType map[ModuleType][]Module

	appsMu    sync.RWMutex
	apps      map[ApplicationID]Application
	lastAppID ApplicationID

	originsMu sync.Mutex
	origins   []origin
}

// Option mutates orchestrator configuration.
type Option func(*Orchestrator)

// WithLogger installs the logger used for workflow and error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics installs the metrics recorder.
func WithMetrics(recorder *metrics.Recorder) Option {
	return func(o *Orchestrator) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// WithJournal installs an operation journal. Appending is best-effort; a
// failing journal never fails a workflow.
func WithJournal(recorder journal.Recorder) Option {
	return func(o *Orchestrator) {
		o.journal = recorder
	}
}

// WithEvents installs a lifecycle event queue. Publishing is best-effort.
func WithEvents(queue events.Queue) Option {
	return func(o *Orchestrator) {
		o.events = queue
	}
}

// WithMaxApplications overrides the live application cap. Values below one
// keep the default.
func WithMaxApplications(limit int) Option {
	return func(o *Orchestrator) {
		if limit > 0 {
			o.maxApplications = limit
		}
	}
}

// New constructs an orchestrator with empty registries.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		logger:          slog.Default(),
		metrics:         metrics.Default(),
		maxApplications: DefaultMaxApplications,
		modulesByType:   make(map[ModuleType][]Module),
		apps:            make(map[ApplicationID]Application),
		lastAppID:       InvalidApplicationID,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RegisterModule attaches a provider or publisher module. Registration never
// invokes module callbacks; only application create/delete do. Registering a
// nil handle or the same handle twice indicates a collaborator bug and is
// rejected without mutating the registry.
func (o *Orchestrator) RegisterModule(module Module) error {
	if module == nil {
		o.logger.Error("refusing to register nil module")
		return ErrNilModule
	}

	moduleType := module.ModuleType()

	o.modulesMu.Lock()
	defer o.modulesMu.Unlock()

	for _, entry := range o.modules {
		if entry.module == module {
			o.logger.Error("module is already registered",
				"type", entry.moduleType.String(),
				"registering_as", moduleType.String())
			return ErrModuleRegistered
		}
	}

	o.modules = append(o.modules, moduleEntry{moduleType: moduleType, module: module})
	o.modulesByType[moduleType] = append(o.modulesByType[moduleType], module)
	o.metrics.ModuleRegistered(moduleType.String())

	o.logger.Debug("module registered", "type", moduleType.String())
	return nil
}

// UnregisterModule detaches a previously registered module. The orchestrator
// never owned the module; it only stops indexing it.
func (o *Orchestrator) UnregisterModule(module Module) error {
	if module == nil {
		o.logger.Error("refusing to unregister nil module")
		return ErrNilModule
	}

	o.modulesMu.Lock()
	defer o.modulesMu.Unlock()

	for i, entry := range o.modules {
		if entry.module != module {
			continue
		}
		o.modules = append(o.modules[:i], o.modules[i+1:]...)
		byType := o.modulesByType[entry.moduleType]
		for j, m := range byType {
			if m == module {
				o.modulesByType[entry.moduleType] = append(byType[:j], byType[j+1:]...)
				break
			}
		}
		o.metrics.ModuleUnregistered(entry.moduleType.String())
		o.logger.Debug("module unregistered", "type", entry.moduleType.String())
		return nil
	}

	o.logger.Error("module is not registered", "type", module.ModuleType().String())
	return ErrModuleNotFound
}

// ModulesByType returns the registered modules of the given type in
// registration order.
func (o *Orchestrator) ModulesByType(moduleType ModuleType) []Module {
	o.modulesMu.Lock()
	defer o.modulesMu.Unlock()
	return append([]Module(nil), o.modulesByType[moduleType]...)
}

// ModuleSnapshot returns read-only descriptions of all registered modules in
// registration order.
func (o *Orchestrator) ModuleSnapshot() []ModuleInfo {
	o.modulesMu.Lock()
	defer o.modulesMu.Unlock()

	infos := make([]ModuleInfo, 0, len(o.modules))
	for _, entry := range o.modules {
		info := ModuleInfo{Type: entry.moduleType}
		if provider, ok := entry.module.(ProviderModule); ok {
			info.Kind = provider.ProviderKind()
		}
		infos = append(infos, info)
	}
	return infos
}

// providerForSchemeLocked resolves the scheme to a provider kind and scans
// provider modules in registration order, returning the first whose declared
// kind matches. The scan is linear by design: the registry is bounded by the
// configured module count and the first eligible module must win. Callers
// must hold modulesMu.
func (o *Orchestrator) providerForSchemeLocked(scheme string) (ProviderModule, error) {
	kind, err := ParseProviderKind(scheme)
	if err != nil {
		return nil, err
	}

	for _, entry := range o.modules {
		if entry.moduleType != ModuleTypeProvider {
			continue
		}
		provider, ok := entry.module.(ProviderModule)
		if !ok {
			// A module registered as a provider must implement the
			// provider capability set; anything else is a
			// collaborator bug.
			o.logger.Error("registered provider does not implement ProviderModule")
			continue
		}
		if provider.ProviderKind() == kind {
			return provider, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrNoProviderForScheme, kind)
}

// CreateApplication registers a new application and notifies every module in
// registration order. If any module rejects the creation, modules that had
// already accepted receive a matching delete notification and the record is
// removed again.
func (o *Orchestrator) CreateApplication(config ApplicationConfig) Result {
	config.Name = normalizeName(config.Name)
	if config.Name == "" {
		o.logger.Error("application name is required")
		return ResultFailed
	}

	o.modulesMu.Lock()
	o.appsMu.Lock()
	result, app := o.createApplicationLocked(config)
	o.appsMu.Unlock()
	o.modulesMu.Unlock()

	o.recordLifecycle(journal.OpCreateApplication, app, config.Name, "", result)
	return result
}

// createApplicationLocked implements the create workflow. Callers must hold
// modulesMu and appsMu in that order.
func (o *Orchestrator) createApplicationLocked(config ApplicationConfig) (Result, Application) {
	for _, app := range o.apps {
		if app.name == config.Name {
			return ResultExists, app
		}
	}

	if len(o.apps) >= o.maxApplications {
		o.logger.Warn("application limit reached",
			"name", config.Name,
			"limit", o.maxApplications)
		return ResultFailed, invalidApplication
	}

	id := o.nextApplicationIDLocked()
	if id == InvalidApplicationID {
		o.logger.Error("application id space exhausted", "name", config.Name)
		return ResultFailed, invalidApplication
	}

	o.logger.Info("creating application", "name", config.Name, "id", uint32(id))

	app := newApplication(id, config)

	// Insert before notifying so a module can look the application up by
	// id from within its callback path.
	o.apps[id] = app
	o.metrics.ApplicationCreated()

	created := make([]Module, 0, len(o.modules))
	for _, entry := range o.modules {
		if err := entry.module.OnCreateApplication(app); err != nil {
			o.logger.Error("module rejected application creation",
				"name", config.Name,
				"module_type", entry.moduleType.String(),
				"error", err)
			// Unwind: remove the record and let modules that had
			// accepted release whatever they set up. Secondary
			// failures are logged inside and otherwise ignored.
			o.deleteApplicationLocked(id, created)
			o.metrics.ApplicationEvent("create_rolled_back")
			return ResultFailed, invalidApplication
		}
		created = append(created, entry.module)
	}

	return ResultSucceeded, app
}

// DeleteApplication removes the application and notifies every registered
// module. Deletion is irreversible once the record is removed: module errors
// are reported in the aggregate result but do not stop the remaining
// notifications.
func (o *Orchestrator) DeleteApplication(id ApplicationID) Result {
	o.modulesMu.Lock()
	o.appsMu.Lock()
	modules := make([]Module, 0, len(o.modules))
	for _, entry := range o.modules {
		modules = append(modules, entry.module)
	}
	result, app := o.deleteApplicationLocked(id, modules)
	o.appsMu.Unlock()
	o.modulesMu.Unlock()

	o.recordLifecycle(journal.OpDeleteApplication, app, app.name, "", result)
	return result
}

// deleteApplicationLocked removes the record and notifies the given modules
// in order. Callers must hold modulesMu and appsMu in that order.
func (o *Orchestrator) deleteApplicationLocked(id ApplicationID, modules []Module) (Result, Application) {
	app, ok := o.apps[id]
	if !ok {
		o.logger.Info("application does not exist", "id", uint32(id))
		return ResultNotExists, invalidApplication
	}

	o.logger.Info("deleting application", "name", app.name, "id", uint32(id))

	delete(o.apps, id)
	o.metrics.ApplicationDeleted()

	result := ResultSucceeded
	for _, module := range modules {
		if err := module.OnDeleteApplication(app); err != nil {
			o.logger.Error("module failed to delete application",
				"name", app.name,
				"module_type", module.ModuleType().String(),
				"error", err)
			// Keep notifying the remaining modules; the record is
			// already gone.
			result = ResultFailed
		}
	}
	return result, app
}

// nextApplicationIDLocked hands out the next free id, wrapping past
// MaxApplicationID. The sweep is bounded: once every live id has been probed
// plus one, a free id must have been found, so a full sweep without success
// means the id space is exhausted and the invalid sentinel is returned
// instead of looping forever. Callers must hold appsMu.
func (o *Orchestrator) nextApplicationIDLocked() ApplicationID {
	for probes := 0; probes <= len(o.apps)+1; probes++ {
		o.lastAppID++
		if o.lastAppID == InvalidApplicationID {
			o.lastAppID = MinApplicationID
		}
		if _, exists := o.apps[o.lastAppID]; !exists {
			return o.lastAppID
		}
	}
	return InvalidApplicationID
}

// GetApplication looks up an application by name. Absence is reported by the
// invalid sentinel, never an error: lookups are chained inline at call sites.
func (o *Orchestrator) GetApplication(name string) Application {
	name = normalizeName(name)

	o.appsMu.RLock()
	defer o.appsMu.RUnlock()
	return o.applicationByNameLocked(name)
}

// GetApplicationByID looks up an application by id, with the same sentinel
// convention as GetApplication.
func (o *Orchestrator) GetApplicationByID(id ApplicationID) Application {
	o.appsMu.RLock()
	defer o.appsMu.RUnlock()

	if app, ok := o.apps[id]; ok {
		return app
	}
	return invalidApplication
}

// Applications returns a copy of all live applications sorted by id.
func (o *Orchestrator) Applications() []Application {
	o.appsMu.RLock()
	apps := make([]Application, 0, len(o.apps))
	for _, app := range o.apps {
		apps = append(apps, app)
	}
	o.appsMu.RUnlock()

	sort.Slice(apps, func(i, j int) bool { return apps[i].id < apps[j].id })
	return apps
}

func (o *Orchestrator) applicationByNameLocked(name string) Application {
	for _, app := range o.apps {
		if app.name == name {
			return app
		}
	}
	return invalidApplication
}

// RequestPullStream satisfies a request for a stream that is not yet being
// served: it resolves the origin map, finds the provider for the resolved
// scheme, reuses or lazily creates the application, and asks the provider to
// pull. When the pull fails, only an application this request itself created
// is rolled back; a pre-existing application may be serving unrelated streams
// and is left intact.
func (o *Orchestrator) RequestPullStream(appName, streamName string) error {
	appName = normalizeName(appName)
	streamName = normalizeName(streamName)

	o.metrics.ObservePullAttempt()

	o.modulesMu.Lock()
	o.appsMu.Lock()
	o.originsMu.Lock()
	outcome, err := o.requestPullStreamLocked(appName, streamName)
	o.originsMu.Unlock()
	o.appsMu.Unlock()
	o.modulesMu.Unlock()

	// A lazily created application goes through the same create workflow as
	// an explicit one, so it is journaled and evented the same way.
	if outcome.created {
		o.recordLifecycle(journal.OpCreateApplication, outcome.app, appName, "", ResultSucceeded)
	}

	if err != nil {
		o.metrics.ObservePullFailure()
		o.recordPull(outcome.app, appName, streamName, err)
		if outcome.rolledBack {
			o.recordLifecycle(journal.OpDeleteApplication, outcome.app, appName, "", outcome.rollbackResult)
		}
		return err
	}

	o.logger.Info("stream pulled", "application", appName, "stream", streamName)
	o.recordPull(outcome.app, appName, streamName, nil)
	return nil
}

// pullOutcome reports which registry changes a pull request made so the
// caller can journal them once the locks are released.
type pullOutcome struct {
	app            Application
	created        bool
	rolledBack     bool
	rollbackResult Result
}

func (o *Orchestrator) requestPullStreamLocked(appName, streamName string) (pullOutcome, error) {
	outcome := pullOutcome{app: invalidApplication}

	ogn, urls, ok := o.resolveOriginLocked(appName, streamName)
	if !ok {
		return outcome, fmt.Errorf("%w: /%s/%s", ErrNoOriginForLocation, appName, streamName)
	}

	provider, err := o.providerForSchemeLocked(ogn.scheme)
	if err != nil {
		return outcome, fmt.Errorf("find provider for /%s/%s: %w", appName, streamName, err)
	}

	outcome.app = o.applicationByNameLocked(appName)
	if !outcome.app.IsValid() {
		result, app := o.createApplicationLocked(ApplicationConfig{Name: appName})
		if result != ResultSucceeded {
			outcome.app = invalidApplication
			return outcome, fmt.Errorf("create application %q for pull: %s", appName, result)
		}
		outcome.app = app
		outcome.created = true
	}

	o.logger.Info("pulling stream",
		"application", appName,
		"stream", streamName,
		"provider", provider.ProviderKind().String(),
		"urls", len(urls))

	if err := provider.PullStream(outcome.app, streamName, urls); err != nil {
		if outcome.created {
			// Roll back only the state this request introduced.
			modules := make([]Module, 0, len(o.modules))
			for _, entry := range o.modules {
				modules = append(modules, entry.module)
			}
			result, _ := o.deleteApplicationLocked(outcome.app.id, modules)
			outcome.rolledBack = true
			outcome.rollbackResult = result
		}
		return outcome, fmt.Errorf("pull stream /%s/%s: %w", appName, streamName, err)
	}

	return outcome, nil
}

// recordLifecycle journals a create/delete outcome and publishes the matching
// lifecycle event. Both are observability side-channels invoked after the
// registry locks are released; failures are logged and ignored.
func (o *Orchestrator) recordLifecycle(op string, app Application, name, stream string, result Result) {
	now := time.Now().UTC()
	if o.journal != nil {
		entry := journal.Entry{
			Op:            op,
			Application:   name,
			ApplicationID: uint32(app.id),
			Stream:        stream,
			Result:        result.String(),
			OccurredAt:    now,
		}
		if err := o.journal.Append(context.Background(), entry); err != nil {
			o.logger.Warn("journal append failed", "op", op, "error", err)
		}
	}
	if o.events == nil || result != ResultSucceeded {
		return
	}
	eventType := events.TypeApplicationCreated
	if op == journal.OpDeleteApplication {
		eventType = events.TypeApplicationDeleted
	}
	event := events.Event{
		Type:          eventType,
		Application:   name,
		ApplicationID: uint32(app.id),
		OccurredAt:    now,
	}
	if err := o.events.Publish(context.Background(), event); err != nil {
		o.logger.Warn("event publish failed", "type", string(eventType), "error", err)
	}
}

func (o *Orchestrator) recordPull(app Application, appName, streamName string, pullErr error) {
	now := time.Now().UTC()
	result := ResultSucceeded
	detail := ""
	eventType := events.TypeStreamPulled
	if pullErr != nil {
		result = ResultFailed
		detail = pullErr.Error()
		eventType = events.TypeStreamPullFailed
	}
	if o.journal != nil {
		entry := journal.Entry{
			Op:            journal.OpPullStream,
			Application:   appName,
			ApplicationID: uint32(app.id),
			Stream:        streamName,
			Result:        result.String(),
			Detail:        detail,
			OccurredAt:    now,
		}
		if err := o.journal.Append(context.Background(), entry); err != nil {
			o.logger.Warn("journal append failed", "op", journal.OpPullStream, "error", err)
		}
	}
	if o.events != nil {
		event := events.Event{
			Type:          eventType,
			Application:   appName,
			ApplicationID: uint32(app.id),
			Stream:        streamName,
			Detail:        detail,
			OccurredAt:    now,
		}
		if err := o.events.Publish(context.Background(), event); err != nil {
			o.logger.Warn("event publish failed", "type", string(eventType), "error", err)
		}
	}
}
