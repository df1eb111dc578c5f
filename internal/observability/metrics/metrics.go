// Package metrics aggregates in-memory counters and gauges for the control
// plane and exposes them in the Prometheus text format.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates metrics for HTTP requests, application lifecycle
// events, stream pulls, and module registrations. It coordinates concurrent
// writers via a RWMutex while exposing atomic gauges for hot counters.
type Recorder struct {
	mu                sync.RWMutex
	requestCount      map[requestLabel]uint64
	requestDuration   map[requestLabel]time.Duration
	applicationEvents map[string]uint64
	pullAttempts      uint64
	pullFailures      uint64
	registeredModules map[string]int64

	activeApplications atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:      make(map[requestLabel]uint64),
		requestDuration:   make(map[requestLabel]time.Duration),
		applicationEvents: make(map[string]uint64),
		registeredModules: make(map[string]int64),
	}
}

// Default returns the singleton Recorder shared by packages that do not
// require a custom instrumentation pipeline.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest accumulates request count and cumulative duration by HTTP
// method, path, and status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   path,
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ApplicationCreated records a successful create workflow and bumps the
// active-applications gauge.
func (r *Recorder) ApplicationCreated() {
	r.incrementApplicationEvent("created")
	r.activeApplications.Add(1)
}

// ApplicationDeleted records a completed delete workflow and decrements the
// active-applications gauge, guarding against negative counts when concurrent
// updates race.
func (r *Recorder) ApplicationDeleted() {
	r.incrementApplicationEvent("deleted")
	r.decrementGauge(&r.activeApplications)
}

// ApplicationEvent records an arbitrary lifecycle outcome such as
// "create_rejected" or "create_rolled_back".
func (r *Recorder) ApplicationEvent(event string) {
	r.incrementApplicationEvent(event)
}

func (r *Recorder) incrementApplicationEvent(event string) {
	normalized := strings.ToLower(strings.TrimSpace(event))
	if normalized == "" {
		normalized = "unknown"
	}
	r.mu.Lock()
	r.applicationEvents[normalized]++
	r.mu.Unlock()
}

// ObservePullAttempt records a stream pull request.
func (r *Recorder) ObservePullAttempt() {
	r.mu.Lock()
	r.pullAttempts++
	r.mu.Unlock()
}

// ObservePullFailure records a failed stream pull. The caller records the
// attempt separately.
func (r *Recorder) ObservePullFailure() {
	r.mu.Lock()
	r.pullFailures++
	r.mu.Unlock()
}

// ModuleRegistered bumps the per-type registered module gauge.
func (r *Recorder) ModuleRegistered(moduleType string) {
	r.adjustModules(moduleType, 1)
}

// ModuleUnregistered decrements the per-type registered module gauge.
func (r *Recorder) ModuleUnregistered(moduleType string) {
	r.adjustModules(moduleType, -1)
}

func (r *Recorder) adjustModules(moduleType string, delta int64) {
	normalized := strings.ToLower(strings.TrimSpace(moduleType))
	if normalized == "" {
		normalized = "unknown"
	}
	r.mu.Lock()
	value := r.registeredModules[normalized] + delta
	if value < 0 {
		value = 0
	}
	r.registeredModules[normalized] = value
	r.mu.Unlock()
}

// ActiveApplications exposes the current gauge of live applications.
func (r *Recorder) ActiveApplications() int64 {
	return r.activeApplications.Load()
}

// PullCounts returns the pull attempt and failure counters.
func (r *Recorder) PullCounts() (attempts, failures uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pullAttempts, r.pullFailures
}

// ApplicationEventCounts returns a copy of the lifecycle event counters.
func (r *Recorder) ApplicationEventCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]uint64, len(r.applicationEvents))
	for k, v := range r.applicationEvents {
		out[k] = v
	}
	return out
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// Reset clears all counters and gauges. It is intended for test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.applicationEvents = make(map[string]uint64)
	r.registeredModules = make(map[string]int64)
	r.pullAttempts = 0
	r.pullFailures = 0
	r.mu.Unlock()
	r.activeApplications.Store(0)
}

// Handler returns an http.Handler rendering the recorder in the Prometheus
// text exposition format.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders all metrics to the writer, sorting label sets to provide
// stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	applicationEvents := sortedKeys(r.applicationEvents)
	moduleTypes := sortedKeys(r.registeredModules)

	fmt.Fprintln(w, "# HELP streamgate_http_requests_total Total number of HTTP requests processed by the control API")
	fmt.Fprintln(w, "# TYPE streamgate_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "streamgate_http_requests_total{method=%q,path=%q,status=%q} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP streamgate_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE streamgate_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "streamgate_http_request_duration_seconds_sum{method=%q,path=%q,status=%q} %f\n", label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP streamgate_application_events_total Application lifecycle events by type")
	fmt.Fprintln(w, "# TYPE streamgate_application_events_total counter")
	for _, event := range applicationEvents {
		fmt.Fprintf(w, "streamgate_application_events_total{event=%q} %d\n", event, r.applicationEvents[event])
	}

	fmt.Fprintln(w, "# HELP streamgate_active_applications Current number of live applications")
	fmt.Fprintln(w, "# TYPE streamgate_active_applications gauge")
	fmt.Fprintf(w, "streamgate_active_applications %d\n", r.activeApplications.Load())

	fmt.Fprintln(w, "# HELP streamgate_pull_attempts_total Total stream pull requests")
	fmt.Fprintln(w, "# TYPE streamgate_pull_attempts_total counter")
	fmt.Fprintf(w, "streamgate_pull_attempts_total %d\n", r.pullAttempts)

	fmt.Fprintln(w, "# HELP streamgate_pull_failures_total Total failed stream pull requests")
	fmt.Fprintln(w, "# TYPE streamgate_pull_failures_total counter")
	fmt.Fprintf(w, "streamgate_pull_failures_total %d\n", r.pullFailures)

	fmt.Fprintln(w, "# HELP streamgate_registered_modules Currently registered modules by type")
	fmt.Fprintln(w, "# TYPE streamgate_registered_modules gauge")
	for _, moduleType := range moduleTypes {
		fmt.Fprintf(w, "streamgate_registered_modules{type=%q} %d\n", moduleType, r.registeredModules[moduleType])
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
