package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"streamgate/internal/events"
	"streamgate/internal/journal"
	"streamgate/internal/observability/metrics"
)

type fakeModule struct {
	moduleType ModuleType
	createErr  error
	deleteErr  error

	mu      sync.Mutex
	created []string
	deleted []string
}

func newFakeModule(moduleType ModuleType) *fakeModule {
	return &fakeModule{moduleType: moduleType}
}

func (m *fakeModule) ModuleType() ModuleType {
	return m.moduleType
}

func (m *fakeModule) OnCreateApplication(app Application) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	m.created = append(m.created, app.Name())
	m.mu.Unlock()
	return nil
}

func (m *fakeModule) OnDeleteApplication(app Application) error {
	m.mu.Lock()
	m.deleted = append(m.deleted, app.Name())
	m.mu.Unlock()
	return m.deleteErr
}

func (m *fakeModule) createdNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.created...)
}

func (m *fakeModule) deletedNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

type fakeProvider struct {
	fakeModule
	kind    ProviderKind
	pullErr error

	pullMu sync.Mutex
	pulls  []pullRequest
}

type pullRequest struct {
	app    string
	stream string
	urls   []string
}

func newFakeProvider(kind ProviderKind) *fakeProvider {
	return &fakeProvider{fakeModule: fakeModule{moduleType: ModuleTypeProvider}, kind: kind}
}

func (p *fakeProvider) ProviderKind() ProviderKind {
	return p.kind
}

func (p *fakeProvider) PullStream(app Application, streamName string, urls []string) error {
	if p.pullErr != nil {
		return p.pullErr
	}
	p.pullMu.Lock()
	p.pulls = append(p.pulls, pullRequest{app: app.Name(), stream: streamName, urls: append([]string(nil), urls...)})
	p.pullMu.Unlock()
	return nil
}

func (p *fakeProvider) pullRequests() []pullRequest {
	p.pullMu.Lock()
	defer p.pullMu.Unlock()
	return append([]pullRequest(nil), p.pulls...)
}

func newTestOrchestrator(opts ...Option) *Orchestrator {
	opts = append([]Option{WithMetrics(metrics.New())}, opts...)
	return New(opts...)
}

func TestRegisterModuleRejectsNilAndDuplicates(t *testing.T) {
	orc := newTestOrchestrator()

	if err := orc.RegisterModule(nil); !errors.Is(err, ErrNilModule) {
		t.Fatalf("expected ErrNilModule, got %v", err)
	}

	module := newFakeModule(ModuleTypePublisher)
	if err := orc.RegisterModule(module); err != nil {
		t.Fatalf("RegisterModule returned error: %v", err)
	}
	if err := orc.RegisterModule(module); !errors.Is(err, ErrModuleRegistered) {
		t.Fatalf("expected ErrModuleRegistered, got %v", err)
	}

	other := newFakeModule(ModuleTypePublisher)
	if err := orc.UnregisterModule(other); !errors.Is(err, ErrModuleNotFound) {
		t.Fatalf("expected ErrModuleNotFound, got %v", err)
	}
	if err := orc.UnregisterModule(nil); !errors.Is(err, ErrNilModule) {
		t.Fatalf("expected ErrNilModule, got %v", err)
	}

	if err := orc.UnregisterModule(module); err != nil {
		t.Fatalf("UnregisterModule returned error: %v", err)
	}
	if err := orc.UnregisterModule(module); !errors.Is(err, ErrModuleNotFound) {
		t.Fatalf("expected ErrModuleNotFound after unregister, got %v", err)
	}
}

func TestModulesByTypeKeepsRegistrationOrder(t *testing.T) {
	orc := newTestOrchestrator()
	first := newFakeProvider(ProviderKindRTMP)
	second := newFakeProvider(ProviderKindOVT)
	publisher := newFakeModule(ModuleTypePublisher)

	for _, module := range []Module{first, publisher, second} {
		if err := orc.RegisterModule(module); err != nil {
			t.Fatalf("RegisterModule returned error: %v", err)
		}
	}

	providers := orc.ModulesByType(ModuleTypeProvider)
	if len(providers) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(providers))
	}
	if providers[0] != Module(first) || providers[1] != Module(second) {
		t.Fatal("providers are not in registration order")
	}

	infos := orc.ModuleSnapshot()
	if len(infos) != 3 {
		t.Fatalf("expected 3 module infos, got %d", len(infos))
	}
	if infos[0].Type != ModuleTypeProvider || infos[0].Kind != ProviderKindRTMP {
		t.Fatalf("unexpected first module info: %+v", infos[0])
	}
	if infos[1].Type != ModuleTypePublisher {
		t.Fatalf("unexpected second module info: %+v", infos[1])
	}
}

func TestCreateApplication(t *testing.T) {
	orc := newTestOrchestrator()
	module := newFakeModule(ModuleTypePublisher)
	if err := orc.RegisterModule(module); err != nil {
		t.Fatalf("RegisterModule returned error: %v", err)
	}

	if result := orc.CreateApplication(ApplicationConfig{Name: "live"}); result != ResultSucceeded {
		t.Fatalf("expected succeeded, got %s", result)
	}
	app := orc.GetApplication("live")
	if !app.IsValid() {
		t.Fatal("expected application to be registered")
	}
	if got := orc.GetApplicationByID(app.ID()); got.Name() != "live" {
		t.Fatalf("lookup by id returned %q", got.Name())
	}
	if names := module.createdNames(); len(names) != 1 || names[0] != "live" {
		t.Fatalf("unexpected create notifications: %v", names)
	}

	if result := orc.CreateApplication(ApplicationConfig{Name: "live"}); result != ResultExists {
		t.Fatalf("expected exists for duplicate name, got %s", result)
	}
	if result := orc.CreateApplication(ApplicationConfig{Name: "  live  "}); result != ResultExists {
		t.Fatalf("expected exists for padded duplicate, got %s", result)
	}
	if result := orc.CreateApplication(ApplicationConfig{Name: "   "}); result != ResultFailed {
		t.Fatalf("expected failed for blank name, got %s", result)
	}
	if names := module.createdNames(); len(names) != 1 {
		t.Fatalf("duplicate creates must not notify modules, got %v", names)
	}
}

func TestCreateApplicationNormalizesUnicodeNames(t *testing.T) {
	orc := newTestOrchestrator()

	// "café" spelled with a combining acute accent.
	decomposed := "café"
	if result := orc.CreateApplication(ApplicationConfig{Name: decomposed}); result != ResultSucceeded {
		t.Fatalf("expected succeeded, got %s", result)
	}
	if result := orc.CreateApplication(ApplicationConfig{Name: "café"}); result != ResultExists {
		t.Fatalf("expected exists for composed spelling, got %s", result)
	}
	if app := orc.GetApplication(decomposed); !app.IsValid() {
		t.Fatal("expected lookup via decomposed spelling to succeed")
	}
}

func TestCreateApplicationRollsBackOnModuleRejection(t *testing.T) {
	orc := newTestOrchestrator()
	accepted := newFakeModule(ModuleTypeProvider)
	rejecting := newFakeModule(ModuleTypePublisher)
	rejecting.createErr = errors.New("no capacity")
	never := newFakeModule(ModuleTypePublisher)

	for _, module := range []Module{accepted, rejecting, never} {
		if err := orc.RegisterModule(module); err != nil {
			t.Fatalf("RegisterModule returned error: %v", err)
		}
	}

	if result := orc.CreateApplication(ApplicationConfig{Name: "live"}); result != ResultFailed {
		t.Fatalf("expected failed, got %s", result)
	}
	if app := orc.GetApplication("live"); app.IsValid() {
		t.Fatal("expected application record to be rolled back")
	}
	if names := accepted.deletedNames(); len(names) != 1 || names[0] != "live" {
		t.Fatalf("expected the accepting module to see the rollback delete, got %v", names)
	}
	if names := rejecting.deletedNames(); len(names) != 0 {
		t.Fatalf("rejecting module must not see a delete, got %v", names)
	}
	if names := never.deletedNames(); len(names) != 0 {
		t.Fatalf("module after the rejection must not see a delete, got %v", names)
	}

	// The name is free again once the rejection is gone.
	rejecting.createErr = nil
	if result := orc.CreateApplication(ApplicationConfig{Name: "live"}); result != ResultSucceeded {
		t.Fatalf("expected succeeded after rollback, got %s", result)
	}
}

func TestDeleteApplication(t *testing.T) {
	orc := newTestOrchestrator()
	module := newFakeModule(ModuleTypePublisher)
	if err := orc.RegisterModule(module); err != nil {
		t.Fatalf("RegisterModule returned error: %v", err)
	}

	if result := orc.CreateApplication(ApplicationConfig{Name: "live"}); result != ResultSucceeded {
		t.Fatalf("expected succeeded, got %s", result)
	}
	app := orc.GetApplication("live")

	if result := orc.DeleteApplication(app.ID()); result != ResultSucceeded {
		t.Fatalf("expected succeeded, got %s", result)
	}
	if orc.GetApplication("live").IsValid() {
		t.Fatal("expected application to be removed")
	}
	if names := module.deletedNames(); len(names) != 1 || names[0] != "live" {
		t.Fatalf("unexpected delete notifications: %v", names)
	}

	if result := orc.DeleteApplication(app.ID()); result != ResultNotExists {
		t.Fatalf("expected not_exists for repeated delete, got %s", result)
	}
	if result := orc.DeleteApplication(InvalidApplicationID); result != ResultNotExists {
		t.Fatalf("expected not_exists for invalid id, got %s", result)
	}
}

func TestDeleteApplicationReportsModuleErrors(t *testing.T) {
	orc := newTestOrchestrator()
	failing := newFakeModule(ModuleTypeProvider)
	failing.deleteErr = errors.New("resource busy")
	trailing := newFakeModule(ModuleTypePublisher)
	for _, module := range []Module{failing, trailing} {
		if err := orc.RegisterModule(module); err != nil {
			t.Fatalf("RegisterModule returned error: %v", err)
		}
	}

	if result := orc.CreateApplication(ApplicationConfig{Name: "live"}); result != ResultSucceeded {
		t.Fatalf("expected succeeded, got %s", result)
	}
	app := orc.GetApplication("live")

	if result := orc.DeleteApplication(app.ID()); result != ResultFailed {
		t.Fatalf("expected failed when a module errors, got %s", result)
	}
	// The record is gone and every module was still notified.
	if orc.GetApplication("live").IsValid() {
		t.Fatal("expected record to be removed despite the module error")
	}
	if names := trailing.deletedNames(); len(names) != 1 {
		t.Fatalf("expected the remaining module to be notified, got %v", names)
	}
}

func TestMaxApplicationsCap(t *testing.T) {
	orc := newTestOrchestrator(WithMaxApplications(2))

	for _, name := range []string{"one", "two"} {
		if result := orc.CreateApplication(ApplicationConfig{Name: name}); result != ResultSucceeded {
			t.Fatalf("expected succeeded for %q, got %s", name, result)
		}
	}
	if result := orc.CreateApplication(ApplicationConfig{Name: "three"}); result != ResultFailed {
		t.Fatalf("expected failed at the cap, got %s", result)
	}

	two := orc.GetApplication("two")
	if result := orc.DeleteApplication(two.ID()); result != ResultSucceeded {
		t.Fatalf("expected succeeded, got %s", result)
	}
	if result := orc.CreateApplication(ApplicationConfig{Name: "three"}); result != ResultSucceeded {
		t.Fatalf("expected succeeded after freeing a slot, got %s", result)
	}
}

func TestApplicationIDWrapsPastMax(t *testing.T) {
	orc := newTestOrchestrator()

	if result := orc.CreateApplication(ApplicationConfig{Name: "zero"}); result != ResultSucceeded {
		t.Fatalf("expected succeeded, got %s", result)
	}
	if id := orc.GetApplication("zero").ID(); id != MinApplicationID {
		t.Fatalf("expected first id %d, got %d", MinApplicationID, id)
	}

	orc.appsMu.Lock()
	orc.lastAppID = MaxApplicationID
	orc.appsMu.Unlock()

	// The next increment lands on the invalid sentinel and must wrap to the
	// minimum, then skip the occupied id zero.
	if result := orc.CreateApplication(ApplicationConfig{Name: "wrapped"}); result != ResultSucceeded {
		t.Fatalf("expected succeeded, got %s", result)
	}
	if id := orc.GetApplication("wrapped").ID(); id != MinApplicationID+1 {
		t.Fatalf("expected wrapped id %d, got %d", MinApplicationID+1, id)
	}
}

func TestApplicationIDReusedAfterDelete(t *testing.T) {
	orc := newTestOrchestrator()

	if result := orc.CreateApplication(ApplicationConfig{Name: "first"}); result != ResultSucceeded {
		t.Fatalf("expected succeeded, got %s", result)
	}
	first := orc.GetApplication("first")
	if result := orc.DeleteApplication(first.ID()); result != ResultSucceeded {
		t.Fatalf("expected succeeded, got %s", result)
	}

	orc.appsMu.Lock()
	orc.lastAppID = MaxApplicationID
	orc.appsMu.Unlock()

	if result := orc.CreateApplication(ApplicationConfig{Name: "second"}); result != ResultSucceeded {
		t.Fatalf("expected succeeded, got %s", result)
	}
	if id := orc.GetApplication("second").ID(); id != first.ID() {
		t.Fatalf("expected freed id %d to be reused, got %d", first.ID(), id)
	}
}

func TestApplicationsSortedByID(t *testing.T) {
	orc := newTestOrchestrator()
	for _, name := range []string{"c", "a", "b"} {
		if result := orc.CreateApplication(ApplicationConfig{Name: name}); result != ResultSucceeded {
			t.Fatalf("expected succeeded for %q, got %s", name, result)
		}
	}

	apps := orc.Applications()
	if len(apps) != 3 {
		t.Fatalf("expected 3 applications, got %d", len(apps))
	}
	for i := 1; i < len(apps); i++ {
		if apps[i-1].ID() >= apps[i].ID() {
			t.Fatalf("applications are not sorted by id: %d before %d", apps[i-1].ID(), apps[i].ID())
		}
	}
}

func TestRequestPullStream(t *testing.T) {
	orc := newTestOrchestrator()
	provider := newFakeProvider(ProviderKindOVT)
	if err := orc.RegisterModule(provider); err != nil {
		t.Fatalf("RegisterModule returned error: %v", err)
	}
	orc.SetOrigins([]OriginRule{
		{Location: "/app/stream", Scheme: "ovt", URLs: []string{"origin.example.com:9000/another/and_stream"}},
	})

	if err := orc.RequestPullStream("app", "stream_o"); err != nil {
		t.Fatalf("RequestPullStream returned error: %v", err)
	}

	pulls := provider.pullRequests()
	if len(pulls) != 1 {
		t.Fatalf("expected 1 pull, got %d", len(pulls))
	}
	if pulls[0].app != "app" || pulls[0].stream != "stream_o" {
		t.Fatalf("unexpected pull target: %+v", pulls[0])
	}
	want := "ovt://origin.example.com:9000/another/and_stream_o"
	if len(pulls[0].urls) != 1 || pulls[0].urls[0] != want {
		t.Fatalf("expected rewritten url %q, got %v", want, pulls[0].urls)
	}

	// The application was created on demand.
	if app := orc.GetApplication("app"); !app.IsValid() {
		t.Fatal("expected application to be created for the pull")
	}
}

func TestRequestPullStreamReusesExistingApplication(t *testing.T) {
	orc := newTestOrchestrator()
	provider := newFakeProvider(ProviderKindRTMP)
	if err := orc.RegisterModule(provider); err != nil {
		t.Fatalf("RegisterModule returned error: %v", err)
	}
	orc.SetOrigins([]OriginRule{
		{Location: "/live", Scheme: "rtmp", URLs: []string{"edge.example.com"}},
	})

	if result := orc.CreateApplication(ApplicationConfig{Name: "live"}); result != ResultSucceeded {
		t.Fatalf("expected succeeded, got %s", result)
	}
	existing := orc.GetApplication("live")

	if err := orc.RequestPullStream("live", "show"); err != nil {
		t.Fatalf("RequestPullStream returned error: %v", err)
	}
	if names := provider.createdNames(); len(names) != 1 {
		t.Fatalf("reusing an application must not notify create again, got %v", names)
	}
	if app := orc.GetApplication("live"); app.ID() != existing.ID() {
		t.Fatalf("expected the existing application to be reused, got id %d", app.ID())
	}
}

func TestRequestPullStreamRollsBackOnlyFreshApplications(t *testing.T) {
	orc := newTestOrchestrator()
	provider := newFakeProvider(ProviderKindRTMP)
	provider.pullErr = errors.New("upstream unreachable")
	if err := orc.RegisterModule(provider); err != nil {
		t.Fatalf("RegisterModule returned error: %v", err)
	}
	orc.SetOrigins([]OriginRule{
		{Location: "/fresh", Scheme: "rtmp", URLs: []string{"edge.example.com"}},
		{Location: "/kept", Scheme: "rtmp", URLs: []string{"edge.example.com"}},
	})

	// Lazily created application is rolled back when the pull fails.
	if err := orc.RequestPullStream("fresh", "show"); err == nil {
		t.Fatal("expected pull error")
	}
	if orc.GetApplication("fresh").IsValid() {
		t.Fatal("expected freshly created application to be rolled back")
	}

	// A pre-existing application survives a failed pull.
	if result := orc.CreateApplication(ApplicationConfig{Name: "kept"}); result != ResultSucceeded {
		t.Fatalf("expected succeeded, got %s", result)
	}
	if err := orc.RequestPullStream("kept", "show"); err == nil {
		t.Fatal("expected pull error")
	}
	if !orc.GetApplication("kept").IsValid() {
		t.Fatal("expected pre-existing application to survive the failed pull")
	}
}

func TestRequestPullStreamErrors(t *testing.T) {
	orc := newTestOrchestrator()
	orc.SetOrigins([]OriginRule{
		{Location: "/odd", Scheme: "http", URLs: []string{"edge.example.com"}},
		{Location: "/live", Scheme: "rtmp", URLs: []string{"edge.example.com"}},
	})

	if err := orc.RequestPullStream("missing", "show"); !errors.Is(err, ErrNoOriginForLocation) {
		t.Fatalf("expected ErrNoOriginForLocation, got %v", err)
	}
	if err := orc.RequestPullStream("odd", "show"); !errors.Is(err, ErrUnsupportedScheme) {
		t.Fatalf("expected ErrUnsupportedScheme, got %v", err)
	}
	if err := orc.RequestPullStream("live", "show"); !errors.Is(err, ErrNoProviderForScheme) {
		t.Fatalf("expected ErrNoProviderForScheme, got %v", err)
	}
	// Failed pulls must not leave applications behind.
	if len(orc.Applications()) != 0 {
		t.Fatalf("expected no applications, got %d", len(orc.Applications()))
	}
}

func TestRequestPullStreamSelectsProviderByKind(t *testing.T) {
	orc := newTestOrchestrator()
	rtmp := newFakeProvider(ProviderKindRTMP)
	ovtFirst := newFakeProvider(ProviderKindOVT)
	ovtSecond := newFakeProvider(ProviderKindOVT)
	for _, module := range []Module{rtmp, ovtFirst, ovtSecond} {
		if err := orc.RegisterModule(module); err != nil {
			t.Fatalf("RegisterModule returned error: %v", err)
		}
	}
	orc.SetOrigins([]OriginRule{
		{Location: "/live", Scheme: "ovt", URLs: []string{"origin.example.com"}},
	})

	if err := orc.RequestPullStream("live", "show"); err != nil {
		t.Fatalf("RequestPullStream returned error: %v", err)
	}
	if pulls := ovtFirst.pullRequests(); len(pulls) != 1 {
		t.Fatalf("expected the first matching provider to pull, got %d", len(pulls))
	}
	if pulls := ovtSecond.pullRequests(); len(pulls) != 0 {
		t.Fatalf("expected the second provider to stay idle, got %d", len(pulls))
	}
	if pulls := rtmp.pullRequests(); len(pulls) != 0 {
		t.Fatalf("expected the rtmp provider to stay idle, got %d", len(pulls))
	}
}

func TestLifecycleJournalingAndEvents(t *testing.T) {
	recorder := journal.NewMemoryRecorder(16)
	queue := events.NewMemoryQueue(16)
	defer queue.Close()
	sub := queue.Subscribe()
	defer sub.Close()

	orc := newTestOrchestrator(WithJournal(recorder), WithEvents(queue))
	provider := newFakeProvider(ProviderKindRTMP)
	if err := orc.RegisterModule(provider); err != nil {
		t.Fatalf("RegisterModule returned error: %v", err)
	}
	orc.SetOrigins([]OriginRule{
		{Location: "/live", Scheme: "rtmp", URLs: []string{"edge.example.com"}},
	})

	if err := orc.RequestPullStream("live", "show"); err != nil {
		t.Fatalf("RequestPullStream returned error: %v", err)
	}
	app := orc.GetApplication("live")
	if result := orc.DeleteApplication(app.ID()); result != ResultSucceeded {
		t.Fatalf("expected succeeded, got %s", result)
	}

	entries, err := recorder.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent returned error: %v", err)
	}
	// Newest first: delete, pull, create.
	if len(entries) != 3 {
		t.Fatalf("expected 3 journal entries, got %d", len(entries))
	}
	if entries[0].Op != journal.OpDeleteApplication || entries[1].Op != journal.OpPullStream || entries[2].Op != journal.OpCreateApplication {
		t.Fatalf("unexpected journal order: %s, %s, %s", entries[0].Op, entries[1].Op, entries[2].Op)
	}
	if entries[1].Stream != "show" || entries[1].Result != "succeeded" {
		t.Fatalf("unexpected pull entry: %+v", entries[1])
	}

	wantTypes := []events.Type{events.TypeApplicationCreated, events.TypeStreamPulled, events.TypeApplicationDeleted}
	for _, want := range wantTypes {
		select {
		case event := <-sub.Events():
			if event.Type != want {
				t.Fatalf("expected event %s, got %s", want, event.Type)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %s", want)
		}
	}
}

func TestPullRollbackJournalsLifecycle(t *testing.T) {
	recorder := journal.NewMemoryRecorder(16)
	queue := events.NewMemoryQueue(16)
	defer queue.Close()
	sub := queue.Subscribe()
	defer sub.Close()

	orc := newTestOrchestrator(WithJournal(recorder), WithEvents(queue))
	provider := newFakeProvider(ProviderKindRTMP)
	provider.pullErr = errors.New("upstream unreachable")
	if err := orc.RegisterModule(provider); err != nil {
		t.Fatalf("RegisterModule returned error: %v", err)
	}
	orc.SetOrigins([]OriginRule{
		{Location: "/live", Scheme: "rtmp", URLs: []string{"edge.example.com"}},
	})

	if err := orc.RequestPullStream("live", "show"); err == nil {
		t.Fatal("expected pull error")
	}

	entries, err := recorder.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent returned error: %v", err)
	}
	// Newest first: the rollback delete, the failed pull, the lazy create.
	if len(entries) != 3 {
		t.Fatalf("expected 3 journal entries, got %d", len(entries))
	}
	if entries[0].Op != journal.OpDeleteApplication || entries[1].Op != journal.OpPullStream || entries[2].Op != journal.OpCreateApplication {
		t.Fatalf("unexpected journal order: %s, %s, %s", entries[0].Op, entries[1].Op, entries[2].Op)
	}
	if entries[1].Result != "failed" || entries[2].Result != "succeeded" {
		t.Fatalf("unexpected results: pull=%s create=%s", entries[1].Result, entries[2].Result)
	}

	wantTypes := []events.Type{events.TypeApplicationCreated, events.TypeStreamPullFailed, events.TypeApplicationDeleted}
	for _, want := range wantTypes {
		select {
		case event := <-sub.Events():
			if event.Type != want {
				t.Fatalf("expected event %s, got %s", want, event.Type)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %s", want)
		}
	}
}

func TestConcurrentSameNameCreates(t *testing.T) {
	orc := newTestOrchestrator()

	var wg sync.WaitGroup
	results := make([]Result, 2)
	for i := 0; i < len(results); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = orc.CreateApplication(ApplicationConfig{Name: "live"})
		}(i)
	}
	wg.Wait()

	succeeded, exists := 0, 0
	for _, result := range results {
		switch result {
		case ResultSucceeded:
			succeeded++
		case ResultExists:
			exists++
		default:
			t.Fatalf("unexpected result %s", result)
		}
	}
	if succeeded != 1 || exists != 1 {
		t.Fatalf("expected exactly one succeeded and one exists, got %d and %d", succeeded, exists)
	}
	if len(orc.Applications()) != 1 {
		t.Fatalf("expected a single application, got %d", len(orc.Applications()))
	}
}

func TestConcurrentCreatesAllocateUniqueIDs(t *testing.T) {
	orc := newTestOrchestrator()

	const workers = 32
	var wg sync.WaitGroup
	results := make([]Result, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = orc.CreateApplication(ApplicationConfig{Name: fmt.Sprintf("app-%d", i)})
		}(i)
	}
	wg.Wait()

	for i, result := range results {
		if result != ResultSucceeded {
			t.Fatalf("create %d: expected succeeded, got %s", i, result)
		}
	}
	apps := orc.Applications()
	if len(apps) != workers {
		t.Fatalf("expected %d applications, got %d", workers, len(apps))
	}
	seen := make(map[ApplicationID]bool, len(apps))
	for _, app := range apps {
		if seen[app.ID()] {
			t.Fatalf("id %d allocated twice", app.ID())
		}
		seen[app.ID()] = true
	}
}
