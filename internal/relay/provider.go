package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"

	"streamgate/internal/orchestrator"
)

// ProviderConfig configures a remote pull provider.
type ProviderConfig struct {
	// BaseURL is the media node control endpoint, e.g. http://node:8081.
	BaseURL string
	// Token authenticates against the node API when non-empty.
	Token string
	// Kind declares which scheme this provider pulls (rtmp, rtsp, ovt).
	Kind orchestrator.ProviderKind
	// Client overrides the HTTP client used for node requests.
	Client *http.Client
	Logger *slog.Logger
	// MaxAttempts bounds retries per node request.
	MaxAttempts   int
	RetryInterval time.Duration
	// MaxConcurrentPulls caps in-flight pull requests against the node.
	MaxConcurrentPulls int64
	// RequestTimeout bounds each orchestrator-initiated operation.
	RequestTimeout time.Duration
}

// Provider is a stream-source module backed by a remote media node. It
// implements orchestrator.ProviderModule.
type Provider struct {
	kind    orchestrator.ProviderKind
	client  *nodeClient
	logger  *slog.Logger
	pulls   *semaphore.Weighted
	timeout time.Duration
}

// NewProvider validates the configuration and constructs the provider.
func NewProvider(cfg ProviderConfig) (*Provider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("relay provider base url is required")
	}
	if cfg.Kind == orchestrator.ProviderKindUnknown {
		return nil, fmt.Errorf("relay provider kind is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := cfg.MaxConcurrentPulls
	if concurrency <= 0 {
		concurrency = 8
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Provider{
		kind:    cfg.Kind,
		client:  newNodeClient(cfg.BaseURL, cfg.Token, cfg.Client, logger, cfg.MaxAttempts, cfg.RetryInterval),
		logger:  logger,
		pulls:   semaphore.NewWeighted(concurrency),
		timeout: timeout,
	}, nil
}

// ModuleType reports the provider role.
func (p *Provider) ModuleType() orchestrator.ModuleType {
	return orchestrator.ModuleTypeProvider
}

// ProviderKind reports the scheme this provider pulls.
func (p *Provider) ProviderKind() orchestrator.ProviderKind {
	return p.kind
}

type applicationPayload struct {
	Name    string            `json:"name"`
	ID      uint32            `json:"id"`
	Options map[string]string `json:"options,omitempty"`
}

type pullPayload struct {
	Application string   `json:"application"`
	Stream      string   `json:"stream"`
	URLs        []string `json:"urls"`
}

// OnCreateApplication provisions the application on the media node.
func (p *Provider) OnCreateApplication(app orchestrator.Application) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	payload := applicationPayload{
		Name:    app.Name(),
		ID:      uint32(app.ID()),
		Options: app.Config().Options,
	}
	if err := p.client.postJSON(ctx, "/api/v1/applications", payload, nil); err != nil {
		return fmt.Errorf("provision application %q: %w", app.Name(), err)
	}
	return nil
}

// OnDeleteApplication removes the application from the media node.
func (p *Provider) OnDeleteApplication(app orchestrator.Application) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	payload := applicationPayload{Name: app.Name(), ID: uint32(app.ID())}
	if err := p.client.postJSON(ctx, "/api/v1/applications/delete", payload, nil); err != nil {
		return fmt.Errorf("remove application %q: %w", app.Name(), err)
	}
	return nil
}

// PullStream asks the node to pull the stream from one of the candidate
// URLs. Concurrent pulls are capped so a burst of requests cannot overwhelm
// the node.
func (p *Provider) PullStream(app orchestrator.Application, streamName string, urls []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.pulls.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("pull slot for /%s/%s: %w", app.Name(), streamName, err)
	}
	defer p.pulls.Release(1)

	payload := pullPayload{
		Application: app.Name(),
		Stream:      streamName,
		URLs:        urls,
	}
	if err := p.client.postJSON(ctx, "/api/v1/pull", payload, nil); err != nil {
		return fmt.Errorf("pull /%s/%s: %w", app.Name(), streamName, err)
	}
	return nil
}
