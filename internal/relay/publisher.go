package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"streamgate/internal/orchestrator"
)

// PublisherConfig configures a remote egress publisher.
type PublisherConfig struct {
	// BaseURL is the egress node control endpoint.
	BaseURL string
	Token   string
	Client  *http.Client
	Logger  *slog.Logger
	// MaxAttempts bounds retries per node request.
	MaxAttempts    int
	RetryInterval  time.Duration
	RequestTimeout time.Duration
}

// Publisher mirrors application lifecycle onto a remote egress node so it can
// expose playback endpoints for the application's streams. It implements
// orchestrator.Module with the publisher role.
type Publisher struct {
	client  *nodeClient
	logger  *slog.Logger
	timeout time.Duration
}

// NewPublisher validates the configuration and constructs the publisher.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("relay publisher base url is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Publisher{
		client:  newNodeClient(cfg.BaseURL, cfg.Token, cfg.Client, logger, cfg.MaxAttempts, cfg.RetryInterval),
		logger:  logger,
		timeout: timeout,
	}, nil
}

// ModuleType reports the publisher role.
func (p *Publisher) ModuleType() orchestrator.ModuleType {
	return orchestrator.ModuleTypePublisher
}

// OnCreateApplication provisions the application on the egress node.
func (p *Publisher) OnCreateApplication(app orchestrator.Application) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	payload := applicationPayload{
		Name:    app.Name(),
		ID:      uint32(app.ID()),
		Options: app.Config().Options,
	}
	if err := p.client.postJSON(ctx, "/api/v1/applications", payload, nil); err != nil {
		return fmt.Errorf("provision egress application %q: %w", app.Name(), err)
	}
	return nil
}

// OnDeleteApplication removes the application from the egress node.
func (p *Publisher) OnDeleteApplication(app orchestrator.Application) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	payload := applicationPayload{Name: app.Name(), ID: uint32(app.ID())}
	if err := p.client.postJSON(ctx, "/api/v1/applications/delete", payload, nil); err != nil {
		return fmt.Errorf("remove egress application %q: %w", app.Name(), err)
	}
	return nil
}
