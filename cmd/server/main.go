// Command server starts the Streamgate orchestration HTTP service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"streamgate/internal/api"
	"streamgate/internal/config"
	"streamgate/internal/events"
	"streamgate/internal/journal"
	"streamgate/internal/observability/logging"
	"streamgate/internal/observability/metrics"
	"streamgate/internal/orchestrator"
	"streamgate/internal/relay"
	"streamgate/internal/server"
	"streamgate/internal/serverutil"
)

type keyValueFlag map[string]string

func (kv *keyValueFlag) String() string {
	if kv == nil || len(*kv) == 0 {
		return ""
	}
	parts := make([]string, 0, len(*kv))
	for key, value := range *kv {
		parts = append(parts, fmt.Sprintf("%s=%s", key, value))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func (kv *keyValueFlag) Set(value string) error {
	parts := strings.SplitN(value, "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid format %q, expected scheme=url", value)
	}
	scheme := strings.ToLower(strings.TrimSpace(parts[0]))
	if scheme == "" {
		return fmt.Errorf("provider scheme is required")
	}
	if *kv == nil {
		*kv = make(map[string]string)
	}
	(*kv)[scheme] = strings.TrimSpace(parts[1])
	return nil
}

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	configPath := flag.String("config", "", "path to JSON configuration file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	apiTokenHash := flag.String("api-token-hash", "", "pbkdf2 hash guarding mutating API endpoints")
	hashToken := flag.String("hash-token", "", "print the pbkdf2 hash of the given token and exit")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	maxApplications := flag.Int("max-applications", 0, "maximum number of registered applications")
	shutdownTimeout := flag.Duration("shutdown-timeout", 0, "graceful shutdown timeout")
	journalDriver := flag.String("journal-driver", "", "journal driver (memory or postgres)")
	journalDSN := flag.String("journal-postgres-dsn", "", "Postgres connection string for the journal")
	journalCapacity := flag.Int("journal-capacity", 0, "maximum entries retained by the memory journal")
	journalRetention := flag.Duration("journal-retention", 0, "duration journal entries are retained before pruning")
	journalPruneInterval := flag.Duration("journal-prune-interval", 0, "interval between journal prune passes")
	eventsDriver := flag.String("events-driver", "", "event queue driver (memory or redis)")
	eventsRedisAddr := flag.String("events-redis-addr", "", "Redis address for event publishing")
	eventsRedisAddrs := flag.String("events-redis-addrs", "", "comma separated Redis addresses for event publishing")
	eventsRedisUsername := flag.String("events-redis-username", "", "Redis username for event publishing")
	eventsRedisPassword := flag.String("events-redis-password", "", "Redis password for event publishing")
	eventsRedisStream := flag.String("events-redis-stream", "", "Redis stream key for orchestration events")
	eventsRedisMasterName := flag.String("events-redis-sentinel-master", "", "Redis sentinel master name for event publishing")
	eventsRedisPoolSize := flag.Int("events-redis-pool-size", 0, "maximum Redis connections for event publishing")
	publisherURL := flag.String("publisher-url", "", "egress node control endpoint to mirror application lifecycle to")
	publisherToken := flag.String("publisher-token", "", "bearer token for the egress node API")
	providerToken := flag.String("provider-token", "", "bearer token for media node APIs")
	relayMaxAttempts := flag.Int("relay-max-attempts", 0, "maximum attempts per media node request")
	relayRetryInterval := flag.Duration("relay-retry-interval", 0, "delay between media node request retries")
	relayMaxPulls := flag.Int("relay-max-concurrent-pulls", 0, "maximum in-flight pull requests per provider")
	relayRequestTimeout := flag.Duration("relay-request-timeout", 0, "timeout for each media node operation")
	var providerEndpoints keyValueFlag
	flag.Var(&providerEndpoints, "provider", "register a pull provider (scheme=url, e.g. rtmp=http://node:8081); repeatable")
	flag.Parse()

	if token := strings.TrimSpace(*hashToken); token != "" {
		hash, err := api.HashToken(token)
		if err != nil {
			fmt.Fprintln(os.Stderr, "failed to hash token:", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("STREAMGATE_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("STREAMGATE_LOG_FORMAT")),
	})
	recorder := metrics.Default()

	cfg, err := config.Load(firstNonEmpty(*configPath, os.Getenv("STREAMGATE_CONFIG")))
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	appCap := resolveInt(*maxApplications, "STREAMGATE_MAX_APPLICATIONS")
	if appCap == 0 {
		appCap = cfg.MaxApplications
	}

	journalRecorder, err := configureJournal(*journalDriver, *journalDSN, *journalCapacity, logger)
	if err != nil {
		logger.Error("failed to configure journal", "error", err)
		os.Exit(1)
	}

	queue, err := configureEventQueue(eventQueueSettings{
		Driver:     *eventsDriver,
		Addr:       *eventsRedisAddr,
		Addrs:      *eventsRedisAddrs,
		Username:   *eventsRedisUsername,
		Password:   *eventsRedisPassword,
		Stream:     *eventsRedisStream,
		MasterName: *eventsRedisMasterName,
		PoolSize:   *eventsRedisPoolSize,
	}, logger)
	if err != nil {
		logger.Error("failed to configure event queue", "error", err)
		os.Exit(1)
	}

	options := []orchestrator.Option{
		orchestrator.WithLogger(logging.WithComponent(logger, "orchestrator")),
		orchestrator.WithMetrics(recorder),
		orchestrator.WithJournal(journalRecorder),
		orchestrator.WithEvents(queue),
	}
	if appCap > 0 {
		options = append(options, orchestrator.WithMaxApplications(appCap))
	}
	orc := orchestrator.New(options...)
	orc.SetOrigins(cfg.Origins)

	relayDefaults := relaySettings{
		MaxAttempts:    resolveInt(*relayMaxAttempts, "STREAMGATE_RELAY_MAX_ATTEMPTS"),
		RetryInterval:  resolveDuration(*relayRetryInterval, "STREAMGATE_RELAY_RETRY_INTERVAL", 0),
		MaxPulls:       resolveInt(*relayMaxPulls, "STREAMGATE_RELAY_MAX_CONCURRENT_PULLS"),
		RequestTimeout: resolveDuration(*relayRequestTimeout, "STREAMGATE_RELAY_REQUEST_TIMEOUT", 0),
		ProviderToken:  firstNonEmpty(*providerToken, os.Getenv("STREAMGATE_PROVIDER_TOKEN")),
	}
	if err := registerProviders(orc, providerEndpoints, os.Getenv("STREAMGATE_PROVIDERS"), relayDefaults, logger); err != nil {
		logger.Error("failed to register pull providers", "error", err)
		os.Exit(1)
	}
	if endpoint := firstNonEmpty(*publisherURL, os.Getenv("STREAMGATE_PUBLISHER_URL")); endpoint != "" {
		publisher, err := relay.NewPublisher(relay.PublisherConfig{
			BaseURL:        endpoint,
			Token:          firstNonEmpty(*publisherToken, os.Getenv("STREAMGATE_PUBLISHER_TOKEN")),
			Logger:         logging.WithComponent(logger, "publisher"),
			MaxAttempts:    relayDefaults.MaxAttempts,
			RetryInterval:  relayDefaults.RetryInterval,
			RequestTimeout: relayDefaults.RequestTimeout,
		})
		if err != nil {
			logger.Error("failed to configure publisher", "error", err)
			os.Exit(1)
		}
		if err := orc.RegisterModule(publisher); err != nil {
			logger.Error("failed to register publisher", "error", err)
			os.Exit(1)
		}
	}

	for _, appCfg := range cfg.Applications {
		if result := orc.CreateApplication(appCfg); result != orchestrator.ResultSucceeded {
			logger.Error("failed to create configured application", "application", appCfg.Name, "result", result.String())
			os.Exit(1)
		}
	}

	handler := api.NewHandler(orc, journalRecorder, logger)
	srv, err := server.New(handler, server.Config{
		Addr:         resolveListenAddr(*addr, os.Getenv("STREAMGATE_ADDR")),
		TLS:          server.TLSConfig{CertFile: firstNonEmpty(*tlsCert, os.Getenv("STREAMGATE_TLS_CERT")), KeyFile: firstNonEmpty(*tlsKey, os.Getenv("STREAMGATE_TLS_KEY"))},
		APITokenHash: firstNonEmpty(*apiTokenHash, os.Getenv("STREAMGATE_API_TOKEN_HASH")),
		Logger:       logger,
		Metrics:      recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	retention := resolveDuration(*journalRetention, "STREAMGATE_JOURNAL_RETENTION", 0)
	pruneInterval := resolveDuration(*journalPruneInterval, "STREAMGATE_JOURNAL_PRUNE_INTERVAL", 15*time.Minute)
	var pruneStop func()
	if retention > 0 {
		pruneStop = startJournalPruneWorker(ctx, logging.WithComponent(logger, "journal-pruner"), journalRecorder, retention, pruneInterval)
	}

	tlsCfg := srv.TLS()
	logger.Info("streamgate control API listening", "addr", srv.HTTPServer().Addr)
	if tlsCfg.CertFile != "" && tlsCfg.KeyFile != "" {
		logger.Info("TLS enabled", "cert_file", tlsCfg.CertFile)
	}
	err = serverutil.Run(ctx, serverutil.Config{
		Server:          srv.HTTPServer(),
		TLS:             serverutil.TLSConfig{CertFile: tlsCfg.CertFile, KeyFile: tlsCfg.KeyFile},
		ShutdownTimeout: resolveDuration(*shutdownTimeout, "STREAMGATE_SHUTDOWN_TIMEOUT", serverutil.DefaultShutdownTimeout),
	})
	if err != nil {
		logger.Error("server error", "error", err)
	}

	if pruneStop != nil {
		pruneStop()
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := journalRecorder.Close(closeCtx); err != nil {
		logger.Warn("failed to close journal", "error", err)
	}
	if err := queue.Close(); err != nil {
		logger.Warn("failed to close event queue", "error", err)
	}

	logger.Info("server stopped")
}

type relaySettings struct {
	MaxAttempts    int
	RetryInterval  time.Duration
	MaxPulls       int
	RequestTimeout time.Duration
	ProviderToken  string
}

func registerProviders(orc *orchestrator.Orchestrator, flagEndpoints keyValueFlag, envSpec string, settings relaySettings, logger *slog.Logger) error {
	endpoints := make(map[string]string, len(flagEndpoints))
	for scheme, endpoint := range parseProviderSpec(envSpec) {
		endpoints[scheme] = endpoint
	}
	for scheme, endpoint := range flagEndpoints {
		endpoints[scheme] = endpoint
	}

	schemes := make([]string, 0, len(endpoints))
	for scheme := range endpoints {
		schemes = append(schemes, scheme)
	}
	sort.Strings(schemes)

	for _, scheme := range schemes {
		kind, err := orchestrator.ParseProviderKind(scheme)
		if err != nil {
			return fmt.Errorf("provider %q: %w", scheme, err)
		}
		provider, err := relay.NewProvider(relay.ProviderConfig{
			BaseURL:            endpoints[scheme],
			Token:              settings.ProviderToken,
			Kind:               kind,
			Logger:             logging.WithComponent(logger, "provider-"+scheme),
			MaxAttempts:        settings.MaxAttempts,
			RetryInterval:      settings.RetryInterval,
			MaxConcurrentPulls: int64(settings.MaxPulls),
			RequestTimeout:     settings.RequestTimeout,
		})
		if err != nil {
			return fmt.Errorf("provider %q: %w", scheme, err)
		}
		if err := orc.RegisterModule(provider); err != nil {
			return fmt.Errorf("provider %q: %w", scheme, err)
		}
	}
	return nil
}

// parseProviderSpec parses "rtmp=http://a:8081,ovt=http://b:8082" into a
// scheme to endpoint map. Malformed entries are skipped.
func parseProviderSpec(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	endpoints := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		scheme := strings.ToLower(strings.TrimSpace(parts[0]))
		endpoint := strings.TrimSpace(parts[1])
		if scheme == "" || endpoint == "" {
			continue
		}
		endpoints[scheme] = endpoint
	}
	if len(endpoints) == 0 {
		return nil
	}
	return endpoints
}

type eventQueueSettings struct {
	Driver     string
	Addr       string
	Addrs      string
	Username   string
	Password   string
	Stream     string
	MasterName string
	PoolSize   int
}

func configureEventQueue(settings eventQueueSettings, logger *slog.Logger) (events.Queue, error) {
	driver := strings.ToLower(firstNonEmpty(settings.Driver, os.Getenv("STREAMGATE_EVENTS_DRIVER")))
	switch driver {
	case "redis":
		cfg := events.RedisQueueConfig{
			Addr:       firstNonEmpty(settings.Addr, os.Getenv("STREAMGATE_EVENTS_REDIS_ADDR")),
			Addrs:      splitAndTrim(firstNonEmpty(settings.Addrs, os.Getenv("STREAMGATE_EVENTS_REDIS_ADDRS"))),
			Username:   firstNonEmpty(settings.Username, os.Getenv("STREAMGATE_EVENTS_REDIS_USERNAME")),
			Password:   firstNonEmpty(settings.Password, os.Getenv("STREAMGATE_EVENTS_REDIS_PASSWORD")),
			Stream:     firstNonEmpty(settings.Stream, os.Getenv("STREAMGATE_EVENTS_REDIS_STREAM")),
			MasterName: firstNonEmpty(settings.MasterName, os.Getenv("STREAMGATE_EVENTS_REDIS_SENTINEL_MASTER")),
			PoolSize:   resolveInt(settings.PoolSize, "STREAMGATE_EVENTS_REDIS_POOL_SIZE"),
			Logger:     logging.WithComponent(logger, "events"),
		}
		if len(cfg.Addrs) == 0 && strings.TrimSpace(cfg.Addr) == "" {
			return nil, fmt.Errorf("redis addr is required for the event queue")
		}
		return events.NewRedisQueue(cfg)
	case "", "memory":
		return events.NewMemoryQueue(128), nil
	default:
		return nil, fmt.Errorf("unsupported event queue driver %q", driver)
	}
}

func configureJournal(flagDriver, flagDSN string, flagCapacity int, logger *slog.Logger) (journal.Recorder, error) {
	driver := strings.ToLower(firstNonEmpty(flagDriver, os.Getenv("STREAMGATE_JOURNAL_DRIVER")))
	dsn := firstNonEmpty(flagDSN, os.Getenv("STREAMGATE_JOURNAL_POSTGRES_DSN"), os.Getenv("DATABASE_URL"))
	if driver == "" {
		if dsn != "" {
			driver = "postgres"
		} else {
			driver = "memory"
		}
	}
	switch driver {
	case "memory":
		return journal.NewMemoryRecorder(resolveInt(flagCapacity, "STREAMGATE_JOURNAL_CAPACITY")), nil
	case "postgres":
		if dsn == "" {
			return nil, fmt.Errorf("postgres journal selected without DSN")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		recorder, err := journal.NewPostgresRecorder(ctx, dsn)
		if err != nil {
			return nil, err
		}
		logger.Info("journal backed by postgres")
		return recorder, nil
	default:
		return nil, fmt.Errorf("unsupported journal driver %q", driver)
	}
}

func resolveListenAddr(flagValue, envAddr string) string {
	listenAddr := strings.TrimSpace(flagValue)
	if listenAddr == "" {
		listenAddr = strings.TrimSpace(envAddr)
	}
	if listenAddr == "" {
		listenAddr = ":8080"
	}
	return listenAddr
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}
