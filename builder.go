package questauth

import (
	"context"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/lifequest/questauth/credential"
	"github.com/lifequest/questauth/internal/audit"
	"github.com/lifequest/questauth/internal/flows"
	"github.com/lifequest/questauth/middleware"
	"github.com/lifequest/questauth/refresh"
)

// Builder assembles a [Client]. A Builder can be built once.
type Builder struct {
	config    Config
	logger    *zap.Logger
	store     credential.Store
	navigator Navigator
	eventSink EventSink
	transport http.RoundTripper
	extra     []middleware.Middleware
	deps      storeDeps

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithBaseURL points the client at another API deployment.
func (b *Builder) WithBaseURL(url string) *Builder {
	b.config.API.BaseURL = url
	return b
}

// WithLogger sets the logger. Without one, Config.Log.Level decides; an empty
// level means no logging.
func (b *Builder) WithLogger(log *zap.Logger) *Builder {
	b.logger = log
	return b
}

// WithStore supplies a credential store, bypassing Config.Store.Backend.
func (b *Builder) WithStore(s credential.Store) *Builder {
	b.store = s
	return b
}

// WithRedis supplies the client used by the redis backend. The caller keeps
// ownership of it.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.deps.redis = client
	return b
}

// WithPostgres supplies the pool used by the postgres backend. The caller keeps
// ownership of it.
func (b *Builder) WithPostgres(pool *pgxpool.Pool) *Builder {
	b.deps.postgres = pool
	return b
}

// WithNavigator receives the forced-login signal on teardown.
func (b *Builder) WithNavigator(n Navigator) *Builder {
	b.navigator = n
	return b
}

// WithEventSink receives session events. Without one, events are logged.
func (b *Builder) WithEventSink(sink EventSink) *Builder {
	b.eventSink = sink
	return b
}

// WithTransport sets the base transport under the pipeline. It also carries
// the refresh call.
func (b *Builder) WithTransport(rt http.RoundTripper) *Builder {
	b.transport = rt
	return b
}

// WithMiddleware appends stages that run after Bearer, closest to the transport.
func (b *Builder) WithMiddleware(stages ...middleware.Middleware) *Builder {
	b.extra = append(b.extra, stages...)
	return b
}

// WithMetricsEnabled toggles in-process metrics.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the refresh latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// WithHydrateOnBuild toggles the background identity fetch started by Build.
func (b *Builder) WithHydrateOnBuild(enabled bool) *Builder {
	b.config.Session.HydrateOnBuild = enabled
	return b
}

// Build validates the configuration, opens the credential store and returns a
// ready Client. When hydration is enabled it starts in the background; use
// [Client.WaitReady] to wait for it.
func (b *Builder) Build() (*Client, error) {
	return b.BuildContext(context.Background())
}

// BuildContext is Build with a context bounding backend connection setup.
func (b *Builder) BuildContext(ctx context.Context) (*Client, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}
	cfg := b.config
	if b.store != nil && cfg.Store.Backend == "" {
		cfg.Store.Backend = BackendMemory
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := b.logger
	if log == nil {
		log = zap.NewNop()
		if cfg.Log.Level != "" {
			built, err := NewLogger(cfg.Log.Level)
			if err != nil {
				return nil, err
			}
			log = built
		}
	}
	log = log.With(zap.String("profile", cfg.Store.Profile))

	store := b.store
	var closers []func()
	if store == nil {
		opened, closer, err := openStore(ctx, cfg, b.deps)
		if err != nil {
			return nil, err
		}
		store = opened
		if closer != nil {
			closers = append(closers, closer)
		}
	}
	b.built = true

	base := b.transport
	if base == nil {
		base = http.DefaultTransport
	}
	raw := &http.Client{Transport: base, Timeout: cfg.API.Timeout}

	sink := b.eventSink
	if sink == nil {
		sink = audit.NewZapSink(log)
	}

	nav := b.navigator
	if nav == nil {
		nav = NewRouteNavigator(cfg.Session.LoginRoute, logRedirect(log))
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:      cfg,
		log:      log,
		store:    store,
		metrics:  NewMetrics(cfg.Metrics),
		events:   audit.NewDispatcher(audit.Config{Enabled: cfg.Events.Enabled, BufferSize: cfg.Events.BufferSize, DropIfFull: cfg.Events.DropIfFull, Logger: log.Named("events")}, sink),
		nav:      nav,
		closers:  closers,
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
		ready:    make(chan struct{}),
		loading:  true,
		subs:     make(map[chan State]struct{}),
	}

	refreshDeps := flows.RefreshDeps{Client: raw, URL: cfg.endpoint(cfg.API.RefreshPath)}
	coord, err := refresh.New(refresh.Config{
		Store: store,
		Refresher: func(ctx context.Context, refreshToken string) (credential.Tokens, error) {
			res := flows.RunRefresh(ctx, refreshToken, refreshDeps)
			if res.Failure != flows.RefreshFailureNone {
				return credential.Tokens{}, res.Err
			}
			return credential.Tokens{AccessToken: res.Token.AccessToken, RefreshToken: res.Token.RefreshToken}, nil
		},
		Timeout: cfg.Session.RefreshTimeout,
		Hooks:   c.coordinatorHooks(),
		Logger:  log.Named("refresh"),
	})
	if err != nil {
		bgCancel()
		for _, fn := range closers {
			fn()
		}
		return nil, err
	}
	c.coord = coord

	skip := middleware.MatchPaths(cfg.API.LoginPath, cfg.API.RefreshPath, flows.PathSetupPassword)
	stages := []middleware.Middleware{
		middleware.RequestID(),
		middleware.Refresh(coord, skip),
		middleware.Logging(log.Named("http")),
		middleware.Bearer(store, skip),
	}
	stages = append(stages, b.extra...)
	c.http = &http.Client{Transport: middleware.Chain(base, stages...), Timeout: cfg.API.Timeout}

	c.flows = flows.New(flows.Deps{
		Login:    flows.LoginDeps{Client: c.http, URL: cfg.endpoint(cfg.API.LoginPath)},
		Refresh:  refreshDeps,
		Identity: flows.IdentityDeps{Client: c.http, URL: cfg.endpoint(cfg.API.IdentityPath)},
		Account:  flows.CallDeps{Client: c.http, BaseURL: strings.TrimRight(cfg.API.BaseURL, "/")},
	})

	if cfg.Session.HydrateOnBuild {
		c.hydrateInBackground()
	}
	return c, nil
}

// GRPCInterceptor returns a unary client interceptor sharing this client's
// credentials and refresh coordinator. Methods matched by skip are sent as-is.
func (c *Client) GRPCInterceptor(skip middleware.MethodMatcher) grpc.UnaryClientInterceptor {
	return middleware.UnaryClientInterceptor(c.store, c.coord, skip)
}
