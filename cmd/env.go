package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/policyscope/impact-cli/internal/impact"
	"github.com/policyscope/impact-cli/internal/resilience"
	"github.com/policyscope/impact-cli/internal/store"
	"github.com/policyscope/impact-cli/pkg/policyapi"
)

// env holds the initialized store, API client, and engine shared by the
// compute and serve commands.
type env struct {
	Store  store.Store
	Client policyapi.Client
	Engine *impact.Engine
}

// Close releases resources held by the environment.
func (e *env) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func httpClientFromConfig() *http.Client {
	return &http.Client{
		Timeout: time.Duration(cfg.API.TimeoutSecs) * time.Second,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "impacts.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv validates config for the given mode and sets up the store, the
// simulation API client, and the engine. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*env, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	client := policyapi.NewClient(
		policyapi.WithBaseURL(cfg.API.BaseURL),
		policyapi.WithCountry(cfg.API.Country),
		policyapi.WithHTTPClient(httpClientFromConfig()),
		policyapi.WithPollInterval(time.Duration(cfg.API.PollIntervalSecs)*time.Second),
		policyapi.WithMaxPolls(cfg.API.MaxPolls),
		policyapi.WithRateLimit(cfg.API.RequestsPerSec),
		policyapi.WithRetry(resilience.PolicyFromConfig(cfg.API.RetryMaxAttempts)),
	)

	return &env{
		Store:  st,
		Client: client,
		Engine: impact.NewEngine(client),
	}, nil
}
