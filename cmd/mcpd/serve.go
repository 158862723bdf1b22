package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fyrsmith/mcpd/broker"
	"github.com/fyrsmith/mcpd/lock"
	"github.com/fyrsmith/mcpd/mcp"
	"github.com/fyrsmith/mcpd/mcp/auth"
	"github.com/fyrsmith/mcpd/mcp/logging"
	"github.com/fyrsmith/mcpd/mcp/schema"
	"github.com/fyrsmith/mcpd/mcp/tasks"
	"github.com/fyrsmith/mcpd/store"
	httptransport "github.com/fyrsmith/mcpd/transport/server/http"
	"github.com/fyrsmith/mcpd/transport/server/http/streamable"
	"github.com/fyrsmith/mcpd/transport/server/stdio"
)

// runtime bundles everything serve wires up so it can be torn down in the
// right order on shutdown.
type runtime struct {
	logger      *logging.Logger
	redisClient *redis.Client
	refresh     *auth.RefreshLoop
	httpServer  *httptransport.Server
	streamable  *streamable.Handler
	stdioServer *stdio.Server
}

func serve(ctx context.Context, cfg *Config) error {
	rt := &runtime{logger: logging.New(nil)}
	if err := rt.logger.SetLevel(schema.LogLevel(cfg.LogLevel)); err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}

	if cfg.Store == "redis" || cfg.Broker == "redis" || cfg.Lock == "redis" {
		rt.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rt.redisClient.Close()
	}

	sessionStore, err := buildStore(cfg, rt.redisClient)
	if err != nil {
		return err
	}
	defer sessionStore.Close()

	msgBroker := buildBroker(cfg, rt.redisClient)
	defer msgBroker.Close()

	distLock := buildLock(cfg, rt.redisClient)

	var taskSvc *tasks.Service
	if cfg.TasksEnabled {
		taskSvc = tasks.New(sessionStore, msgBroker)
	}

	capabilities := schema.ServerCapabilities{
		Tools:     &schema.ToolsCapability{},
		Resources: &schema.ResourcesCapability{},
		Prompts:   &schema.PromptsCapability{},
		Logging:   map[string]interface{}{},
	}
	if taskSvc != nil {
		capabilities.Tasks = &schema.TasksCapability{}
	}

	server := mcp.NewServer(mcp.Options{
		ServerInfo:   schema.Implementation{Name: "mcpd", Version: "0.1.0"},
		Capabilities: capabilities,
		Tasks:        taskSvc,
		Logger:       rt.logger,
		Broker:       msgBroker,
	})
	// Hosts embedding this binary register tools/resources/prompts here,
	// before Freeze; this daemon ships none of its own.
	server.Freeze()

	var validator auth.Validator
	if cfg.Auth != "none" {
		validator, err = buildValidator(ctx, cfg)
		if err != nil {
			return err
		}
	}

	if cfg.Transport == "http" || cfg.Transport == "both" {
		if err := rt.startHTTP(ctx, cfg, server, sessionStore, msgBroker, distLock, validator); err != nil {
			return err
		}
	}
	if cfg.Transport == "stdio" || cfg.Transport == "both" {
		// When both transports run, SendToSession/BroadcastNotification
		// target the HTTP session table: stdio's single implicit session
		// is reached through the stdio pipe itself, not by id.
		rt.startStdio(ctx, server, cfg.Transport == "stdio")
	}

	<-ctx.Done()
	return rt.shutdown()
}

func buildStore(cfg *Config, rdb *redis.Client) (store.Store, error) {
	switch cfg.Store {
	case "redis":
		if rdb == nil {
			return nil, errors.New("config: redis client required for store=redis")
		}
		return store.NewRedis(rdb, cfg.KeyPrefix, cfg.HistoryCap), nil
	default:
		return store.NewMemory(cfg.HistoryCap), nil
	}
}

func buildBroker(cfg *Config, rdb *redis.Client) broker.Broker {
	if cfg.Broker == "redis" && rdb != nil {
		return broker.NewRedis(rdb)
	}
	return broker.NewMemory()
}

func buildLock(cfg *Config, rdb *redis.Client) lock.Lock {
	if cfg.Lock == "redis" && rdb != nil {
		return lock.NewRedis(rdb, cfg.KeyPrefix)
	}
	return lock.NewMemory()
}

func buildValidator(ctx context.Context, cfg *Config) (auth.Validator, error) {
	switch cfg.Auth {
	case "jwks":
		return auth.NewJWKSValidator(ctx, auth.JWKSOptions{
			JWKSURI:       cfg.JWKSURI,
			Issuer:        cfg.Issuer,
			Audience:      cfg.Audience,
			CheckAudience: cfg.CheckAudience,
		})
	case "introspection":
		return &auth.IntrospectionValidator{
			Endpoint:     cfg.IntrospectionURL,
			AuthMode:     auth.IntrospectionAuthMode(cfg.IntrospectionAuth),
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			HTTPClient:   &http.Client{Timeout: auth.DefaultHTTPTimeout},
		}, nil
	default:
		return nil, fmt.Errorf("config: unknown auth mode %q", cfg.Auth)
	}
}

func (rt *runtime) startHTTP(ctx context.Context, cfg *Config, server *mcp.Server, sessionStore store.Store, msgBroker broker.Broker, distLock lock.Lock, validator auth.Validator) error {
	opts := []streamable.Option{
		streamable.WithEventStore(store.AsEventStore(sessionStore)),
		streamable.WithIdleTTL(cfg.SessionIdleTTL),
		streamable.WithMaxLifetime(cfg.SessionMaxLifetime),
		streamable.WithCleanupInterval(cfg.SessionCleanupEvery),
	}
	handler := streamable.New(server.NewHandler(), opts...)
	server.AttachSessions(handler.Base())
	rt.streamable = handler

	httpMux := http.NewServeMux()
	httpMux.HandleFunc("/.well-known/mcp-resource-health", auth.ResourceHealthHandler())
	var mux http.Handler = httpMux
	if validator != nil {
		mw := &auth.Middleware{
			Validator:           validator,
			ResourceMetadataURL: cfg.ResourceMetadataURL,
		}
		httpMux.Handle("/", mw.Wrap(handler))
		if cfg.ResourceMetadataURL != "" {
			httpMux.HandleFunc("/.well-known/oauth-protected-resource", auth.ProtectedResourceHandler(auth.ProtectedResourceMetadata{
				Resource: cfg.ResourceMetadataURL,
			}))
		}
		if cfg.TokenURL != "" {
			rt.refresh = &auth.RefreshLoop{
				Store:   sessionStore,
				Broker:  msgBroker,
				Lock:    distLock,
				Refresh: tokenRefreshFunc(cfg.TokenURL, cfg.ClientID, cfg.ClientSecret),
			}
			go rt.refresh.Start(ctx)
		}
	} else {
		httpMux.Handle("/", handler)
	}

	rt.httpServer = httptransport.NewServer(cfg.HTTPAddr, mux)
	go func() {
		if err := rt.httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Log(ctx, schema.LogError, "http transport stopped", map[string]interface{}{"error": err.Error()})
		}
	}()
	return nil
}

func (rt *runtime) startStdio(ctx context.Context, server *mcp.Server, attachSessions bool) {
	srv := stdio.New(ctx, server.NewHandler())
	if attachSessions {
		server.AttachSessions(srv.Base())
	}
	rt.stdioServer = srv
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			rt.logger.Log(ctx, schema.LogError, "stdio transport stopped", map[string]interface{}{"error": err.Error()})
		}
	}()
}

func (rt *runtime) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if rt.refresh != nil {
		rt.refresh.Stop()
	}
	if rt.streamable != nil {
		rt.streamable.Close()
	}
	if rt.httpServer != nil {
		return rt.httpServer.Shutdown(ctx)
	}
	return nil
}
