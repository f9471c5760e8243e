// Package httpserver implements the HTTP/WebSocket surface of spec.md
// §4.7: it binds a server on the configured port, registers one route
// per declared handler resource using its method/path annotations,
// applies a CORS middleware derived from the API spec, and runs the
// ordered auth-guard chain (internal/authguard) in front of every
// protected route. WebSocket upgrade, the $connect/$disconnect/$default
// reserved routes, and the binary wire format are handled in
// websocket.go. Grounded on the teacher's cmd/orchestrator/main.go echo
// wiring (setupEcho/setupMiddleware/registerRoutes shape) and
// cmd/orchestrator/middleware/auth.go's context-key claims pattern,
// generalized to the ordered chain described in
// original_source/libs/runtime/core/tests/http_auth_test.rs.
package httpserver

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/celerity/runtime-go/common/logger"
	"github.com/celerity/runtime-go/internal/authguard"
	"github.com/celerity/runtime-go/internal/blueprint"
	"github.com/celerity/runtime-go/internal/metrics"
	"github.com/celerity/runtime-go/internal/wsregistry"
)

// HealthCheckPath is the runtime's own health endpoint, which bypasses
// auth entirely per spec.md §4.7.
const HealthCheckPath = "/runtime/health/check"

// AuthContextKey is the echo.Context key the accumulated AuthContext is
// stored under after a successful guard chain evaluation.
const AuthContextKey = "celerity.authContext"

// GuardResolver resolves a blueprint.GuardRef to a concrete,
// named authguard.Guard. "jwt" resolves to the runtime's single
// configured JWTGuard; "custom:name" resolves via the custom guard
// registry.
type GuardResolver struct {
	JWT    authguard.Guard
	Custom *authguard.Registry
}

func (g GuardResolver) resolve(ref blueprint.GuardRef) (authguard.NamedGuard, bool) {
	switch ref.Kind {
	case "jwt":
		if g.JWT == nil {
			return authguard.NamedGuard{}, false
		}
		return authguard.NamedGuard{Name: "jwt", Guard: g.JWT}, true
	case "custom":
		guard, ok := g.Custom.Custom(ref.Name)
		if !ok {
			return authguard.NamedGuard{}, false
		}
		return authguard.NamedGuard{Name: ref.Name, Guard: guard}, true
	default:
		return authguard.NamedGuard{}, false
	}
}

// BuildChain resolves a handler's effective guard list: its own
// `protectedBy` override if non-empty, else the owning API's
// `defaultGuard`, else an empty (public) chain.
func (g GuardResolver) BuildChain(api blueprint.APISpec, handler blueprint.HandlerSpec) authguard.Chain {
	if handler.Public {
		return authguard.Chain{}
	}
	refs := handler.ProtectedBy
	if len(refs) == 0 {
		refs = api.DefaultGuard
	}
	chain := authguard.Chain{}
	for _, ref := range refs {
		if ng, ok := g.resolve(ref); ok {
			chain.Guards = append(chain.Guards, ng)
		}
	}
	return chain
}

// Server wraps an echo.Echo instance configured from a resolved
// blueprint.
type Server struct {
	Echo     *echo.Echo
	Registry *wsregistry.Registry
	log      *logger.Logger
}

// New builds a Server from the blueprint's `api`/`handler` resources.
// httpHandlers maps a handler resource name to the Go function that
// implements it (the language-binding SDK surface is a consumed FFI
// boundary per spec.md §1; in this runtime handlers are registered
// in-process by name). wsHandlers maps a WebSocket route name
// (including "$connect", "$disconnect", "$default") to its handler.
func New(bp *blueprint.Blueprint, httpHandlers map[string]echo.HandlerFunc, wsHandlers map[string]WSRouteHandler, registry *wsregistry.Registry, guards GuardResolver, log *logger.Logger) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(requestLogger(log))

	api := findAPISpec(bp)
	e.Use(echomw.CORSWithConfig(corsConfig(api.Cors)))
	e.Use(newRateLimiter(50, 100).middleware())

	e.GET(HealthCheckPath, func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	srv := &Server{Echo: e, Registry: registry, log: log}

	for name, res := range bp.Resources {
		if res.Type != blueprint.ResourceTypeHandler {
			continue
		}
		hs := blueprint.DecodeHandlerSpec(res.Metadata)
		if hs.Method == "" || hs.Path == "" {
			continue
		}
		fn, ok := httpHandlers[name]
		if !ok {
			log.Warn("no Go handler registered for handler resource", "handler", name)
			continue
		}
		chain := guards.BuildChain(api, hs)
		e.Add(hs.Method, hs.Path, authMiddleware(chain)(fn))
	}

	srv.registerWebSocketRoutes(bp, wsHandlers, guards, api)

	return srv, nil
}

// Start runs the server until ctx is cancelled, then gracefully shuts
// it down, mirroring the teacher's common/server/server.go Start
// lifecycle but driven by an injected context rather than its own
// signal.Notify so the caller's top-level bootstrap owns shutdown
// ordering across every runtime component, not just this one.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Echo}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.log.Info("http server shutting down")
		return srv.Shutdown(context.Background())
	}
}

func requestLogger(log *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			log.Debug("request",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", c.Response().Status,
			)
			return err
		}
	}
}

func corsConfig(cors blueprint.CorsSpec) echomw.CORSConfig {
	cfg := echomw.DefaultCORSConfig
	if len(cors.AllowOrigins) > 0 {
		cfg.AllowOrigins = cors.AllowOrigins
	}
	if len(cors.AllowMethods) > 0 {
		cfg.AllowMethods = cors.AllowMethods
	}
	if len(cors.AllowHeaders) > 0 {
		cfg.AllowHeaders = cors.AllowHeaders
	}
	return cfg
}

func findAPISpec(bp *blueprint.Blueprint) blueprint.APISpec {
	for _, res := range bp.Resources {
		if res.Type == blueprint.ResourceTypeAPI {
			return blueprint.DecodeAPISpec(res.Spec)
		}
	}
	return blueprint.APISpec{}
}

// authMiddleware evaluates chain in front of next. OPTIONS requests
// bypass auth (handled by CORS) and the runtime health check is never
// wrapped by this middleware to begin with.
func authMiddleware(chain authguard.Chain) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Method == http.MethodOptions {
				return next(c)
			}
			authCtx, err := chain.Evaluate(c.Request())
			if err != nil {
				if guardErr, ok := err.(*authguard.Error); ok {
					return c.JSON(guardErr.Kind.StatusCode(), map[string]string{"error": guardErr.Reason})
				}
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
			}
			c.Set(AuthContextKey, authCtx)
			return next(c)
		}
	}
}

// AuthContext retrieves the accumulated guard claims from an echo
// request context, set by authMiddleware on success.
func AuthContext(c echo.Context) authguard.AuthContext {
	v, _ := c.Get(AuthContextKey).(authguard.AuthContext)
	return v
}
