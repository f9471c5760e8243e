// Command celerity-runtime is the runtime's process entrypoint,
// following the teacher's cmd/orchestrator/main.go shape: bootstrap
// shared components, build the composition root, run until a shutdown
// signal arrives. Business logic (HTTP handlers, WebSocket routes,
// consumer handlers, workflow step handlers) is the SDK's FFI boundary
// per spec.md §1; this binary registers none of its own, so an unbound
// handler resource is logged as a warning, while a blueprint with any
// consumer resource fails to start. Real deployments embed
// container.New with a HandlerRegistry built from generated binding
// code instead of calling this main().
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang-jwt/jwt/v5"

	"github.com/celerity/runtime-go/cmd/celerity-runtime/container"
	"github.com/celerity/runtime-go/common/bootstrap"
	"github.com/celerity/runtime-go/internal/authguard"
	"github.com/celerity/runtime-go/internal/blueprint"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := bootstrap.Setup(ctx, "celerity-runtime")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to bootstrap celerity-runtime: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(context.Background())

	bp, err := blueprint.Load(components.Config.Service.BlueprintPath, func(warning string) {
		components.Logger.Warn("blueprint warning", "message", warning)
	})
	if err != nil {
		components.Logger.Error("failed to load blueprint", "error", err)
		os.Exit(1)
	}

	jwtGuard := buildJWTGuard()

	c, err := container.New(ctx, components, bp, jwtGuard, container.HandlerRegistry{})
	if err != nil {
		components.Logger.Error("failed to build runtime", "error", err)
		os.Exit(1)
	}

	components.Logger.Info("celerity-runtime starting",
		"service", components.Config.Service.Name,
		"platform", components.Config.Service.Platform,
		"port", components.Config.Service.Port,
	)

	if err := c.Run(ctx); err != nil {
		components.Logger.Error("runtime exited with error", "error", err)
		os.Exit(1)
	}
}

// buildJWTGuard wires a JWTGuard from CELERITY_JWT_* environment
// entries. The verification key itself is a consumed OIDC/JWKS
// collaborator per spec.md §1; celerity-runtime's default is a static
// shared secret, suitable for CELERITY_TEST_MODE and single-issuer
// deployments.
func buildJWTGuard() *authguard.JWTGuard {
	secret := []byte(os.Getenv("CELERITY_JWT_SECRET"))
	return &authguard.JWTGuard{
		KeyFunc:  func(*jwt.Token) (any, error) { return secret, nil },
		Issuer:   os.Getenv("CELERITY_JWT_ISSUER"),
		Audience: os.Getenv("CELERITY_JWT_AUDIENCE"),
	}
}
