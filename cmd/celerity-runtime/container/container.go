// Package container is the composition root for the celerity-runtime
// binary: it reads a resolved blueprint and a HandlerRegistry supplying
// the process's business logic (the language-binding SDK surface is a
// consumed FFI boundary per spec.md §1; this package never implements
// step/route logic itself) and wires every internal/ subsystem together,
// following the teacher's cmd/orchestrator/container.go
// "initialize bottom-up, hold everything on one struct" shape.
package container

import (
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/celerity/runtime-go/common/bootstrap"
	"github.com/celerity/runtime-go/internal/ack"
	"github.com/celerity/runtime-go/internal/authguard"
	"github.com/celerity/runtime-go/internal/blueprint"
	"github.com/celerity/runtime-go/internal/consumer"
	"github.com/celerity/runtime-go/internal/executionstore"
	"github.com/celerity/runtime-go/internal/httpserver"
	"github.com/celerity/runtime-go/internal/lock"
	"github.com/celerity/runtime-go/internal/template"
	"github.com/celerity/runtime-go/internal/workflow"
	"github.com/celerity/runtime-go/internal/wsregistry"
)

// HandlerRegistry is the process's FFI boundary. A consumer's `handler`
// name missing from Consumer makes construction fail; a handler resource
// missing from HTTP is logged as a warning and gets no route; an
// execute-step state with no entry under its workflow and state name in
// Workflow fails with MissingHandler when it runs.
type HandlerRegistry struct {
	HTTP     map[string]echo.HandlerFunc
	WS       map[string]httpserver.WSRouteHandler
	Consumer map[string]consumer.Handler
	// Workflow maps a workflow resource name to its state handlers,
	// keyed by state name.
	Workflow map[string]map[string]workflow.StepHandler
	// CustomGuards registers named custom auth guards referenced by
	// "custom:<name>" guard references.
	CustomGuards map[string]authguard.CustomGuardFunc
}

// Container holds every wired subsystem for one runtime node.
type Container struct {
	Components *bootstrap.Components
	Blueprint  *blueprint.Blueprint

	Locks       *lock.Manager
	AckWorker   *ack.Worker
	Registry    *wsregistry.Registry
	Bus         *wsregistry.RedisBus
	Broadcaster *workflow.Broadcaster
	Store       workflow.ExecutionStore
	Engine      *template.Engine
	Server      *httpserver.Server

	Instances     map[string]*workflow.Instance
	consumerPools []runnable
	nodeID        string
}

type runnable interface {
	Run(ctx context.Context)
}

// New wires every subsystem named by bp, failing fast (per spec.md §7's
// "configuration errors are fatal at startup") if a consumer resource
// references a handler name missing from reg.Consumer. Missing HTTP and
// workflow step handlers do not fail construction (see HandlerRegistry).
func New(ctx context.Context, components *bootstrap.Components, bp *blueprint.Blueprint, jwtGuard authguard.Guard, reg HandlerRegistry) (*Container, error) {
	nodeID := components.Config.Service.Name + "-" + uniqueSuffix()
	components.Logger = components.Logger.WithNodeID(nodeID)

	c := &Container{
		Components: components,
		Blueprint:  bp,
		nodeID:     nodeID,
		Instances:  make(map[string]*workflow.Instance),
	}

	c.Locks = lock.NewManager(components.Redis, nodeID)
	c.AckWorker = ack.NewWorker(ctx, ack.DefaultConfig())
	c.Bus = wsregistry.NewRedisBus(components.Redis, components.Config.Service.Name, components.Logger)
	c.Registry = wsregistry.NewRegistry(nodeID, c.Bus, c.AckWorker)
	c.Broadcaster = workflow.NewBroadcaster()
	c.Engine = template.NewEngine()

	if components.DB != nil {
		c.Store = executionstore.NewPostgresStore(components.DB, components.Logger)
	} else {
		c.Store = executionstore.NewMemoryStore()
	}

	customGuards := authguard.NewRegistry()
	for name, fn := range reg.CustomGuards {
		customGuards.RegisterCustom(name, fn)
	}
	guards := httpserver.GuardResolver{JWT: jwtGuard, Custom: customGuards}

	if err := c.buildWorkflows(bp, reg); err != nil {
		return nil, err
	}

	if err := c.buildConsumers(ctx, bp, reg); err != nil {
		return nil, err
	}

	srv, err := httpserver.New(bp, reg.HTTP, reg.WS, c.Registry, guards, components.Logger)
	if err != nil {
		return nil, fmt.Errorf("build http server: %w", err)
	}
	c.Server = srv

	return c, nil
}

func (c *Container) buildWorkflows(bp *blueprint.Blueprint, reg HandlerRegistry) error {
	for name, res := range bp.Resources {
		if res.Type != blueprint.ResourceTypeWorkflow {
			continue
		}
		spec, err := blueprint.DecodeWorkflowSpec(res.Spec)
		if err != nil {
			return fmt.Errorf("decode workflow %q: %w", name, err)
		}
		handlers := reg.Workflow[name]
		if handlers == nil {
			handlers = map[string]workflow.StepHandler{}
		}
		c.Instances[name] = workflow.NewInstance(spec, handlers, c.Store, c.Broadcaster, c.Engine, c.Components.Logger)
	}
	return nil
}

func (c *Container) buildConsumers(ctx context.Context, bp *blueprint.Blueprint, reg HandlerRegistry) error {
	var sqsClient *sqs.Client

	for name, res := range bp.Resources {
		if res.Type != blueprint.ResourceTypeConsumer {
			continue
		}
		spec := blueprint.DecodeConsumerSpec(res.Spec)

		handler, ok := reg.Consumer[spec.Handler]
		if !ok {
			return fmt.Errorf("consumer %q references unregistered handler %q", name, spec.Handler)
		}

		cfg := overlayConsumerConfig(consumer.DefaultConfig(), spec)

		switch spec.Source {
		case blueprint.ConsumerSourceSQS:
			if sqsClient == nil {
				awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
				if err != nil {
					return fmt.Errorf("load AWS config for consumer %q: %w", name, err)
				}
				sqsClient = sqs.NewFromConfig(awsCfg)
			}
			c.consumerPools = append(c.consumerPools, consumer.NewSQSPool(sqsClient, c.Locks, c.Components.Logger, spec.QueueURL, cfg, handler))
		default:
			c.consumerPools = append(c.consumerPools, consumer.NewRedisStreamPool(c.Components.Redis, c.Locks, c.Components.Logger, spec.Stream, cfg, handler))
		}
	}
	return nil
}

func overlayConsumerConfig(base consumer.Config, spec blueprint.ConsumerSpec) consumer.Config {
	if !spec.HasOverrides {
		if spec.DLQStream != "" {
			base.DLQStream = spec.DLQStream
		}
		if spec.DLQQueueURL != "" {
			base.DLQQueueURL = spec.DLQQueueURL
		}
		return base
	}
	if spec.BatchSize > 0 {
		base.BatchSize = spec.BatchSize
	}
	if spec.NumWorkers > 0 {
		base.NumWorkers = spec.NumWorkers
	}
	if spec.MaxRetries > 0 {
		base.MaxRetries = spec.MaxRetries
	}
	if spec.BlockTime > 0 {
		base.BlockTime = spec.BlockTime
	}
	if spec.LockDuration > 0 {
		base.LockDuration = spec.LockDuration
	}
	if spec.MessageHandlerTimeout > 0 {
		base.MessageHandlerTimeout = spec.MessageHandlerTimeout
	}
	if spec.PollingWaitTime > 0 {
		base.PollingWaitTime = spec.PollingWaitTime
	}
	if spec.BaseDelay > 0 {
		base.BaseDelay = spec.BaseDelay
	}
	if spec.MaxDelay > 0 {
		base.MaxDelay = spec.MaxDelay
	}
	if spec.BackoffRate > 0 {
		base.BackoffRate = spec.BackoffRate
	}
	if spec.TrimStreamIntervalSecs != 0 {
		base.TrimStreamInterval = secondsToDuration(spec.TrimStreamIntervalSecs)
	}
	if spec.DLQStream != "" {
		base.DLQStream = spec.DLQStream
	}
	if spec.DLQQueueURL != "" {
		base.DLQQueueURL = spec.DLQQueueURL
	}
	return base
}

// Run starts every consumer pool and the bus listener, then serves HTTP
// until ctx is cancelled.
func (c *Container) Run(ctx context.Context) error {
	go c.Bus.Listen(ctx, c.nodeID, c.Registry)
	go c.Registry.RunAckLoop(ctx)

	for _, pool := range c.consumerPools {
		go pool.Run(ctx)
	}

	addr := fmt.Sprintf(":%d", c.Components.Config.Service.Port)
	if c.Components.Config.Service.LoopbackOnly {
		addr = fmt.Sprintf("127.0.0.1:%d", c.Components.Config.Service.Port)
	}
	return c.Server.Start(ctx, addr)
}

func uniqueSuffix() string {
	return uuid.NewString()[:8]
}

func secondsToDuration(n int) time.Duration {
	return time.Duration(n) * time.Second
}
