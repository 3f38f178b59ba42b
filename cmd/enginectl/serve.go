package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowcoreio/enginecore/internal/container"
	"github.com/flowcoreio/enginecore/internal/event/router"
	"github.com/flowcoreio/enginecore/internal/event/store"
	"github.com/flowcoreio/enginecore/internal/event/store/boltstore"
	"github.com/flowcoreio/enginecore/internal/event/stream"
	"github.com/flowcoreio/enginecore/internal/event/version"
	"github.com/flowcoreio/enginecore/internal/health"
	"github.com/flowcoreio/enginecore/internal/lifecycle"
	"github.com/flowcoreio/enginecore/internal/mcp/pool"
	"github.com/flowcoreio/enginecore/internal/mcp/poolnode"
	"github.com/flowcoreio/enginecore/internal/mcp/protocol"
	"github.com/flowcoreio/enginecore/internal/mcp/toolserver"
	"github.com/flowcoreio/enginecore/internal/mcp/transport"
	"github.com/flowcoreio/enginecore/internal/node"
	"github.com/flowcoreio/enginecore/internal/registry"
	"github.com/flowcoreio/enginecore/internal/workflow"
	"github.com/flowcoreio/enginecore/pkg/breaker"
	"github.com/flowcoreio/enginecore/pkg/broker"
	"github.com/flowcoreio/enginecore/pkg/broker/memory"
	"github.com/flowcoreio/enginecore/pkg/config"
	"github.com/flowcoreio/enginecore/pkg/flowerrors"
	"github.com/flowcoreio/enginecore/pkg/logging"
)

// currentSchemaVersion is the schema version new events are routed at.
// Migrators registered against the schema manager carry older stored
// events forward to this version before they reach the router.
const currentSchemaVersion = 1

// migratingSubscriber upgrades an envelope to currentSchemaVersion before
// handing it to the wrapped stream.Subscriber, so the event router never
// has to special-case schema drift.
type migratingSubscriber struct {
	inner   stream.Subscriber
	manager *version.Manager
}

func (m *migratingSubscriber) Name() string { return m.inner.Name() }

func (m *migratingSubscriber) Handle(ctx context.Context, env *store.Envelope) error {
	migrated, err := m.manager.MigrateToVersion(env, currentSchemaVersion)
	if err != nil {
		return err
	}
	return m.inner.Handle(ctx, migrated)
}

var (
	serveDebug      bool
	serveSchemaDir  string
	serveEventStore string
)

// buildServerSpec turns one MCP_EXTERNAL_SERVER_<N>_* declaration into a
// pool.ServerSpec: it picks the transport constructor by es.Transport
// and carries the stable MCP_* pool tunables down into it.
func buildServerSpec(es config.ExternalServer, mcpCfg config.MCP) (pool.ServerSpec, error) {
	var newTransport func(sink transport.EventSink) transport.Transport

	switch es.Transport {
	case "stdio":
		newTransport = func(sink transport.EventSink) transport.Transport {
			return transport.NewStdioTransport(transport.StdioSpec{
				Command:     es.Command,
				Args:        es.Args,
				AutoRestart: mcpCfg.EnableAutoReconnect,
			}, sink)
		}
	case "websocket":
		reconnect := transport.DefaultReconnect
		reconnect.InitialDelay = mcpCfg.RetryDelay
		if mcpCfg.EnableAutoReconnect {
			reconnect.MaxAttempts = mcpCfg.RetryAttempts
		} else {
			reconnect.MaxAttempts = 1
		}
		newTransport = func(sink transport.EventSink) transport.Transport {
			return transport.NewWebSocketTransport(transport.WebSocketSpec{
				URL:       es.URI,
				Reconnect: reconnect,
			}, sink)
		}
	case "http":
		newTransport = func(sink transport.EventSink) transport.Transport {
			return transport.NewHTTPTransport(transport.HTTPSpec{
				URL:     es.URI,
				Headers: map[string]string{"User-Agent": fmt.Sprintf("%s/%s", mcpCfg.ClientName, mcpCfg.ClientVersion)},
			}, sink)
		}
	default:
		return pool.ServerSpec{}, flowerrors.NewConfiguration("cmd.serve", fmt.Sprintf("server %q: unknown transport %q", es.Name, es.Transport))
	}

	strategy := pool.StrategyLeastConnections
	if !mcpCfg.EnableLoadBalancing {
		strategy = pool.StrategyHealthBased
	}

	failureThreshold := uint32(mcpCfg.RetryAttempts)
	if failureThreshold == 0 {
		failureThreshold = 3
	}

	return pool.ServerSpec{
		ServerID:       es.Name,
		NewTransport:   newTransport,
		MaxConnections: mcpCfg.MaxConnectionsPerServer,
		MinIdle:        0,
		IdleTimeout:    mcpCfg.IdleTimeout,
		Strategy:       strategy,
		Breaker: breaker.Settings{
			FailureThreshold: failureThreshold,
			SuccessThreshold: 1,
			Timeout:          30 * time.Second,
			Window:           60 * time.Second,
		},
	}, nil
}

// splitToolInstance parses the "<tool>@<server>" node instance naming
// convention used by mcp.tool_call.<server> node types.
func splitToolInstance(instanceName string) (toolName, serverName string, ok bool) {
	idx := strings.LastIndex(instanceName, "@")
	if idx < 0 {
		return instanceName, "", false
	}
	return instanceName[:idx], instanceName[idx+1:], true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the workflow engine: runtime, MCP pool, tool server, and event infrastructure",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().BoolVar(&serveDebug, "debug", false, "enable debug logging")
	cmd.Flags().StringVar(&serveSchemaDir, "schema-dir", "./workflows", "directory of workflow schema YAML files")
	cmd.Flags().StringVar(&serveEventStore, "event-store", "./enginecore-events.db", "path to the bbolt event store file")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	level := logging.LevelInfo
	if serveDebug {
		level = logging.LevelDebug
	}
	logging.Init(level, os.Stderr)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	nodeRegistry := node.NewRegistry()

	schemaLoader := workflow.NewSchemaLoader(serveSchemaDir)
	if err := schemaLoader.LoadAll(); err != nil {
		logging.Warn("cmd.serve", "initial schema load failed: %v (continuing with no schemas)", err)
	}
	if err := schemaLoader.Watch(ctx); err != nil {
		logging.Warn("cmd.serve", "schema watch disabled: %v", err)
	}

	eventStore, err := boltstore.Open(serveEventStore)
	if err != nil {
		return err
	}
	defer eventStore.Close()

	// c is the composition root's dependency container: every shared
	// piece of infrastructure a future node constructor needs (the
	// broker, the connection pool, the schema manager, the registry) is
	// resolved through it by name rather than passed around ad hoc.
	c := container.New()
	if err := container.Register(c, "event-store", container.Singleton, func(*container.Container) (store.Store, error) {
		return eventStore, nil
	}, nil); err != nil {
		return err
	}
	if err := container.Register(c, "schema-manager", container.Singleton, func(*container.Container) (*version.Manager, error) {
		return version.New(), nil
	}, nil); err != nil {
		return err
	}
	if err := container.Register(c, "broker", container.Singleton, func(*container.Container) (broker.Broker, error) {
		return memory.New(), nil
	}, nil); err != nil {
		return err
	}
	if err := container.Register(c, "event-router", container.Singleton, func(c *container.Container) (*router.Router, error) {
		b, err := container.Resolve[broker.Broker](c, "broker")
		if err != nil {
			return nil, err
		}
		return router.New(router.Config{}, b), nil
	}, []string{"broker"}); err != nil {
		return err
	}
	if err := container.Register(c, "service-registry", container.Singleton, func(*container.Container) (registry.Registry, error) {
		return registry.New(), nil
	}, nil); err != nil {
		return err
	}
	if err := container.Register(c, "connection-pool", container.Singleton, func(*container.Container) (*pool.Pool, error) {
		return pool.New(), nil
	}, nil); err != nil {
		return err
	}
	if err := c.ValidateDependencies(); err != nil {
		return err
	}

	schemaManager, err := container.Resolve[*version.Manager](c, "schema-manager")
	if err != nil {
		return err
	}
	eventRouter, err := container.Resolve[*router.Router](c, "event-router")
	if err != nil {
		return err
	}
	svcRegistry, err := container.Resolve[registry.Registry](c, "service-registry")
	if err != nil {
		return err
	}
	connectionPool, err := container.Resolve[*pool.Pool](c, "connection-pool")
	if err != nil {
		return err
	}

	mcpCfg := config.LoadMCP()
	if mcpCfg.Enabled {
		for _, es := range config.LoadExternalServers() {
			if !es.Enabled {
				logging.Info("cmd.serve", "external MCP server %s disabled, skipping", es.Name)
				continue
			}
			spec, err := buildServerSpec(es, mcpCfg)
			if err != nil {
				return err
			}
			if err := connectionPool.RegisterServer(spec); err != nil {
				return err
			}

			// mcp.tool_call.<server> is a generic node type: a workflow
			// schema names it against any tool the server exposes, with
			// the tool name carried in the node's instance name as
			// "<tool>@<server>".
			nodeRegistry.Register("mcp.tool_call."+es.Name, func(instanceName string) (node.Node, error) {
				toolName, _, _ := splitToolInstance(instanceName)
				return poolnode.New(connectionPool, es.Name, toolName, instanceName), nil
			})

			if err := svcRegistry.Register(registry.ServiceInstance{
				ID:       "mcp-server:" + es.Name,
				Name:     es.Name,
				Endpoint: firstNonEmpty(es.URI, es.Command),
			}); err != nil {
				logging.Warn("cmd.serve", "registering external server %s in service registry: %v", es.Name, err)
			}

			checkCtx, cancel := context.WithTimeout(ctx, mcpCfg.ConnectionTimeout)
			lease, err := connectionPool.GetConnection(checkCtx, es.Name)
			cancel()
			if err != nil {
				logging.Warn("cmd.serve", "startup connectivity check for %s failed: %v", es.Name, err)
			} else {
				lease.Release()
				logging.Info("cmd.serve", "external MCP server %s reachable", es.Name)
			}
		}
	}

	lifecycleManager := lifecycle.New(svcRegistry)

	healthMonitor := health.New(svcRegistry, health.Config{})
	go healthMonitor.Run(ctx)

	eventStream := stream.New(stream.Config{Name: "router-feed", EventTypes: []string{"*"}}, eventStore)
	eventStream.Subscribe(&migratingSubscriber{inner: eventRouter, manager: schemaManager})
	go func() {
		if err := eventStream.Run(ctx); err != nil && ctx.Err() == nil {
			logging.Error("cmd.serve", err, "event stream exited")
		}
	}()

	protocolValidator := protocol.NewValidator(config.LoadProtocol())
	tools := toolserver.New(nodeRegistry, protocolValidator)

	logging.Info("cmd.serve", "enginecore runtime starting")

	if err := lifecycleManager.StartAll(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- tools.Serve(ctx)
	}()

	select {
	case <-ctx.Done():
		logging.Info("cmd.serve", "shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logging.Error("cmd.serve", err, "tool server exited")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), lifecycle.DefaultHookTimeout)
	defer cancel()
	stopErr := lifecycleManager.StopAll(shutdownCtx)
	connectionPool.Shutdown(shutdownCtx)
	return stopErr
}
