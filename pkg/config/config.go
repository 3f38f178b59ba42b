// Package config loads engine configuration from environment variables,
// following the env-first convention the engine inherits from its
// teacher's configuration loader. It reads no files; workflow schema
// YAML is loaded by internal/workflow.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Protocol holds the MCP protocol validation bounds and defaults. These
// are internal tuning knobs, not part of the stable cross-implementation
// environment contract, so they keep their own MCP_MAX_* names.
type Protocol struct {
	MaxMessageSize  int
	MaxMethodLength int
	MaxIDLength     int
	MaxDepth        int
	MaxArrayLength  int
	ConnectTimeout  time.Duration
}

// DefaultProtocol matches the defaults recorded in SPEC_FULL.md §4,
// carried over from the original implementation's
// validation module: 1 MiB messages, depth 100, arrays of 10000, method
// names up to 100 chars, ids up to 1000 chars, and a 30s connect timeout.
var DefaultProtocol = Protocol{
	MaxMessageSize:  1 << 20,
	MaxMethodLength: 100,
	MaxIDLength:     1000,
	MaxDepth:        100,
	MaxArrayLength:  10000,
	ConnectTimeout:  30 * time.Second,
}

// LoadProtocol builds a Protocol from MCP_* environment variables,
// falling back to DefaultProtocol for anything unset or unparsable.
func LoadProtocol() Protocol {
	p := DefaultProtocol
	p.MaxMessageSize = envInt("MCP_MAX_MESSAGE_SIZE", p.MaxMessageSize)
	p.MaxMethodLength = envInt("MCP_MAX_METHOD_LENGTH", p.MaxMethodLength)
	p.MaxIDLength = envInt("MCP_MAX_ID_LENGTH", p.MaxIDLength)
	p.MaxDepth = envInt("MCP_MAX_DEPTH", p.MaxDepth)
	p.MaxArrayLength = envInt("MCP_MAX_ARRAY_LENGTH", p.MaxArrayLength)
	p.ConnectTimeout = envDuration("MCP_CONNECT_TIMEOUT", p.ConnectTimeout)
	return p
}

// MCP holds the pool- and client-wide settings named by the stable
// cross-implementation environment contract. Every field here is backed
// by one of the MCP_* variables an operator can set regardless of which
// implementation of this engine they're running.
type MCP struct {
	Enabled                 bool
	ClientName              string
	ClientVersion           string
	MaxConnectionsPerServer int
	ConnectionTimeout       time.Duration
	IdleTimeout             time.Duration
	RetryAttempts           int
	RetryDelay              time.Duration
	HealthCheckInterval     time.Duration
	EnableLoadBalancing     bool
	EnableAutoReconnect     bool
}

// DefaultMCP is used for anything not set in the environment.
var DefaultMCP = MCP{
	Enabled:                 true,
	ClientName:              "enginecore",
	ClientVersion:           "1.0.0",
	MaxConnectionsPerServer: 10,
	ConnectionTimeout:       30 * time.Second,
	IdleTimeout:             5 * time.Minute,
	RetryAttempts:           3,
	RetryDelay:              500 * time.Millisecond,
	HealthCheckInterval:     15 * time.Second,
	EnableLoadBalancing:     true,
	EnableAutoReconnect:     true,
}

// LoadMCP builds an MCP config from the stable MCP_* environment
// variables, falling back to DefaultMCP for anything unset or
// unparsable.
func LoadMCP() MCP {
	m := DefaultMCP
	m.Enabled = envBool("MCP_ENABLED", m.Enabled)
	m.ClientName = envString("MCP_CLIENT_NAME", m.ClientName)
	m.ClientVersion = envString("MCP_CLIENT_VERSION", m.ClientVersion)
	m.MaxConnectionsPerServer = envInt("MCP_MAX_CONNECTIONS_PER_SERVER", m.MaxConnectionsPerServer)
	m.ConnectionTimeout = envSeconds("MCP_CONNECTION_TIMEOUT_SECONDS", m.ConnectionTimeout)
	m.IdleTimeout = envSeconds("MCP_IDLE_TIMEOUT_SECONDS", m.IdleTimeout)
	m.RetryAttempts = envInt("MCP_RETRY_ATTEMPTS", m.RetryAttempts)
	m.RetryDelay = envMillis("MCP_RETRY_DELAY_MS", m.RetryDelay)
	m.HealthCheckInterval = envSeconds("MCP_HEALTH_CHECK_INTERVAL_SECONDS", m.HealthCheckInterval)
	m.EnableLoadBalancing = envBool("MCP_ENABLE_LOAD_BALANCING", m.EnableLoadBalancing)
	m.EnableAutoReconnect = envBool("MCP_ENABLE_AUTO_RECONNECT", m.EnableAutoReconnect)
	return m
}

// ExternalServer is one upstream MCP server declared through the
// MCP_EXTERNAL_SERVER_<N>_* indexed family. The composition root turns
// these into pool.ServerSpecs, picking a transport.Transport
// constructor by Transport.
type ExternalServer struct {
	Name      string
	Enabled   bool
	Transport string // stdio, websocket, http
	URI       string
	Command   string
	Args      []string
}

// LoadExternalServers reads MCP_EXTERNAL_SERVER_1_*, _2_*, ... until it
// hits an index with no _NAME set, per §6's per-server family.
func LoadExternalServers() []ExternalServer {
	var servers []ExternalServer
	for n := 1; ; n++ {
		prefix := fmt.Sprintf("MCP_EXTERNAL_SERVER_%d_", n)
		name, ok := os.LookupEnv(prefix + "NAME")
		if !ok {
			break
		}
		servers = append(servers, ExternalServer{
			Name:      name,
			Enabled:   envBool(prefix+"ENABLED", true),
			Transport: envString(prefix+"TRANSPORT", "stdio"),
			URI:       envString(prefix+"URI", ""),
			Command:   envString(prefix+"COMMAND", ""),
			Args:      envArgs(prefix + "ARGS"),
		})
	}
	return servers
}

func envInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// envSeconds parses key as a plain integer count of seconds, matching
// the _SECONDS suffix convention of the stable MCP_* variables.
func envSeconds(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return time.Duration(n) * time.Second
}

// envMillis parses key as a plain integer count of milliseconds,
// matching the _MS suffix convention of MCP_RETRY_DELAY_MS.
func envMillis(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return time.Duration(n) * time.Millisecond
}

func envBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envArgs(key string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	return strings.Fields(v)
}
