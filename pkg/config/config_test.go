package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadProtocolFallsBackToDefaults(t *testing.T) {
	t.Setenv("MCP_MAX_MESSAGE_SIZE", "")
	p := LoadProtocol()
	assert.Equal(t, DefaultProtocol.MaxMessageSize, p.MaxMessageSize)
	assert.Equal(t, DefaultProtocol.MaxDepth, p.MaxDepth)
}

func TestLoadProtocolHonorsEnvOverride(t *testing.T) {
	t.Setenv("MCP_MAX_DEPTH", "7")
	p := LoadProtocol()
	assert.Equal(t, 7, p.MaxDepth)
}

func TestLoadProtocolIgnoresUnparsableValue(t *testing.T) {
	t.Setenv("MCP_MAX_ARRAY_LENGTH", "not-a-number")
	p := LoadProtocol()
	assert.Equal(t, DefaultProtocol.MaxArrayLength, p.MaxArrayLength)
}

func TestLoadMCPFallsBackToDefaults(t *testing.T) {
	m := LoadMCP()
	assert.Equal(t, DefaultMCP, m)
}

func TestLoadMCPHonorsEnvOverride(t *testing.T) {
	t.Setenv("MCP_MAX_CONNECTIONS_PER_SERVER", "25")
	t.Setenv("MCP_IDLE_TIMEOUT_SECONDS", "60")
	t.Setenv("MCP_RETRY_DELAY_MS", "250")
	t.Setenv("MCP_ENABLE_LOAD_BALANCING", "false")

	m := LoadMCP()
	assert.Equal(t, 25, m.MaxConnectionsPerServer)
	assert.Equal(t, 60*time.Second, m.IdleTimeout)
	assert.Equal(t, 250*time.Millisecond, m.RetryDelay)
	assert.False(t, m.EnableLoadBalancing)
}

func TestLoadMCPIgnoresUnparsableValue(t *testing.T) {
	t.Setenv("MCP_RETRY_ATTEMPTS", "lots")
	m := LoadMCP()
	assert.Equal(t, DefaultMCP.RetryAttempts, m.RetryAttempts)
}

func TestLoadExternalServersStopsAtFirstGap(t *testing.T) {
	t.Setenv("MCP_EXTERNAL_SERVER_1_NAME", "filesystem")
	t.Setenv("MCP_EXTERNAL_SERVER_1_TRANSPORT", "stdio")
	t.Setenv("MCP_EXTERNAL_SERVER_1_COMMAND", "mcp-server-filesystem")
	t.Setenv("MCP_EXTERNAL_SERVER_1_ARGS", "--root /data --readonly")
	t.Setenv("MCP_EXTERNAL_SERVER_3_NAME", "skipped")

	servers := LoadExternalServers()
	assert.Len(t, servers, 1)
	assert.Equal(t, "filesystem", servers[0].Name)
	assert.Equal(t, "stdio", servers[0].Transport)
	assert.Equal(t, "mcp-server-filesystem", servers[0].Command)
	assert.Equal(t, []string{"--root", "/data", "--readonly"}, servers[0].Args)
	assert.True(t, servers[0].Enabled)
}

func TestLoadExternalServersHonorsDisabled(t *testing.T) {
	t.Setenv("MCP_EXTERNAL_SERVER_1_NAME", "metrics")
	t.Setenv("MCP_EXTERNAL_SERVER_1_ENABLED", "false")
	t.Setenv("MCP_EXTERNAL_SERVER_1_TRANSPORT", "websocket")
	t.Setenv("MCP_EXTERNAL_SERVER_1_URI", "ws://metrics.internal/mcp")

	servers := LoadExternalServers()
	assert.Len(t, servers, 1)
	assert.False(t, servers[0].Enabled)
	assert.Equal(t, "ws://metrics.internal/mcp", servers[0].URI)
}
