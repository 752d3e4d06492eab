package mcp

import (
	"context"
	"encoding/json"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/koe/internal/agents"
	"github.com/ashita-ai/koe/internal/model"
	"github.com/ashita-ai/koe/internal/quota"
	"github.com/ashita-ai/koe/internal/testutil"
)

func newTestServer(t *testing.T) (*Server, *quota.MemoryStore) {
	t.Helper()
	store := quota.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	return New(agents.New(), store, testutil.TestLogger(), "test"), store
}

// callToolRequest builds a CallToolRequest with the given arguments.
func callToolRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// textContent extracts the first TextContent text from a CallToolResult.
func textContent(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no TextContent found in tool result")
	return ""
}

func TestQuotaStatusTool(t *testing.T) {
	srv, store := newTestServer(t)

	require.NoError(t, store.Settle(context.Background(), "alice", "general", 100))

	result, err := srv.handleQuotaStatus(context.Background(),
		callToolRequest("koe_quota_status", map[string]any{"user_id": "alice"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp model.QuotaStatusResponse
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &resp))

	assert.Equal(t, "alice", resp.UserID)
	require.Len(t, resp.Agents, 2)
	byID := make(map[string]model.QuotaStatus)
	for _, a := range resp.Agents {
		byID[a.AgentID] = a
	}
	assert.Equal(t, 500.0, byID["general"].RemainingSeconds)
	assert.Equal(t, 900.0, byID["specialist"].RemainingSeconds)
}

func TestQuotaStatusToolDefaultsToAnonymous(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleQuotaStatus(context.Background(),
		callToolRequest("koe_quota_status", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp model.QuotaStatusResponse
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &resp))
	assert.Equal(t, "anonymous", resp.UserID)
}

func TestListAgentsTool(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleListAgents(context.Background(),
		callToolRequest("koe_list_agents", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var configs []agents.Config
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &configs))
	require.Len(t, configs, 2)
	assert.Equal(t, "general", configs[0].ID)
	assert.Equal(t, "specialist", configs[1].ID)
}

func TestAgentsResource(t *testing.T) {
	srv, _ := newTestServer(t)

	contents, err := srv.handleAgentsResource(context.Background(), mcplib.ReadResourceRequest{})
	require.NoError(t, err)
	require.Len(t, contents, 1)

	text, ok := contents[0].(mcplib.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, "koe://agents", text.URI)
	assert.Contains(t, text.Text, "general")
}
