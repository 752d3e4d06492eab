// Package mcp implements the Model Context Protocol server for Koe.
//
// The MCP server exposes quota and agent introspection through MCP
// resources and tools, allowing MCP-compatible AI agents to check their
// remaining voice budget before placing an assist call.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/koe/internal/agents"
	"github.com/ashita-ai/koe/internal/model"
	"github.com/ashita-ai/koe/internal/quota"
)

// Server wraps the MCP server with Koe's quota and agent layers.
type Server struct {
	mcpServer *mcpserver.MCPServer
	registry  *agents.Registry
	store     quota.Store
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources and tools.
func New(registry *agents.Registry, store quota.Store, logger *slog.Logger, version string) *Server {
	s := &Server{
		registry: registry,
		store:    store,
		logger:   logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"koe",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerResources() {
	// koe://agents — the registered agent configurations.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"koe://agents",
			"Registered Agents",
			mcplib.WithResourceDescription("All registered voice agents with their voices and daily quotas"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleAgentsResource,
	)
}

func (s *Server) registerTools() {
	// koe_quota_status — remaining per-agent budget for a user.
	s.mcpServer.AddTool(
		mcplib.NewTool("koe_quota_status",
			mcplib.WithDescription("Report the remaining daily voice budget for each agent, for one user"),
			mcplib.WithString("user_id", mcplib.Description("User identifier; omit for the shared anonymous user")),
		),
		s.handleQuotaStatus,
	)

	// koe_list_agents — the agent catalog.
	s.mcpServer.AddTool(
		mcplib.NewTool("koe_list_agents",
			mcplib.WithDescription("List the registered voice agents with their default voices and daily quota limits"),
		),
		s.handleListAgents,
	)
}

func (s *Server) handleAgentsResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(s.registry.All(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal agents: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "koe://agents",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleQuotaStatus(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	userID := request.GetString("user_id", "anonymous")

	statuses := make([]model.QuotaStatus, 0, len(s.registry.All()))
	for _, agent := range s.registry.All() {
		adm, err := s.store.CheckAdmission(ctx, userID, agent.ID, agent.DailyQuotaSeconds, 0)
		if err != nil {
			return errorResult(fmt.Sprintf("quota lookup failed for %s: %v", agent.ID, err)), nil
		}
		statuses = append(statuses, model.QuotaStatus{
			AgentID:           agent.ID,
			RemainingSeconds:  adm.RemainingSeconds,
			DailyLimitSeconds: adm.LimitSeconds,
		})
	}

	data, err := json.MarshalIndent(model.QuotaStatusResponse{
		UserID: userID,
		Agents: statuses,
	}, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal quota status: %v", err)), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}

func (s *Server) handleListAgents(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(s.registry.All(), "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal agents: %v", err)), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return mcplib.NewToolResultError(msg)
}
