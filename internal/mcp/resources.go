package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// registerResources adds MCP resource definitions to the server. Resources
// provide read-only data that LLM clients can load into their context.
func (s *MCPServer) registerResources(srv *server.MCPServer) {

	// -------------------------------------------------------------------
	// cardbox://accounts — list of all registered inbox accounts
	// -------------------------------------------------------------------
	srv.AddResource(
		mcp.NewResource(
			"cardbox://accounts",
			"Registered Inbox Accounts",
			mcp.WithResourceDescription(
				"List of all inbox accounts registered in Cardbox, "+
					"including their label and card-key TTL override.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handleAccountsResource,
	)

	// -------------------------------------------------------------------
	// cardbox://inbox/{owner} — retained messages for one account (template)
	// -------------------------------------------------------------------
	srv.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"cardbox://inbox/{owner}",
			"Account Inbox",
			mcp.WithTemplateDescription(
				"The retained messages of one inbox account, newest first, "+
					"including extracted body, sender, and source time.",
			),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleInboxResource,
	)
}

// handleAccountsResource returns a JSON list of all registered accounts.
func (s *MCPServer) handleAccountsResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	b, err := json.MarshalIndent(accounts, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal accounts: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "cardbox://accounts",
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

// handleInboxResource returns the retained messages for one account.
func (s *MCPServer) handleInboxResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	// Extract the owner from the URI: "cardbox://inbox/{owner}"
	uri := request.Params.URI
	owner := strings.TrimPrefix(uri, "cardbox://inbox/")
	if owner == "" || owner == uri {
		return nil, fmt.Errorf("invalid inbox URI %q: expected cardbox://inbox/{owner}", uri)
	}

	msgs, err := s.store.ListMessages(ctx, owner, maxMessageLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages for %q: %w", owner, err)
	}

	items := make([]messageInfo, len(msgs))
	for i := range msgs {
		items[i] = messageInfoOf(&msgs[i])
	}

	b, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal messages: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
