package mcp

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jcdickinson/implindex/internal/daemon"
	"github.com/jcdickinson/implindex/internal/implementors"
	md "github.com/jcdickinson/implindex/internal/markdown"
	"github.com/jcdickinson/implindex/internal/rpc"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

//go:embed instructions.md
var instructions string

// Backend is the daemon surface the MCP tools call.
type Backend interface {
	AddCrates(ctx context.Context, crates []rpc.CrateSpec, onProgress func(string)) (*rpc.AddCratesResponse, error)
	Implementors(ctx context.Context, trait string) (*rpc.ImplementorsResponse, error)
	Traits(ctx context.Context) (*rpc.TraitsResponse, error)
}

type Server struct {
	mcpServer *server.MCPServer
	backend   Backend
	title     string
}

func NewServer(socketPath, title string) (*Server, error) {
	client, err := daemon.ConnectOrSpawn(socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to daemon: %w", err)
	}
	return newServer(client, title), nil
}

func newServer(backend Backend, title string) *Server {
	if title == "" {
		title = "Implementors"
	}
	s := &Server{backend: backend, title: title}

	mcpServer := server.NewMCPServer(
		"implindex",
		"0.1.0",
		server.WithInstructions(instructions),
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.mcpServer = mcpServer
	return s
}

func (s *Server) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(
		mcp.NewTool("add_crates",
			mcp.WithDescription("Fetch Rust crate documentation from docs.rs and index every trait implementation it defines. Synchronous; returns when complete. Version defaults to \"latest\"."),
			addCratesSchema,
		),
		s.handleAddCrates,
	)

	mcpServer.AddTool(
		mcp.NewTool("trait_implementors",
			mcp.WithDescription("List the indexed implementors of a trait, grouped by crate, as markdown."),
			mcp.WithString("trait",
				mcp.Description("Full trait path, e.g. \"core::fmt::Debug\""),
				mcp.Required(),
			),
		),
		s.handleTraitImplementors,
	)

	mcpServer.AddTool(
		mcp.NewTool("list_traits",
			mcp.WithDescription("List every trait with indexed implementors, with implementor and crate counts."),
		),
		s.handleListTraits,
	)
}

func addCratesSchema(t *mcp.Tool) {
	t.InputSchema.Required = append(t.InputSchema.Required, "crates")
	t.InputSchema.Properties["crates"] = map[string]any{
		"type":        "array",
		"description": "List of crates to index",
		"items": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{
					"type":        "string",
					"description": "Crate name (e.g., \"serde\")",
				},
				"version": map[string]any{
					"type":        "string",
					"description": "Version (default: \"latest\")",
				},
			},
			"required": []string{"name"},
		},
	}
}

func (s *Server) registerResources(mcpServer *server.MCPServer) {
	mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			md.URIScheme+"{trait}",
			"Trait implementors",
			mcp.WithTemplateDescription("Implementors of a Rust trait across indexed crates. The URI path is the full trait path."),
			mcp.WithTemplateMIMEType("text/markdown"),
		),
		s.handleReadResource,
	)
}

func (s *Server) handleAddCrates(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	cratesRaw, ok := args["crates"]
	if !ok {
		return mcp.NewToolResultError("missing required parameter: crates"), nil
	}

	cratesJSON, err := json.Marshal(cratesRaw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid crates parameter: %v", err)), nil
	}

	var specs []rpc.CrateSpec
	if err := json.Unmarshal(cratesJSON, &specs); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid crates format: %v", err)), nil
	}

	resp, err := s.backend.AddCrates(ctx, specs, nil)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to add crates: %v", err)), nil
	}

	resultJSON, _ := json.MarshalIndent(resp.Results, "", "  ")
	return mcp.NewToolResultText(string(resultJSON)), nil
}

// document renders a trait's implementors page. Traits the daemon knows about
// are linked to their own resources.
func (s *Server) document(ctx context.Context, trait string) (string, error) {
	resp, err := s.backend.Implementors(ctx, trait)
	if err != nil {
		return "", err
	}
	groups := make(map[string][]string, len(resp.Groups))
	for _, g := range resp.Groups {
		groups[g.Crate] = g.Fragments
	}
	reg, err := implementors.Build(groups)
	if err != nil {
		return "", err
	}

	known := make(map[string]bool)
	if traits, err := s.backend.Traits(ctx); err == nil {
		for _, t := range traits.Traits {
			known[t.Path] = true
		}
	}
	return md.Document(s.title, trait, reg, known), nil
}

func (s *Server) handleTraitImplementors(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	trait, _ := req.GetArguments()["trait"].(string)
	if trait == "" {
		return mcp.NewToolResultError("missing required parameter: trait"), nil
	}

	doc, err := s.document(ctx, trait)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get implementors: %v", err)), nil
	}
	return mcp.NewToolResultText(doc), nil
}

func (s *Server) handleListTraits(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resp, err := s.backend.Traits(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list traits: %v", err)), nil
	}
	if len(resp.Traits) == 0 {
		return mcp.NewToolResultText("no traits indexed; call add_crates first"), nil
	}

	var b strings.Builder
	for _, t := range resp.Traits {
		fmt.Fprintf(&b, "- %s (%d implementors in %d crates) %s\n", t.Path, t.Implementors, t.Crates, md.TraitURI(t.Path))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handleReadResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	trait := strings.TrimPrefix(uri, md.URIScheme)
	if trait == uri || trait == "" {
		return nil, fmt.Errorf("invalid resource URI: %s", uri)
	}

	doc, err := s.document(ctx, trait)
	if err != nil {
		return nil, fmt.Errorf("getting implementors: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/markdown",
			Text:     doc,
		},
	}, nil
}

func (s *Server) Run() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) Shutdown(_ context.Context) error {
	return nil
}
