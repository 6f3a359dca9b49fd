package mcp

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/jcdickinson/implindex/internal/daemon"
	"github.com/jcdickinson/implindex/internal/rpc"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

//go:embed instructions.md
var instructions string

const resourceScheme = "rsimpl://"

// Backend is the daemon surface the MCP tools need. *daemon.Client
// satisfies it.
type Backend interface {
	Fetch(ctx context.Context, sources []rpc.FetchSpec, onProgress func(string)) ([]rpc.FetchResult, error)
	Query(ctx context.Context, trait string) (*rpc.QueryResponse, error)
	Render(ctx context.Context, req rpc.RenderRequest) (*rpc.RenderResponse, error)
	Traits(ctx context.Context) (*rpc.TraitsResponse, error)
}

type Server struct {
	mcpServer *server.MCPServer
	backend   Backend
}

func NewServer(socketPath string) (*Server, error) {
	client, err := daemon.ConnectOrSpawn(socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to daemon: %w", err)
	}
	return newServer(client), nil
}

func newServer(backend Backend) *Server {
	s := &Server{backend: backend}

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
		mcp.NewTool("query_implementors",
			mcp.WithDescription("List the known implementors of a Rust trait, in the order they were registered. Unknown traits return an empty list."),
			mcp.WithString("trait",
				mcp.Description("Fully qualified trait path (e.g., \"core::cmp::PartialOrd\")"),
				mcp.Required(),
			),
		),
		s.handleQuery,
	)

	mcpServer.AddTool(
		mcp.NewTool("list_traits",
			mcp.WithDescription("List every trait with registered implementors and how many each has."),
		),
		s.handleListTraits,
	)

	mcpServer.AddTool(
		mcp.NewTool("fetch_implementors",
			mcp.WithDescription("Pull implementor data for crates from docs.rs into the index. With `traits`, only those trait.impl files are fetched; without, every trait impl in the crate's rustdoc JSON is indexed. Synchronous; returns when complete."),
			fetchSchema,
		),
		s.handleFetch,
	)
}

func fetchSchema(t *mcp.Tool) {
	t.InputSchema.Required = append(t.InputSchema.Required, "sources")
	t.InputSchema.Properties["sources"] = map[string]any{
		"type":        "array",
		"description": "Crates to pull implementors from",
		"items": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"crate": map[string]any{
					"type":        "string",
					"description": "Crate name (e.g., \"bdk_chain\")",
				},
				"version": map[string]any{
					"type":        "string",
					"description": "Version (default: \"latest\")",
				},
				"traits": map[string]any{
					"type":        "array",
					"description": "Fully qualified trait paths to fetch",
					"items":       map[string]any{"type": "string"},
				},
			},
			"required": []string{"crate"},
		},
	}
}

func (s *Server) registerResources(mcpServer *server.MCPServer) {
	mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			resourceScheme+"{trait}",
			"Trait implementors",
			mcp.WithTemplateDescription("Rendered markdown list of a trait's implementors, e.g. rsimpl://core::cmp::PartialOrd."),
			mcp.WithTemplateMIMEType("text/markdown"),
		),
		s.handleReadResource,
	)
}

func (s *Server) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	trait, _ := req.GetArguments()["trait"].(string)
	trait = strings.TrimSpace(trait)
	if trait == "" {
		return mcp.NewToolResultError("missing required parameter: trait"), nil
	}

	resp, err := s.backend.Query(ctx, trait)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}

	type row struct {
		Text     string `json:"text"`
		Identity string `json:"identity"`
		Crate    string `json:"crate,omitempty"`
	}
	rows := make([]row, 0, len(resp.Entries))
	for _, e := range resp.Entries {
		rows = append(rows, row{Text: e.Text, Identity: e.Identity, Crate: e.Crate})
	}

	resultJSON, _ := json.MarshalIndent(map[string]any{
		"trait":        resp.Trait,
		"phase":        resp.Phase,
		"implementors": rows,
		"uri":          resourceScheme + resp.Trait,
	}, "", "  ")
	return mcp.NewToolResultText(string(resultJSON)), nil
}

func (s *Server) handleListTraits(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resp, err := s.backend.Traits(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("listing traits failed: %v", err)), nil
	}
	resultJSON, _ := json.MarshalIndent(resp.Traits, "", "  ")
	return mcp.NewToolResultText(string(resultJSON)), nil
}

func (s *Server) handleFetch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sourcesRaw, ok := req.GetArguments()["sources"]
	if !ok {
		return mcp.NewToolResultError("missing required parameter: sources"), nil
	}

	sourcesJSON, err := json.Marshal(sourcesRaw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid sources parameter: %v", err)), nil
	}

	var specs []rpc.FetchSpec
	if err := json.Unmarshal(sourcesJSON, &specs); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid sources format: %v", err)), nil
	}
	if len(specs) == 0 {
		return mcp.NewToolResultError("sources must not be empty"), nil
	}

	results, err := s.backend.Fetch(ctx, specs, nil)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to fetch implementors: %v", err)), nil
	}

	resultJSON, _ := json.MarshalIndent(results, "", "  ")
	return mcp.NewToolResultText(string(resultJSON)), nil
}

// traitFromURI extracts the trait path from rsimpl://<trait>. Clients may
// percent-encode the path.
func traitFromURI(uri string) (string, error) {
	if !strings.HasPrefix(uri, resourceScheme) {
		return "", fmt.Errorf("invalid resource URI: %s", uri)
	}
	trait, err := url.PathUnescape(strings.TrimPrefix(uri, resourceScheme))
	if err != nil {
		return "", fmt.Errorf("invalid resource URI %s: %w", uri, err)
	}
	trait = strings.TrimSuffix(strings.TrimSpace(trait), "/")
	if trait == "" {
		return "", fmt.Errorf("invalid resource URI: %s", uri)
	}
	return trait, nil
}

func (s *Server) handleReadResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	trait, err := traitFromURI(uri)
	if err != nil {
		return nil, err
	}

	resp, err := s.backend.Render(ctx, rpc.RenderRequest{Trait: trait})
	if err != nil {
		return nil, fmt.Errorf("rendering implementors: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/markdown",
			Text:     resp.Content,
		},
	}, nil
}

func (s *Server) Run() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) Shutdown(_ context.Context) error {
	return nil
}
