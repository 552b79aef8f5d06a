// Package atlassian searches Jira and Confluence through an MCP server.
//
// The backend is an MCP client. It connects lazily to a streamable-HTTP
// endpoint (bearer token via oauth2) and calls one of two server tools:
//
//	get_jira_issues      {jql, limit}
//	get_confluence_pages {query, limit}
//
// A sub-query written as "jql:<expression>" goes to Jira; anything else is a
// Confluence text search.
package atlassian

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/askd/internal/tools"
)

const (
	JiraTool       = "get_jira_issues"
	ConfluenceTool = "get_confluence_pages"

	// JQLPrefix marks a sub-query as a Jira JQL expression.
	JQLPrefix = "jql:"

	DefaultLimit = 10
	maxLimit     = 50
)

var (
	// ErrToolFailed wraps an error result reported by the MCP server.
	ErrToolFailed = errors.New("atlassian tool reported an error")
	// ErrNotConfigured is returned when neither an endpoint nor a connector is set.
	ErrNotConfigured = errors.New("atlassian endpoint is not configured")
)

// Connector opens a fresh MCP transport.
type Connector func(ctx context.Context) (mcp.Transport, error)

// Config configures the backend.
type Config struct {
	Endpoint string
	Token    string
	Limit    int
	// HTTPClient is the base client for the streamable transport.
	HTTPClient *http.Client
	// Connector overrides the streamable-HTTP transport.
	Connector Connector
	// Version is reported to the server during initialization.
	Version string
}

// Backend is the atlassian tool backend.
type Backend struct {
	client  *mcp.Client
	connect Connector
	limit   int
	logger  *zap.Logger

	mu      sync.Mutex
	session *mcp.ClientSession
}

// New creates a backend. No connection is made until the first call.
func New(cfg Config, logger *zap.Logger) (*Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	connect := cfg.Connector
	if connect == nil {
		if cfg.Endpoint == "" {
			return nil, ErrNotConfigured
		}
		connect = streamableConnector(cfg.Endpoint, cfg.Token, cfg.HTTPClient)
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	return &Backend{
		client:  mcp.NewClient(&mcp.Implementation{Name: "askd", Version: version}, nil),
		connect: connect,
		limit:   limit,
		logger:  logger.Named("atlassian"),
	}, nil
}

func streamableConnector(endpoint, token string, base *http.Client) Connector {
	return func(context.Context) (mcp.Transport, error) {
		httpClient := base
		if httpClient == nil {
			httpClient = http.DefaultClient
		}
		if token != "" {
			rt := httpClient.Transport
			if rt == nil {
				rt = http.DefaultTransport
			}
			httpClient = &http.Client{
				Timeout: httpClient.Timeout,
				Transport: &oauth2.Transport{
					Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
					Base:   rt,
				},
			}
		}
		return &mcp.StreamableClientTransport{Endpoint: endpoint, HTTPClient: httpClient}, nil
	}
}

func (b *Backend) ID() tools.ID { return tools.Atlassian }

func (b *Backend) Arguments(query string) map[string]any {
	return map[string]any{"query": query, "limit": b.limit}
}

// Call routes the query to Jira or Confluence and returns
// {source, tool, results}.
func (b *Backend) Call(ctx context.Context, args map[string]any) (any, error) {
	name, toolArgs, err := b.route(args)
	if err != nil {
		return nil, err
	}

	session, err := b.sessionFor(ctx)
	if err != nil {
		return nil, err
	}

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: toolArgs})
	if err != nil {
		b.reset(session)
		return nil, fmt.Errorf("calling %s: %w", name, err)
	}
	if res.IsError {
		return nil, fmt.Errorf("%w: %s: %s", ErrToolFailed, name, contentText(res))
	}

	b.logger.Debug("atlassian call completed", zap.String("tool", name))
	return map[string]any{
		"source":  sourceOf(name),
		"tool":    name,
		"results": decodeResult(res),
	}, nil
}

// route picks the server tool. An explicit "jql" argument wins over the
// prefix convention so corrected arguments from a diagnosis can target Jira.
func (b *Backend) route(args map[string]any) (string, map[string]any, error) {
	limit, err := tools.IntArgument(args, "limit", b.limit)
	if err != nil {
		return "", nil, err
	}
	if limit < 1 || limit > maxLimit {
		return "", nil, fmt.Errorf("%w: limit must be between 1 and %d, got %d", tools.ErrInvalidArgument, maxLimit, limit)
	}

	if jql, ok := args["jql"].(string); ok && strings.TrimSpace(jql) != "" {
		return JiraTool, map[string]any{"jql": strings.TrimSpace(jql), "limit": limit}, nil
	}

	query, err := tools.QueryArgument(args)
	if err != nil {
		return "", nil, err
	}
	query = strings.TrimSpace(query)
	if len(query) >= len(JQLPrefix) && strings.EqualFold(query[:len(JQLPrefix)], JQLPrefix) {
		jql := strings.TrimSpace(query[len(JQLPrefix):])
		if jql == "" {
			return "", nil, fmt.Errorf("%w: empty JQL expression", tools.ErrInvalidArgument)
		}
		return JiraTool, map[string]any{"jql": jql, "limit": limit}, nil
	}
	return ConfluenceTool, map[string]any{"query": query, "limit": limit}, nil
}

func (b *Backend) sessionFor(ctx context.Context) (*mcp.ClientSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session != nil {
		return b.session, nil
	}

	transport, err := b.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening MCP transport: %w", err)
	}
	session, err := b.client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to atlassian MCP server: %w", err)
	}
	b.logger.Info("atlassian MCP session established")
	b.session = session
	return session, nil
}

// reset drops a session after a transport-level failure so the next call reconnects.
func (b *Backend) reset(s *mcp.ClientSession) {
	b.mu.Lock()
	if b.session == s {
		b.session = nil
	}
	b.mu.Unlock()
	if err := s.Close(); err != nil {
		b.logger.Debug("closing failed MCP session", zap.Error(err))
	}
}

// Close ends the MCP session, if any.
func (b *Backend) Close() error {
	b.mu.Lock()
	s := b.session
	b.session = nil
	b.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Close()
}

func sourceOf(tool string) string {
	if tool == JiraTool {
		return "jira"
	}
	return "confluence"
}

// decodeResult prefers structured output, then JSON text, then raw text.
func decodeResult(res *mcp.CallToolResult) any {
	if res.StructuredContent != nil {
		return res.StructuredContent
	}
	text := contentText(res)
	var v any
	if err := json.Unmarshal([]byte(text), &v); err == nil {
		return v
	}
	return text
}

func contentText(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if t, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, "\n")
}

var _ tools.Backend = (*Backend)(nil)
