// Package mcp exposes the tools of Model Context Protocol servers, started
// as subprocesses, as agent tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/m4xw311/ponder/errors"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
)

// Client manages the connection to a single MCP server subprocess.
type Client struct {
	Name  string
	cmd   *exec.Cmd
	conn  *mcpsdk.ClientSession
	tools []*Tool
	log   zerolog.Logger
}

// NewClient starts the MCP server subprocess, initializes the session and
// discovers the tools the server provides.
func NewClient(ctx context.Context, name, command string, args []string, log zerolog.Logger) (*Client, error) {
	cmd := exec.Command(command, args...)
	cmd.Stderr = os.Stderr
	mcpClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "ponder", Version: "v1.0.0"}, nil)
	conn, err := mcpClient.Connect(ctx, mcpsdk.NewCommandTransport(cmd))
	if err != nil {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		return nil, errors.Wrapf(err, "failed to connect to MCP server '%s'", name)
	}
	client := &Client{
		Name: name,
		cmd:  cmd,
		conn: conn,
		log:  log.With().Str("mcp_server", name).Logger(),
	}

	params := &mcpsdk.ListToolsParams{}
	for {
		toolList, err := conn.ListTools(ctx, params)
		if err != nil {
			client.Close()
			return nil, errors.Wrapf(err, "failed to list tools from MCP server '%s'", name)
		}
		for _, t := range toolList.Tools {
			client.tools = append(client.tools, &Tool{
				serverName:  name,
				toolName:    t.Name,
				description: t.Description,
				inputSchema: schemaToMap(t.InputSchema),
				client:      client,
			})
		}
		if toolList.NextCursor == "" {
			break
		}
		params.Cursor = toolList.NextCursor
	}

	client.log.Info().Int("tools", len(client.tools)).Msg("initialized MCP client")
	return client, nil
}

// Tools returns the server's tools in discovery order.
func (c *Client) Tools() []*Tool {
	return c.tools
}

// Close ends the session and terminates the server subprocess.
func (c *Client) Close() error {
	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	if c.cmd != nil && c.cmd.Process != nil {
		c.log.Debug().Msg("terminating MCP server")
		c.cmd.Process.Kill()
	}
	return err
}

// Tool is a tool served by an MCP server.
type Tool struct {
	serverName  string
	toolName    string
	description string
	inputSchema map[string]any
	client      *Client
}

// Name returns the server's name for the tool. Qualified names such as
// <server>:<tool> are rejected by some providers.
func (t *Tool) Name() string {
	return t.toolName
}

func (t *Tool) Description() string {
	return t.description
}

// InputSchema returns the JSON schema the server advertised.
func (t *Tool) InputSchema() map[string]any {
	return t.inputSchema
}

// Execute calls the tool on the server. A result flagged as an error is
// returned as an error carrying the server's text.
func (t *Tool) Execute(ctx context.Context, input map[string]any) (string, error) {
	if t.client.conn == nil {
		return "", errors.New("MCP server '%s' is not connected", t.serverName)
	}
	result, err := t.client.conn.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      t.toolName,
		Arguments: input,
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to call tool '%s' on '%s'", t.toolName, t.serverName)
	}
	text := contentText(result.Content)
	if result.IsError {
		return "", fmt.Errorf("%s", text)
	}
	return text, nil
}

func contentText(content []mcpsdk.Content) string {
	var b strings.Builder
	for _, c := range content {
		switch v := c.(type) {
		case *mcpsdk.TextContent:
			b.WriteString(v.Text)
		default:
			fmt.Fprintf(&b, "[%T content omitted]", c)
		}
	}
	return b.String()
}

// schemaToMap converts a server schema to a plain JSON object.
func schemaToMap(schema any) map[string]any {
	fallback := map[string]any{"type": "object", "properties": map[string]any{}}
	if schema == nil {
		return fallback
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return fallback
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil || out == nil {
		return fallback
	}
	return out
}
