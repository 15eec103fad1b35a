package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/m4xw311/ponder/agent"
	"github.com/m4xw311/ponder/errors"
	"github.com/rs/zerolog"
)

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// maxResourceSize bounds file contents inlined from a resource_link.
const maxResourceSize = 50000

// AgentFactory builds the agent for a new session around its presenter.
type AgentFactory func(p agent.Presenter) *agent.Agent

// Server serves ACP over a pair of streams. Messages are newline-delimited
// JSON-RPC 2.0 objects; nothing else is written to out.
type Server struct {
	newAgent  AgentFactory
	collapsed bool
	in        *bufio.Reader
	out       *bufio.Writer
	writeLock sync.Mutex
	log       zerolog.Logger

	sessions map[string]*agent.Agent
	newID    func() string
}

// NewServer returns a Server reading requests from in and writing responses
// and notifications to out. Collapsed sends a reasoning summary instead of
// live thought chunks.
func NewServer(newAgent AgentFactory, in io.Reader, out io.Writer, collapsed bool, log zerolog.Logger) *Server {
	return &Server{
		newAgent:  newAgent,
		collapsed: collapsed,
		in:        bufio.NewReader(in),
		out:       bufio.NewWriter(out),
		log:       log,
		sessions:  make(map[string]*agent.Agent),
		newID:     uuid.NewString,
	}
}

// jsonrpcRequest represents a JSON-RPC 2.0 request message
type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// jsonrpcResponse represents a JSON-RPC 2.0 response message
type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type jsonrpcNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// Run serves requests until in is exhausted or ctx is cancelled. Requests
// are handled one at a time; a prompt streams its notifications before its
// response is written.
func (s *Server) Run(ctx context.Context) error {
	s.log.Debug().Msg("acp server starting")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload, err := s.readMessage()
		if err != nil {
			if err == io.EOF {
				s.log.Debug().Msg("acp client closed input")
				return nil
			}
			return errors.Wrapf(err, "acp: read error")
		}
		if len(strings.TrimSpace(string(payload))) == 0 {
			continue
		}
		s.log.Debug().RawJSON("payload", payload).Msg("acp request")

		var req jsonrpcRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			s.log.Warn().Err(err).Msg("acp request did not parse")
			s.writeError(nil, codeParseError, "Parse error", nil)
			continue
		}

		switch req.Method {
		case "initialize":
			s.handleInitialize(&req)
		case "session/new":
			s.handleSessionNew(&req)
		case "session/prompt":
			s.handleSessionPrompt(ctx, &req)
		default:
			if req.ID != nil {
				s.writeError(req.ID, codeMethodNotFound, "Method not found", req.Method)
			}
		}
	}
}

// readMessage reads one newline-delimited payload of any length.
func (s *Server) readMessage() ([]byte, error) {
	line, err := s.in.ReadBytes('\n')
	if err == io.EOF && len(line) > 0 {
		return line, nil
	}
	return line, err
}

func (s *Server) writeJSON(obj any) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return errors.Wrapf(err, "failed to serialize JSON-RPC message")
	}
	s.writeLock.Lock()
	defer s.writeLock.Unlock()
	if _, err := s.out.Write(append(data, '\n')); err != nil {
		return err
	}
	return s.out.Flush()
}

func (s *Server) writeResult(id any, result any) {
	data, err := json.Marshal(result)
	if err != nil {
		s.writeError(id, codeInternalError, "Internal error", err.Error())
		return
	}
	if err := s.writeJSON(jsonrpcResponse{JSONRPC: "2.0", ID: id, Result: data}); err != nil {
		s.log.Error().Err(err).Msg("acp write failed")
	}
}

func (s *Server) writeError(id any, code int, msg string, data any) {
	resp := jsonrpcResponse{JSONRPC: "2.0", ID: id, Error: &jsonrpcError{Code: code, Message: msg, Data: data}}
	if err := s.writeJSON(resp); err != nil {
		s.log.Error().Err(err).Msg("acp write failed")
	}
}

func (s *Server) notify(method string, params any) {
	if err := s.writeJSON(jsonrpcNotification{JSONRPC: "2.0", Method: method, Params: params}); err != nil {
		s.log.Error().Err(err).Str("method", method).Msg("acp notification failed")
	}
}

// sessionUpdate sends a session/update notification.
func (s *Server) sessionUpdate(sessionID string, update map[string]any) {
	s.notify("session/update", map[string]any{"sessionId": sessionID, "update": update})
}

func (s *Server) handleInitialize(req *jsonrpcRequest) {
	var p struct {
		ProtocolVersion int `json:"protocolVersion"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &p); err != nil {
			s.writeError(req.ID, codeInvalidParams, "Invalid params", err.Error())
			return
		}
	}
	s.log.Debug().Int("client_protocol", p.ProtocolVersion).Msg("acp initialize")
	s.writeResult(req.ID, map[string]any{
		"protocolVersion": 1,
		"agentCapabilities": map[string]any{
			"loadSession": false,
			"promptCapabilities": map[string]bool{
				"audio":           false,
				"embeddedContext": false,
				"image":           false,
			},
		},
		"authMethods": []any{},
	})
}

func (s *Server) handleSessionNew(req *jsonrpcRequest) {
	var p struct {
		Cwd string `json:"cwd"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &p); err != nil {
			s.writeError(req.ID, codeInvalidParams, "Invalid params", err.Error())
			return
		}
	}
	sid := s.newID()
	s.sessions[sid] = s.newAgent(&presenter{server: s, sessionID: sid, collapsed: s.collapsed})
	s.log.Debug().Str("session", sid).Str("cwd", p.Cwd).Msg("acp session created")
	s.writeResult(req.ID, map[string]any{"sessionId": sid})
}

// contentBlock is a prompt content block. Only text and resource_link
// blocks are used.
type contentBlock struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	URI         string `json:"uri,omitempty"`
	Name        string `json:"name,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Size        *int64 `json:"size,omitempty"`
}

func (s *Server) handleSessionPrompt(ctx context.Context, req *jsonrpcRequest) {
	var p struct {
		SessionID string         `json:"sessionId"`
		Prompt    []contentBlock `json:"prompt"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		s.writeError(req.ID, codeInvalidParams, "Invalid params", err.Error())
		return
	}
	a, ok := s.sessions[p.SessionID]
	if !ok {
		s.writeError(req.ID, codeInvalidParams, "Invalid params", "unknown sessionId")
		return
	}

	for i, b := range p.Prompt {
		s.log.Debug().Int("block", i).Str("type", b.Type).Str("uri", b.URI).Msg("acp prompt block")
	}
	text := extractUserText(p.Prompt)

	a.AwaitInput()
	if err := a.ProcessUserInput(ctx, text); err != nil {
		s.writeError(req.ID, codeInternalError, "Internal error", fmt.Sprintf("error processing user input: %v", err))
		return
	}
	s.writeResult(req.ID, map[string]any{"stopReason": "end_turn"})
}

// extractUserText joins text blocks and inlines resource links, reading the
// contents of file:// resources.
func extractUserText(blocks []contentBlock) string {
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if strings.TrimSpace(b.Text) != "" {
				parts = append(parts, b.Text)
			}
		case "resource_link":
			parts = append(parts, describeResource(b))
		}
	}
	return strings.Join(parts, "\n")
}

func describeResource(b contentBlock) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "=== Resource: %s ===\n", b.Name)
	if b.Title != "" {
		fmt.Fprintf(&sb, "Title: %s\n", b.Title)
	}
	if b.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", b.Description)
	}
	fmt.Fprintf(&sb, "URI: %s\n", b.URI)
	if b.MimeType != "" {
		fmt.Fprintf(&sb, "Type: %s\n", b.MimeType)
	}
	if b.Size != nil {
		fmt.Fprintf(&sb, "Size: %d bytes\n", *b.Size)
	}

	if strings.HasPrefix(b.URI, "file://") {
		content, err := readFileFromURI(b.URI)
		if err != nil {
			fmt.Fprintf(&sb, "\n[Error reading file: %v]\n", err)
		} else {
			if len(content) > maxResourceSize {
				content = truncateUTF8(content, maxResourceSize) + "\n\n[... truncated to 50KB ...]"
			}
			fmt.Fprintf(&sb, "\n--- File Contents ---\n%s\n--- End of File ---\n", content)
		}
	} else {
		sb.WriteString("\n[External resource - content not available]\n")
	}
	sb.WriteString("=== End Resource ===\n")
	return sb.String()
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func readFileFromURI(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", errors.Wrapf(err, "invalid URI")
	}
	if u.Scheme != "file" {
		return "", errors.New("unsupported URI scheme: %s", u.Scheme)
	}
	content, err := os.ReadFile(u.Path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read file")
	}
	return string(content), nil
}
