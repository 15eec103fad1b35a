package acp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/m4xw311/ponder/agent"
	"github.com/m4xw311/ponder/llm"
	"github.com/m4xw311/ponder/logging"
	"github.com/m4xw311/ponder/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type readStub struct{}

func (readStub) Name() string                { return "read_file" }
func (readStub) Description() string         { return "reads" }
func (readStub) InputSchema() map[string]any { return map[string]any{"type": "object"} }
func (readStub) Execute(context.Context, map[string]any) (string, error) {
	return "contents", nil
}

func factory(t *testing.T, client llm.Client, opts agent.Options) AgentFactory {
	return func(p agent.Presenter) *agent.Agent {
		r := tools.NewRegistry()
		require.NoError(t, r.Register(readStub{}))
		return agent.New(client, r, p, opts, logging.Nop())
	}
}

// serve runs a server over the given request lines and returns every message
// it wrote.
func serve(t *testing.T, f AgentFactory, collapsed bool, lines ...string) []map[string]any {
	t.Helper()
	var out bytes.Buffer
	s := NewServer(f, strings.NewReader(strings.Join(lines, "\n")+"\n"), &out, collapsed, logging.Nop())
	seq := 0
	s.newID = func() string {
		seq++
		return fmt.Sprintf("sess-%d", seq)
	}
	require.NoError(t, s.Run(context.Background()))

	var msgs []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		assert.Equal(t, "2.0", m["jsonrpc"])
		msgs = append(msgs, m)
	}
	return msgs
}

func update(m map[string]any) map[string]any {
	params, _ := m["params"].(map[string]any)
	u, _ := params["update"].(map[string]any)
	return u
}

func chunkText(m map[string]any) string {
	c, _ := update(m)["content"].(map[string]any)
	s, _ := c["text"].(string)
	return s
}

func TestSessionLifecycle(t *testing.T) {
	client := &llm.MockLLMClient{Responses: []llm.MockResponse{
		{Events: llm.NewScript().Thinking("plan it").Text("Reading.").ToolUse("t1", "read_file", `{"path":"a"}`).Events()},
		{Events: llm.NewScript().Text("Done.").Events()},
	}}
	msgs := serve(t, factory(t, client, agent.Options{}), false,
		`{"jsonrpc":"2.0","id":0,"method":"initialize","params":{"protocolVersion":1,"clientCapabilities":{"fs":{"readTextFile":true}}}}`,
		`{"jsonrpc":"2.0","id":1,"method":"session/new","params":{"cwd":"/tmp","mcpServers":[]}}`,
		`{"jsonrpc":"2.0","id":2,"method":"session/prompt","params":{"sessionId":"sess-1","prompt":[{"type":"text","text":"read a"}]}}`,
	)
	require.Len(t, msgs, 9)

	initResp := msgs[0]
	assert.EqualValues(t, 0, initResp["id"])
	result := initResp["result"].(map[string]any)
	assert.EqualValues(t, 1, result["protocolVersion"])

	assert.Equal(t, map[string]any{"sessionId": "sess-1"}, msgs[1]["result"])

	var kinds []string
	for _, m := range msgs[2:8] {
		assert.Equal(t, "session/update", m["method"])
		assert.Nil(t, m["id"], "notifications carry no id")
		kinds = append(kinds, update(m)["sessionUpdate"].(string))
	}
	assert.Equal(t, []string{
		"agent_thought_chunk",
		"agent_thought_chunk",
		"agent_message_chunk",
		"tool_call",
		"tool_call_update",
		"agent_message_chunk",
	}, kinds)
	assert.Equal(t, "[Planning] ", chunkText(msgs[2]))
	assert.Equal(t, "plan it", chunkText(msgs[3]))
	assert.Equal(t, "Reading.", chunkText(msgs[4]))

	call := update(msgs[5])
	assert.Equal(t, "call_1", call["toolCallId"])
	assert.Equal(t, "read_file", call["title"])
	assert.Equal(t, "read", call["kind"])
	assert.Equal(t, "completed", update(msgs[6])["status"])
	assert.Equal(t, "Done.", chunkText(msgs[7]))

	last := msgs[len(msgs)-1]
	assert.EqualValues(t, 2, last["id"])
	assert.Equal(t, map[string]any{"stopReason": "end_turn"}, last["result"])
	assert.Equal(t, 2, client.Calls())
}

func TestProtocolErrors(t *testing.T) {
	msgs := serve(t, factory(t, &llm.MockLLMClient{}, agent.Options{}), false,
		`not json`,
		`{"jsonrpc":"2.0","id":7,"method":"session/load","params":{}}`,
		`{"jsonrpc":"2.0","method":"session/cancel","params":{"sessionId":"x"}}`,
		`{"jsonrpc":"2.0","id":8,"method":"session/prompt","params":{"sessionId":"nope","prompt":[]}}`,
		``,
	)
	require.Len(t, msgs, 3)
	codes := make([]float64, 0, len(msgs))
	for _, m := range msgs {
		codes = append(codes, m["error"].(map[string]any)["code"].(float64))
	}
	assert.Equal(t, []float64{codeParseError, codeMethodNotFound, codeInvalidParams}, codes)
	assert.Nil(t, msgs[0]["id"])
	assert.EqualValues(t, 7, msgs[1]["id"])
}

func TestPromptTransportError(t *testing.T) {
	client := &llm.MockLLMClient{Responses: []llm.MockResponse{{Err: fmt.Errorf("connection refused")}}}
	msgs := serve(t, factory(t, client, agent.Options{}), false,
		`{"jsonrpc":"2.0","id":1,"method":"session/new","params":{}}`,
		`{"jsonrpc":"2.0","id":2,"method":"session/prompt","params":{"sessionId":"sess-1","prompt":[{"type":"text","text":"hi"}]}}`,
	)
	require.Len(t, msgs, 2)
	e := msgs[1]["error"].(map[string]any)
	assert.EqualValues(t, codeInternalError, e["code"])
	assert.Contains(t, e["data"], "connection refused")
}

func TestSessionsAreIndependent(t *testing.T) {
	var agents []*agent.Agent
	client := &llm.MockLLMClient{}
	base := factory(t, client, agent.Options{})
	f := func(p agent.Presenter) *agent.Agent {
		a := base(p)
		agents = append(agents, a)
		return a
	}
	serve(t, f, false,
		`{"jsonrpc":"2.0","id":1,"method":"session/new","params":{}}`,
		`{"jsonrpc":"2.0","id":2,"method":"session/new","params":{}}`,
		`{"jsonrpc":"2.0","id":3,"method":"session/prompt","params":{"sessionId":"sess-2","prompt":[{"type":"text","text":"hi"}]}}`,
	)
	require.Len(t, agents, 2)
	assert.Equal(t, 0, agents[0].Conversation().Len())
	assert.Equal(t, 2, agents[1].Conversation().Len())
}

func TestCollapsedReasoningSummary(t *testing.T) {
	client := &llm.MockLLMClient{Responses: []llm.MockResponse{
		{Events: llm.NewScript().Thinking("let me verify").Text("Ok.").Events()},
	}}
	msgs := serve(t, factory(t, client, agent.Options{CollapseReasoning: true}), true,
		`{"jsonrpc":"2.0","id":1,"method":"session/new","params":{}}`,
		`{"jsonrpc":"2.0","id":2,"method":"session/prompt","params":{"sessionId":"sess-1","prompt":[{"type":"text","text":"hi"}]}}`,
	)
	require.Len(t, msgs, 4)
	assert.Equal(t, "agent_thought_chunk", update(msgs[1])["sessionUpdate"])
	assert.Contains(t, chunkText(msgs[1]), "Thought for")
	assert.Contains(t, chunkText(msgs[1]), "Evaluating")
	assert.Equal(t, "Ok.", chunkText(msgs[2]))
}

func TestExtractUserText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.txt")
	require.NoError(t, os.WriteFile(path, []byte("This is test file content"), 0644))

	tests := []struct {
		name     string
		blocks   []contentBlock
		expected string
		contains []string
	}{
		{
			name:     "text only",
			blocks:   []contentBlock{{Type: "text", Text: "Hello"}, {Type: "text", Text: "  "}, {Type: "text", Text: "World"}},
			expected: "Hello\nWorld",
		},
		{
			name: "resource_link with file",
			blocks: []contentBlock{
				{Type: "text", Text: "Check this file:"},
				{Type: "resource_link", URI: "file://" + path, Name: "test.txt", MimeType: "text/plain", Title: "Test File", Description: "A test file"},
			},
			contains: []string{
				"Check this file:",
				"=== Resource: test.txt ===",
				"Title: Test File",
				"Description: A test file",
				"Type: text/plain",
				"--- File Contents ---\nThis is test file content\n--- End of File ---",
			},
		},
		{
			name:     "missing file",
			blocks:   []contentBlock{{Type: "resource_link", URI: "file://" + filepath.Join(dir, "gone.txt"), Name: "gone.txt"}},
			contains: []string{"[Error reading file:", "=== End Resource ==="},
		},
		{
			name:     "remote resource",
			blocks:   []contentBlock{{Type: "resource_link", URI: "https://example.com/file.txt", Name: "remote.txt"}},
			contains: []string{"URI: https://example.com/file.txt", "[External resource - content not available]"},
		},
		{
			name:     "images are ignored",
			blocks:   []contentBlock{{Type: "image"}, {Type: "text", Text: "caption"}},
			expected: "caption",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := extractUserText(tc.blocks)
			if tc.expected != "" {
				assert.Equal(t, tc.expected, got)
			}
			for _, s := range tc.contains {
				assert.Contains(t, got, s)
			}
		})
	}
}

func TestTruncateUTF8(t *testing.T) {
	assert.Equal(t, "héllo", truncateUTF8("héllo", 10))
	assert.Equal(t, "h", truncateUTF8("héllo", 2), "é is two bytes")
	assert.Equal(t, "hé", truncateUTF8("héllo", 3))
	assert.Equal(t, "", truncateUTF8("日本", 2))
	assert.Equal(t, "日", truncateUTF8("日本", 5))
}

func TestLargeResourceIsTruncatedOnRuneBoundary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.txt")
	// One ASCII byte shifts every three-byte rune across the limit.
	content := "x" + strings.Repeat("日", maxResourceSize/3+10)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	got := extractUserText([]contentBlock{{Type: "resource_link", URI: "file://" + path, Name: "big.txt"}})
	assert.True(t, utf8.ValidString(got))
	assert.Contains(t, got, "[... truncated to 50KB ...]")
}

func TestToolKind(t *testing.T) {
	assert.Equal(t, "edit", toolKind("edit_file"))
	assert.Equal(t, "execute", toolKind("execute_command"))
	assert.Equal(t, "other", toolKind("github.create_issue"))
}
