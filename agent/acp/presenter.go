package acp

import (
	"fmt"
	"strings"
	"time"

	"github.com/m4xw311/ponder/agent"
	"github.com/m4xw311/ponder/stage"
)

// presenter turns one session's agent notifications into session/update
// notifications.
type presenter struct {
	agent.NopPresenter

	server    *Server
	sessionID string
	collapsed bool

	toolSeq  int
	toolCall string
}

func (p *presenter) update(u map[string]any) {
	p.server.sessionUpdate(p.sessionID, u)
}

func textContent(text string) map[string]any {
	return map[string]any{"type": "text", "text": text}
}

func (p *presenter) TextAppended(delta string) {
	p.update(map[string]any{"sessionUpdate": "agent_message_chunk", "content": textContent(delta)})
}

func (p *presenter) thought(text string) {
	p.update(map[string]any{"sessionUpdate": "agent_thought_chunk", "content": textContent(text)})
}

func (p *presenter) ReasoningStarted(s stage.Stage) {
	p.thought(fmt.Sprintf("[%s] ", s))
}

func (p *presenter) ReasoningAppended(delta string, _ stage.Stage) {
	p.thought(delta)
}

func (p *presenter) ReasoningStageChanged(_, next stage.Stage) {
	p.thought(fmt.Sprintf("\n[%s] ", next))
}

func (p *presenter) ReasoningEnded(d time.Duration, stages []stage.Stage) {
	if !p.collapsed {
		return
	}
	names := make([]string, 0, len(stages))
	for _, s := range stages {
		names = append(names, s.String())
	}
	p.thought(fmt.Sprintf("Thought for %s: %s", d.Round(100*time.Millisecond), strings.Join(names, " → ")))
}

func (p *presenter) ToolStarted(name string) {
	p.toolSeq++
	p.toolCall = fmt.Sprintf("call_%d", p.toolSeq)
	p.update(map[string]any{
		"sessionUpdate": "tool_call",
		"toolCallId":    p.toolCall,
		"title":         name,
		"kind":          toolKind(name),
		"status":        "in_progress",
	})
}

func (p *presenter) ToolFinished(name string, success bool) {
	status := "completed"
	if !success {
		status = "failed"
	}
	p.update(map[string]any{
		"sessionUpdate": "tool_call_update",
		"toolCallId":    p.toolCall,
		"status":        status,
	})
}

func (p *presenter) ErrorRaised(message string) {
	p.server.log.Warn().Str("session", p.sessionID).Msg(message)
}

// toolKind maps built-in tools onto ACP tool kinds.
func toolKind(name string) string {
	switch name {
	case "read_file", "list_files":
		return "read"
	case "search_files":
		return "search"
	case "write_file", "edit_file":
		return "edit"
	case "execute_command":
		return "execute"
	default:
		return "other"
	}
}
