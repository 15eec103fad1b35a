// Package acp serves the Agent Client Protocol over stdio so editors such as
// Zed can drive ponder.
//
// Messages are newline-delimited JSON-RPC 2.0 objects. Supported methods:
//   - initialize: returns the protocol version and capabilities
//   - session/new: creates a session backed by its own agent and conversation
//   - session/prompt: runs one user turn and answers with a stop reason
//
// While a prompt runs, session/update notifications stream the turn:
// agent_message_chunk for text, agent_thought_chunk for reasoning, and
// tool_call / tool_call_update for tool activity.
package acp
