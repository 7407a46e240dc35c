// internal/prune/prune.go

// Package prune trims the message history that goes back to the model.
// Screenshot results dominate token usage and the model never re-reads them,
// so finished screenshot invocations are replaced with a small placeholder.
package prune

import (
	"encoding/json"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/deskpilot/internal/types"
)

// RedactedText replaces a screenshot result in pruned history.
const RedactedText = "Image redacted to save input tokens"

// Pruner rewrites message history and accounts for the tokens it saves.
type Pruner struct {
	tokenizer *tiktoken.Tiktoken
}

// New creates a Pruner using the cl100k_base encoding.
func New() (*Pruner, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, err
	}
	return &Pruner{tokenizer: enc}, nil
}

// CountTokens returns the token count for a string.
func (p *Pruner) CountTokens(text string) int {
	return len(p.tokenizer.Encode(text, nil, nil))
}

type redactedResult struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Messages returns a pruned copy of the history and the number of tokens
// saved. When the latest message is from the assistant a generation is still
// in flight, and the history is returned untouched.
func (p *Pruner) Messages(messages []types.Message) ([]types.Message, int) {
	if len(messages) == 0 {
		return messages, 0
	}
	if messages[len(messages)-1].Role == types.RoleAssistant {
		return messages, 0
	}

	replacement, _ := json.Marshal(redactedResult{Type: "text", Text: RedactedText})
	replacementTokens := p.CountTokens(string(replacement))

	saved := 0
	out := make([]types.Message, len(messages))
	for i, msg := range messages {
		out[i] = msg
		var parts []types.Part
		for j, part := range msg.Parts {
			if !isScreenshotResult(part) {
				continue
			}
			if parts == nil {
				parts = make([]types.Part, len(msg.Parts))
				copy(parts, msg.Parts)
			}
			inv := *part.ToolInvocation
			if cost := p.CountTokens(string(inv.Result)) - replacementTokens; cost > 0 {
				saved += cost
			}
			inv.Result = replacement
			parts[j] = types.Part{Type: types.PartToolInvocation, ToolInvocation: &inv}
		}
		if parts != nil {
			out[i].Parts = parts
		}
	}
	return out, saved
}

func isScreenshotResult(part types.Part) bool {
	if part.Type != types.PartToolInvocation || part.ToolInvocation == nil {
		return false
	}
	inv := part.ToolInvocation
	if inv.ToolName != string(types.ToolComputer) || inv.State != types.InvocationResult {
		return false
	}
	var args struct {
		Action types.ActionType `json:"action"`
	}
	if err := json.Unmarshal(inv.Args, &args); err != nil {
		return false
	}
	return args.Action == types.ActionScreenshot
}
