package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"talkingrock/internal/contact"
	"talkingrock/internal/conversation"
)

// SaveMessageTool is the single tool exposed to the generator
const SaveMessageTool = "save_message_for_kellogg"

// Validation limits for tool parameters
const (
	maxMessageLen = 4000
	maxNameLen    = 200
)

// toolCallPattern matches fenced tool_call blocks in generator output
var toolCallPattern = regexp.MustCompile("(?s)```tool_call\\s*\n?\\s*(\\{[^`]+\\})\\s*\n?```")

// emailPattern is a deliberately simple local@domain check
var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Call is a parsed tool invocation
type Call struct {
	Tool         string `json:"tool"`
	Message      string `json:"message"`
	VisitorName  string `json:"visitor_name,omitempty"`
	VisitorEmail string `json:"visitor_email,omitempty"`

	Raw       string `json:"-"` // the full fenced block, for removal
	ParseErr  string `json:"-"` // non-empty when the block did not decode
}

// Result is returned to the model after execution
type Result struct {
	Status string `json:"status"` // ok, error
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Executor runs tools on the orchestrator's behalf. Failures are reported
// back to the model as results, never raised.
type Executor struct {
	contacts *contact.Store
}

// NewExecutor creates a tool executor
func NewExecutor(contacts *contact.Store) *Executor {
	return &Executor{contacts: contacts}
}

// Parse extracts tool calls from a generator draft. Malformed JSON and
// unknown tool names still yield Call entries so the loop can feed an
// error result back to the model (and count the iteration).
func Parse(response string) []Call {
	var calls []Call

	for _, match := range toolCallPattern.FindAllStringSubmatch(response, -1) {
		raw := match[0]
		var call Call
		if err := json.Unmarshal([]byte(match[1]), &call); err != nil {
			calls = append(calls, Call{Raw: raw, ParseErr: "malformed tool JSON"})
			continue
		}
		call.Raw = raw
		if call.Tool == "" {
			call.ParseErr = "missing tool name"
		}
		calls = append(calls, call)
	}

	return calls
}

// HasCalls reports whether a draft contains any tool_call blocks
func HasCalls(response string) bool {
	return toolCallPattern.MatchString(response)
}

// Strip removes tool_call blocks from a draft, leaving surrounding text
func Strip(response string) string {
	return strings.TrimSpace(toolCallPattern.ReplaceAllString(response, ""))
}

// Execute runs one tool call
func (e *Executor) Execute(ctx context.Context, call Call, conversationID, ipHash string, recentTurns []conversation.Turn) Result {
	if call.ParseErr != "" {
		return Result{Status: "error", Reason: call.ParseErr}
	}
	if call.Tool != SaveMessageTool {
		log.Warn().Str("tool", call.Tool).Msg("unknown tool called")
		return Result{Status: "error", Reason: fmt.Sprintf("unknown tool: %s", call.Tool)}
	}

	if strings.TrimSpace(call.Message) == "" {
		return Result{Status: "error", Reason: "message is required"}
	}
	if len(call.Message) > maxMessageLen {
		return Result{Status: "error", Reason: "message too long"}
	}
	if len(call.VisitorName) > maxNameLen {
		return Result{Status: "error", Reason: "visitor_name too long"}
	}
	if call.VisitorEmail != "" && !emailPattern.MatchString(call.VisitorEmail) {
		return Result{Status: "error", Reason: "visitor_email is not a valid address"}
	}

	stored, err := e.contacts.Save(ctx, contact.Message{
		Message:        call.Message,
		SenderName:     call.VisitorName,
		SenderEmail:    call.VisitorEmail,
		Context:        excerptTurns(recentTurns),
		IPHash:         ipHash,
		ConversationID: conversationID,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to save contact message")
		return Result{Status: "error", Reason: "could not save the message, please try again"}
	}

	return Result{Status: "ok", ID: stored.ID}
}

// FormatResults renders tool results for the follow-up model call
func FormatResults(results []Result) string {
	var b strings.Builder
	b.WriteString("TOOL RESULTS:\n")
	for _, r := range results {
		data, _ := json.Marshal(r)
		b.WriteString("- ")
		b.Write(data)
		b.WriteString("\n")
	}
	b.WriteString("\nNow respond to the visitor based on these tool results. Be natural and conversational, and do not emit another tool_call unless the visitor asked for something new.")
	return b.String()
}

// PromptSection is the tools section injected into the system prompt
func PromptSection() string {
	return `## MESSAGE TOOL

To save a message for Kellogg, output a tool_call block:

` + "```tool_call" + `
{"tool": "save_message_for_kellogg", "message": "visitor's message here"}
` + "```" + `

Optional fields: "visitor_name", "visitor_email"

ONLY use this tool when the visitor explicitly asks to send/leave a message for Kellogg.
Do NOT use it for greetings or questions - just answer those normally.

When a visitor wants to send a message:
1. If they haven't said what to send, ask what they'd like to say
2. When they provide content, use the tool_call block
3. After the tool runs, confirm the message was saved`
}

// excerptTurns renders the last turns as stored conversation context
func excerptTurns(turns []conversation.Turn) string {
	if len(turns) == 0 {
		return ""
	}
	var b strings.Builder
	for _, t := range turns {
		content := t.Content
		if len(content) > 300 {
			content = content[:300] + "..."
		}
		fmt.Fprintf(&b, "[%s] %s\n", t.Role, content)
	}
	return strings.TrimSpace(b.String())
}
