package chat

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type PartType string

const (
	PartTypeText      PartType = "text"
	PartTypeReasoning PartType = "reasoning"
	PartTypeFile      PartType = "file"
	PartTypeTool      PartType = "tool"
	// PartTypeOpaque is used for part types we do not recognize. The raw
	// payload is carried along so a round trip through the store does not
	// drop data produced by a newer writer.
	PartTypeOpaque PartType = "opaque"
)

// Part is the interface for the different kinds of content inside a message.
type Part interface {
	PartType() PartType
	String() string
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TextPart holds assistant or user visible text. Streaming is true while
// deltas are still being appended.
type TextPart struct {
	Text      string `json:"text"`
	Streaming bool   `json:"streaming,omitempty"`
}

func (p *TextPart) PartType() PartType { return PartTypeText }

func (p *TextPart) String() string { return p.Text }

var _ Part = (*TextPart)(nil)

// ReasoningPart holds model reasoning text. It follows the same
// streaming-vs-final rules as TextPart.
type ReasoningPart struct {
	Text      string `json:"text"`
	Streaming bool   `json:"streaming,omitempty"`
}

func (p *ReasoningPart) PartType() PartType { return PartTypeReasoning }

func (p *ReasoningPart) String() string { return p.Text }

var _ Part = (*ReasoningPart)(nil)

// FilePart is an attachment reference. File parts arrive complete, there is
// no streaming state.
type FilePart struct {
	URL       string `json:"url"`
	Filename  string `json:"filename,omitempty"`
	MediaType string `json:"mediaType"`
}

func (p *FilePart) PartType() PartType { return PartTypeFile }

func (p *FilePart) String() string {
	if p.Filename != "" {
		return p.Filename
	}
	return p.URL
}

var _ Part = (*FilePart)(nil)

// ToolState tracks the lifecycle of a tool call part.
type ToolState string

const (
	ToolStateInputStreaming    ToolState = "input-streaming"
	ToolStateInputAvailable    ToolState = "input-available"
	ToolStateApprovalRequested ToolState = "approval-requested"
	ToolStateOutputAvailable   ToolState = "output-available"
	ToolStateOutputError       ToolState = "output-error"
)

// Terminal reports whether the state is one of the two end states.
func (s ToolState) Terminal() bool {
	return s == ToolStateOutputAvailable || s == ToolStateOutputError
}

// ToolPart is a tool call with its state machine position. Input and Output
// are opaque to this package, their schema varies per tool name. While the
// call is still in input-streaming the accumulated argument text lives in
// InputText; it is not valid JSON until the input is finalized, so it never
// goes into Input.
type ToolPart struct {
	CallID    string          `json:"callID"`
	Name      string          `json:"name"`
	State     ToolState       `json:"state"`
	InputText string          `json:"inputText,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
	ErrorText string          `json:"errorText,omitempty"`
}

func (p *ToolPart) PartType() PartType { return PartTypeTool }

func (p *ToolPart) String() string {
	return fmt.Sprintf("ToolPart{CallID: %s, Name: %s, State: %s}", p.CallID, p.Name, p.State)
}

// ShellToolName is the sandboxed command execution tool. Its output carries
// an exitCode field that doubles as a run-state sentinel.
const ShellToolName = "bash"

// StillRunning reports whether a shell tool call that already produced
// output is still executing. The shell tool emits output before exit and
// uses exitCode == -1 as a "not done yet" sentinel.
func (p *ToolPart) StillRunning() bool {
	if p.Name != ShellToolName || len(p.Output) == 0 {
		return false
	}
	var out struct {
		ExitCode *int `json:"exitCode"`
	}
	if err := json.Unmarshal(p.Output, &out); err != nil {
		return false
	}
	return out.ExitCode != nil && *out.ExitCode == -1
}

var _ Part = (*ToolPart)(nil)

// OpaquePart preserves a part of unknown type byte for byte.
type OpaquePart struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"raw"`
}

func (p *OpaquePart) PartType() PartType { return PartTypeOpaque }

func (p *OpaquePart) String() string {
	return fmt.Sprintf("OpaquePart{Type: %s}", p.Type)
}

var _ Part = (*OpaquePart)(nil)

// Usage carries token accounting reported with a finished response.
type Usage struct {
	InputTokens  int `json:"inputTokens,omitempty"`
	OutputTokens int `json:"outputTokens,omitempty"`
}

// MessageMetadata is the per-message envelope. TurnUserMessageID binds an
// assistant message to the user message it answers; when empty the nearest
// preceding user message in the main list is implied.
type MessageMetadata struct {
	CreatedAt         time.Time `json:"createdAt"`
	TurnUserMessageID string    `json:"turnUserMessageId,omitempty"`
	Usage             *Usage    `json:"usage,omitempty"`
}

// Message is one entry in a chat's main list or variant set.
type Message struct {
	ID       string          `json:"id"`
	Role     Role            `json:"role"`
	Parts    []Part          `json:"parts"`
	Metadata MessageMetadata `json:"metadata"`
}

type MessageOption func(*Message)

func WithID(id string) MessageOption {
	return func(m *Message) {
		m.ID = id
	}
}

func WithCreatedAt(t time.Time) MessageOption {
	return func(m *Message) {
		m.Metadata.CreatedAt = t
	}
}

func WithTurnUserMessageID(id string) MessageOption {
	return func(m *Message) {
		m.Metadata.TurnUserMessageID = id
	}
}

func WithUsage(usage *Usage) MessageOption {
	return func(m *Message) {
		m.Metadata.Usage = usage
	}
}

func NewMessage(role Role, parts []Part, options ...MessageOption) *Message {
	ret := &Message{
		ID:    uuid.NewString(),
		Role:  role,
		Parts: parts,
		Metadata: MessageMetadata{
			CreatedAt: time.Now(),
		},
	}

	for _, option := range options {
		option(ret)
	}

	return ret
}

func NewUserMessage(text string, options ...MessageOption) *Message {
	return NewMessage(RoleUser, []Part{&TextPart{Text: text}}, options...)
}

func NewAssistantMessage(text string, options ...MessageOption) *Message {
	return NewMessage(RoleAssistant, []Part{&TextPart{Text: text}}, options...)
}

// Text concatenates the message's text parts. Reasoning, file and tool
// parts are skipped.
func (m *Message) Text() string {
	var sb strings.Builder
	for _, p := range m.Parts {
		if tp, ok := p.(*TextPart); ok {
			sb.WriteString(tp.Text)
		}
	}
	return sb.String()
}

// partEnvelope is the wire shape of a single part, with a partType
// discriminator next to the inlined part fields.
type partEnvelope struct {
	PartType PartType `json:"partType"`
}

func (m *Message) MarshalJSON() ([]byte, error) {
	type Alias Message
	parts := make([]json.RawMessage, 0, len(m.Parts))
	for _, p := range m.Parts {
		raw, err := marshalPart(p)
		if err != nil {
			return nil, err
		}
		parts = append(parts, raw)
	}
	return json.Marshal(&struct {
		*Alias
		Parts []json.RawMessage `json:"parts"`
	}{
		Alias: (*Alias)(m),
		Parts: parts,
	})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var alias struct {
		ID       string            `json:"id"`
		Role     Role              `json:"role"`
		Parts    []json.RawMessage `json:"parts"`
		Metadata MessageMetadata   `json:"metadata"`
	}
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	parts := make([]Part, 0, len(alias.Parts))
	for _, raw := range alias.Parts {
		p, err := unmarshalPart(raw)
		if err != nil {
			return err
		}
		parts = append(parts, p)
	}

	m.ID = alias.ID
	m.Role = alias.Role
	m.Parts = parts
	m.Metadata = alias.Metadata
	return nil
}

func marshalPart(p Part) (json.RawMessage, error) {
	if op, ok := p.(*OpaquePart); ok {
		// Re-emit the original bytes unchanged.
		return op.Raw, nil
	}
	body, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	// splice the discriminator into the object
	if string(body) == "{}" {
		return json.Marshal(map[string]PartType{"partType": p.PartType()})
	}
	head, err := json.Marshal(partEnvelope{PartType: p.PartType()})
	if err != nil {
		return nil, err
	}
	out := append(head[:len(head)-1], ',')
	out = append(out, body[1:]...)
	return out, nil
}

func unmarshalPart(raw json.RawMessage) (Part, error) {
	var env partEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}

	switch env.PartType {
	case PartTypeText:
		var p *TextPart
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case PartTypeReasoning:
		var p *ReasoningPart
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case PartTypeFile:
		var p *FilePart
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case PartTypeTool:
		var p *ToolPart
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return &OpaquePart{Type: string(env.PartType), Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}
