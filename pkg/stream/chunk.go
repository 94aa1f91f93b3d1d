package stream

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ChunkType discriminates the protocol events that make up one assistant
// response.
type ChunkType string

const (
	ChunkTypeTextDelta      ChunkType = "text-delta"
	ChunkTypeReasoningDelta ChunkType = "reasoning-delta"

	// Tool call lifecycle. tool-result is a legacy alias for
	// tool-output-available kept for streams recorded by older servers.
	ChunkTypeToolInputStart      ChunkType = "tool-input-start"
	ChunkTypeToolInputAvailable  ChunkType = "tool-input-available"
	ChunkTypeToolInputError      ChunkType = "tool-input-error"
	ChunkTypeToolOutputAvailable ChunkType = "tool-output-available"
	ChunkTypeToolResult          ChunkType = "tool-result"
	ChunkTypeToolApprovalRequest ChunkType = "tool-approval-request"

	ChunkTypeFile ChunkType = "file"
)

// Chunk is one protocol event. Chunks of unknown type are preserved as
// *ChunkOpaque rather than dropped.
type Chunk interface {
	Type() ChunkType
	ToolCallID() string
	Payload() []byte
}

type ChunkImpl struct {
	Type_       ChunkType `json:"type"`
	ToolCallID_ string    `json:"toolCallId,omitempty"`
	ToolName    string    `json:"toolName,omitempty"`

	payload []byte
}

func (c *ChunkImpl) Type() ChunkType { return c.Type_ }

func (c *ChunkImpl) ToolCallID() string { return c.ToolCallID_ }

func (c *ChunkImpl) Payload() []byte { return c.payload }

// SetPayload stores the raw JSON the chunk was decoded from.
func (c *ChunkImpl) SetPayload(b []byte) { c.payload = b }

func (c *ChunkImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(c.Type_))
	if c.ToolCallID_ != "" {
		ev.Str("tool_call_id", c.ToolCallID_)
	}
	if c.ToolName != "" {
		ev.Str("tool_name", c.ToolName)
	}
}

var _ Chunk = &ChunkImpl{}

type ChunkTextDelta struct {
	ChunkImpl
	Delta string `json:"delta"`
}

type ChunkReasoningDelta struct {
	ChunkImpl
	Delta string `json:"delta"`
}

// ChunkToolInputStart opens a tool part. Arguments are still being
// assembled; InputText carries the partial argument text accumulated so
// far, when the server includes it.
type ChunkToolInputStart struct {
	ChunkImpl
	InputText string `json:"inputTextDelta,omitempty"`
}

type ChunkToolInputAvailable struct {
	ChunkImpl
	Input json.RawMessage `json:"input"`
}

type ChunkToolInputError struct {
	ChunkImpl
	ErrorText string `json:"errorText"`
}

type ChunkToolOutputAvailable struct {
	ChunkImpl
	Output json.RawMessage `json:"output"`
}

// ChunkToolResult mirrors ChunkToolOutputAvailable under the legacy type
// name.
type ChunkToolResult struct {
	ChunkImpl
	Output json.RawMessage `json:"output"`
}

// ChunkToolApprovalRequest parks a tool call until the user approves it;
// the call resumes with a later input/output chunk.
type ChunkToolApprovalRequest struct {
	ChunkImpl
}

type ChunkFile struct {
	ChunkImpl
	URL       string `json:"url"`
	Filename  string `json:"filename,omitempty"`
	MediaType string `json:"mediaType"`
}

// ChunkOpaque carries an unrecognized chunk type forward untouched.
type ChunkOpaque struct {
	ChunkImpl
}

// NewChunkFromJSON decodes one protocol event. Unknown types come back as
// *ChunkOpaque with the raw payload attached.
func NewChunkFromJSON(b []byte) (Chunk, error) {
	var c *ChunkImpl
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, errors.Wrap(err, "failed to decode chunk header")
	}
	c.payload = b

	switch c.Type_ {
	case ChunkTypeTextDelta:
		return toTypedChunk[ChunkTextDelta](c)
	case ChunkTypeReasoningDelta:
		return toTypedChunk[ChunkReasoningDelta](c)
	case ChunkTypeToolInputStart:
		return toTypedChunk[ChunkToolInputStart](c)
	case ChunkTypeToolInputAvailable:
		return toTypedChunk[ChunkToolInputAvailable](c)
	case ChunkTypeToolInputError:
		return toTypedChunk[ChunkToolInputError](c)
	case ChunkTypeToolOutputAvailable:
		return toTypedChunk[ChunkToolOutputAvailable](c)
	case ChunkTypeToolResult:
		return toTypedChunk[ChunkToolResult](c)
	case ChunkTypeToolApprovalRequest:
		return toTypedChunk[ChunkToolApprovalRequest](c)
	case ChunkTypeFile:
		return toTypedChunk[ChunkFile](c)
	}

	return &ChunkOpaque{ChunkImpl: *c}, nil
}

func toTypedChunk[T any, PT interface {
	*T
	Chunk
	SetPayload([]byte)
}](c *ChunkImpl) (Chunk, error) {
	var ret PT = new(T)
	if err := json.Unmarshal(c.payload, ret); err != nil {
		return nil, errors.Wrapf(err, "could not decode chunk as %s", c.Type_)
	}
	ret.SetPayload(c.payload)
	return ret, nil
}
