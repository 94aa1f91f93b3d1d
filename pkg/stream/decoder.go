package stream

import (
	"encoding/json"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/marionette/pkg/chat"
)

// Decoder folds an ordered sequence of protocol chunks into one in-progress
// assistant message. Chunks are applied strictly in arrival order; tool
// parts are keyed by their call id so a failure in one call never corrupts
// its siblings.
type Decoder struct {
	msg       *chat.Message
	toolIndex map[string]int
	logger    zerolog.Logger
}

type DecoderOption func(*Decoder)

func WithMessageID(id string) DecoderOption {
	return func(d *Decoder) {
		d.msg.ID = id
	}
}

func WithTurnUserMessageID(id string) DecoderOption {
	return func(d *Decoder) {
		d.msg.Metadata.TurnUserMessageID = id
	}
}

func WithDecoderLogger(logger zerolog.Logger) DecoderOption {
	return func(d *Decoder) {
		d.logger = logger
	}
}

// NewDecoder starts decoding a fresh assistant message.
func NewDecoder(options ...DecoderOption) *Decoder {
	ret := &Decoder{
		msg:       chat.NewMessage(chat.RoleAssistant, nil),
		toolIndex: map[string]int{},
		logger:    log.Logger,
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Message returns the message being assembled. Callers may render it at any
// point; parts still streaming are flagged as such.
func (d *Decoder) Message() *chat.Message {
	return d.msg
}

// FeedJSON decodes one raw protocol event and applies it. A malformed
// payload poisons at most the tool part named by its call id; everything
// else keeps decoding.
func (d *Decoder) FeedJSON(b []byte) {
	c, err := NewChunkFromJSON(b)
	if err != nil {
		d.poisonFromRaw(b, err)
		return
	}
	d.Feed(c)
}

// Feed applies one decoded chunk to the message.
func (d *Decoder) Feed(c Chunk) {
	switch chunk := c.(type) {
	case *ChunkTextDelta:
		d.appendText(chunk.Delta)
	case *ChunkReasoningDelta:
		d.appendReasoning(chunk.Delta)
	case *ChunkToolInputStart:
		d.toolInputStart(chunk)
	case *ChunkToolInputAvailable:
		d.toolTransition(c.ToolCallID(), chunk.ToolName, func(p *chat.ToolPart) {
			p.Input = chunk.Input
			p.InputText = ""
			p.State = chat.ToolStateInputAvailable
		})
	case *ChunkToolInputError:
		d.toolTransition(c.ToolCallID(), chunk.ToolName, func(p *chat.ToolPart) {
			p.ErrorText = chunk.ErrorText
			p.State = chat.ToolStateOutputError
		})
	case *ChunkToolOutputAvailable:
		d.toolOutput(c.ToolCallID(), chunk.ToolName, chunk.Output)
	case *ChunkToolResult:
		d.toolOutput(c.ToolCallID(), chunk.ToolName, chunk.Output)
	case *ChunkToolApprovalRequest:
		d.toolTransition(c.ToolCallID(), chunk.ToolName, func(p *chat.ToolPart) {
			if !p.State.Terminal() {
				p.State = chat.ToolStateApprovalRequested
			}
		})
	case *ChunkFile:
		d.closeStreamingParts()
		d.msg.Parts = append(d.msg.Parts, &chat.FilePart{
			URL:       chunk.URL,
			Filename:  chunk.Filename,
			MediaType: chunk.MediaType,
		})
	case *ChunkOpaque:
		// Forward-compatibility: keep what we do not understand.
		d.closeStreamingParts()
		d.msg.Parts = append(d.msg.Parts, &chat.OpaquePart{
			Type: string(c.Type()),
			Raw:  append(json.RawMessage(nil), c.Payload()...),
		})
	default:
		d.logger.Warn().Str("chunk_type", string(c.Type())).Msg("unhandled chunk type")
	}
}

// Finish marks any still-streaming text and reasoning parts final. Tool
// parts are left in their last state; an aborted run is "done for now", not
// an error.
func (d *Decoder) Finish() *chat.Message {
	d.closeStreamingParts()
	return d.msg
}

func (d *Decoder) appendText(delta string) {
	if n := len(d.msg.Parts); n > 0 {
		if tp, ok := d.msg.Parts[n-1].(*chat.TextPart); ok && tp.Streaming {
			tp.Text += delta
			return
		}
	}
	d.closeStreamingParts()
	d.msg.Parts = append(d.msg.Parts, &chat.TextPart{Text: delta, Streaming: true})
}

func (d *Decoder) appendReasoning(delta string) {
	if n := len(d.msg.Parts); n > 0 {
		if rp, ok := d.msg.Parts[n-1].(*chat.ReasoningPart); ok && rp.Streaming {
			rp.Text += delta
			return
		}
	}
	d.closeStreamingParts()
	d.msg.Parts = append(d.msg.Parts, &chat.ReasoningPart{Text: delta, Streaming: true})
}

func (d *Decoder) closeStreamingParts() {
	for _, p := range d.msg.Parts {
		switch part := p.(type) {
		case *chat.TextPart:
			part.Streaming = false
		case *chat.ReasoningPart:
			part.Streaming = false
		}
	}
}

func (d *Decoder) toolInputStart(c *ChunkToolInputStart) {
	callID := c.ToolCallID()
	if callID == "" {
		d.logger.Warn().Msg("tool-input-start without call id, dropping")
		return
	}
	if _, exists := d.toolIndex[callID]; exists {
		// duplicate start, keep the existing part
		return
	}
	d.closeStreamingParts()
	part := &chat.ToolPart{
		CallID:    callID,
		Name:      c.ToolName,
		State:     chat.ToolStateInputStreaming,
		InputText: c.InputText,
	}
	d.toolIndex[callID] = len(d.msg.Parts)
	d.msg.Parts = append(d.msg.Parts, part)
}

// toolTransition applies fn to the part for callID, creating it on the fly
// when the stream skipped tool-input-start.
func (d *Decoder) toolTransition(callID, name string, fn func(*chat.ToolPart)) {
	part := d.ensureTool(callID, name)
	if part == nil {
		return
	}
	fn(part)
}

func (d *Decoder) toolOutput(callID, name string, output json.RawMessage) {
	part := d.ensureTool(callID, name)
	if part == nil {
		return
	}
	if part.State == chat.ToolStateOutputError {
		// error is terminal, late output is ignored
		d.logger.Debug().Str("tool_call_id", callID).Msg("output after error, dropping")
		return
	}
	// Output may arrive more than once: the shell tool streams output
	// before exit and finalizes it later (see ToolPart.StillRunning).
	part.Output = output
	part.State = chat.ToolStateOutputAvailable
}

func (d *Decoder) ensureTool(callID, name string) *chat.ToolPart {
	if callID == "" {
		d.logger.Warn().Msg("tool chunk without call id, dropping")
		return nil
	}
	if idx, ok := d.toolIndex[callID]; ok {
		part := d.msg.Parts[idx].(*chat.ToolPart)
		if part.Name == "" {
			part.Name = name
		}
		return part
	}
	d.closeStreamingParts()
	part := &chat.ToolPart{
		CallID: callID,
		Name:   name,
		State:  chat.ToolStateInputStreaming,
	}
	d.toolIndex[callID] = len(d.msg.Parts)
	d.msg.Parts = append(d.msg.Parts, part)
	return part
}

// poisonFromRaw routes a malformed payload to the tool part it names, when
// it names one. Without a call id the bytes are dropped with a warning;
// sibling parts are untouched either way.
func (d *Decoder) poisonFromRaw(b []byte, cause error) {
	var hdr struct {
		ToolCallID string `json:"toolCallId"`
		ToolName   string `json:"toolName"`
	}
	_ = json.Unmarshal(b, &hdr)
	if hdr.ToolCallID == "" {
		d.logger.Warn().Err(cause).Msg("dropping malformed chunk")
		return
	}
	d.toolTransition(hdr.ToolCallID, hdr.ToolName, func(p *chat.ToolPart) {
		p.ErrorText = cause.Error()
		p.State = chat.ToolStateOutputError
	})
}
