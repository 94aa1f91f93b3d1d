package stream

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/marionette/pkg/chat"
)

func TestDecoderAccumulatesTextDeltas(t *testing.T) {
	d := NewDecoder()
	feedAll(t, d,
		`{"type":"text-delta","delta":"Hel"}`,
		`{"type":"text-delta","delta":"lo"}`,
	)

	parts := d.Message().Parts
	require.Len(t, parts, 1)
	tp, ok := parts[0].(*chat.TextPart)
	require.True(t, ok)
	assert.Equal(t, "Hello", tp.Text)
	assert.True(t, tp.Streaming)

	msg := d.Finish()
	assert.False(t, msg.Parts[0].(*chat.TextPart).Streaming)
}

func TestDecoderSplitsTextAroundReasoning(t *testing.T) {
	d := NewDecoder()
	feedAll(t, d,
		`{"type":"text-delta","delta":"before"}`,
		`{"type":"reasoning-delta","delta":"thinking"}`,
		`{"type":"text-delta","delta":"after"}`,
	)
	msg := d.Finish()

	require.Len(t, msg.Parts, 3)
	assert.Equal(t, "before", msg.Parts[0].(*chat.TextPart).Text)
	assert.Equal(t, "thinking", msg.Parts[1].(*chat.ReasoningPart).Text)
	assert.Equal(t, "after", msg.Parts[2].(*chat.TextPart).Text)
}

func TestDecoderToolLifecycle(t *testing.T) {
	d := NewDecoder()
	feedAll(t, d,
		`{"type":"tool-input-start","toolCallId":"call-1","toolName":"search"}`,
		`{"type":"tool-input-available","toolCallId":"call-1","input":{"query":"weather"}}`,
		`{"type":"tool-output-available","toolCallId":"call-1","output":{"result":"sunny"}}`,
	)
	msg := d.Finish()

	require.Len(t, msg.Parts, 1)
	tool := msg.Parts[0].(*chat.ToolPart)
	assert.Equal(t, "call-1", tool.CallID)
	assert.Equal(t, "search", tool.Name)
	assert.Equal(t, chat.ToolStateOutputAvailable, tool.State)
	assert.JSONEq(t, `{"query":"weather"}`, string(tool.Input))
	assert.JSONEq(t, `{"result":"sunny"}`, string(tool.Output))
}

func TestDecoderFailedCallDoesNotCorruptSiblings(t *testing.T) {
	d := NewDecoder()
	feedAll(t, d,
		`{"type":"tool-input-start","toolCallId":"call-a","toolName":"search"}`,
		`{"type":"tool-input-start","toolCallId":"call-b","toolName":"search"}`,
		`{"type":"tool-input-error","toolCallId":"call-a","toolName":"search","errorText":"bad arguments"}`,
		`{"type":"tool-input-available","toolCallId":"call-b","input":{"query":"ok"}}`,
		`{"type":"tool-output-available","toolCallId":"call-b","output":{"result":"fine"}}`,
	)
	msg := d.Finish()

	require.Len(t, msg.Parts, 2)
	a := msg.Parts[0].(*chat.ToolPart)
	b := msg.Parts[1].(*chat.ToolPart)

	assert.Equal(t, "call-a", a.CallID, "parts keep declaration order")
	assert.Equal(t, chat.ToolStateOutputError, a.State)
	assert.Equal(t, "bad arguments", a.ErrorText)

	assert.Equal(t, "call-b", b.CallID)
	assert.Equal(t, chat.ToolStateOutputAvailable, b.State)
	assert.JSONEq(t, `{"result":"fine"}`, string(b.Output))
}

func TestDecoderMalformedChunkPoisonsOnlyItsCall(t *testing.T) {
	d := NewDecoder()
	d.FeedJSON([]byte(`{"type":"tool-input-start","toolCallId":"call-a","toolName":"search"}`))
	// errorText has the wrong type, the typed decode fails
	d.FeedJSON([]byte(`{"type":"tool-input-error","toolCallId":"call-a","toolName":"search","errorText":5}`))
	d.FeedJSON([]byte(`{"type":"text-delta","delta":"still here"}`))
	msg := d.Finish()

	require.Len(t, msg.Parts, 2)
	tool := msg.Parts[0].(*chat.ToolPart)
	assert.Equal(t, chat.ToolStateOutputError, tool.State)
	assert.NotEmpty(t, tool.ErrorText)
	assert.Equal(t, "still here", msg.Parts[1].(*chat.TextPart).Text)
}

func TestDecoderMalformedChunkWithoutCallIDIsDropped(t *testing.T) {
	d := NewDecoder()
	d.FeedJSON([]byte(`{"type":"text-delta","delta":"keep"}`))
	d.FeedJSON([]byte(`not json at all`))
	msg := d.Finish()

	require.Len(t, msg.Parts, 1)
	assert.Equal(t, "keep", msg.Parts[0].(*chat.TextPart).Text)
}

func TestDecoderOutputAfterErrorIsIgnored(t *testing.T) {
	d := NewDecoder()
	feedAll(t, d,
		`{"type":"tool-input-start","toolCallId":"call-1","toolName":"search"}`,
		`{"type":"tool-input-error","toolCallId":"call-1","errorText":"boom"}`,
		`{"type":"tool-output-available","toolCallId":"call-1","output":{"result":"late"}}`,
	)
	tool := d.Finish().Parts[0].(*chat.ToolPart)
	assert.Equal(t, chat.ToolStateOutputError, tool.State)
	assert.Empty(t, tool.Output)
}

func TestDecoderShellOutputIsOverwritable(t *testing.T) {
	d := NewDecoder()
	feedAll(t, d,
		`{"type":"tool-input-start","toolCallId":"call-1","toolName":"bash"}`,
		`{"type":"tool-input-available","toolCallId":"call-1","input":{"command":"sleep 5"}}`,
		`{"type":"tool-output-available","toolCallId":"call-1","output":{"stdout":"","exitCode":-1}}`,
	)
	tool := d.Message().Parts[0].(*chat.ToolPart)
	assert.Equal(t, chat.ToolStateOutputAvailable, tool.State)
	assert.True(t, tool.StillRunning())

	d.FeedJSON([]byte(`{"type":"tool-output-available","toolCallId":"call-1","output":{"stdout":"done\n","exitCode":0}}`))
	assert.False(t, tool.StillRunning())
	assert.JSONEq(t, `{"stdout":"done\n","exitCode":0}`, string(tool.Output))
}

func TestDecoderAbortedInputStreamingStaysMarshalable(t *testing.T) {
	d := NewDecoder()
	// stream stops while the arguments are still partial
	d.FeedJSON([]byte(`{"type":"tool-input-start","toolCallId":"call-1","toolName":"search","inputTextDelta":"{\"que"}`))
	msg := d.Finish()

	require.Len(t, msg.Parts, 1)
	tool := msg.Parts[0].(*chat.ToolPart)
	assert.Equal(t, chat.ToolStateInputStreaming, tool.State)
	assert.Equal(t, `{"que`, tool.InputText)
	assert.Empty(t, tool.Input, "partial text is not valid JSON input")

	b, err := json.Marshal(msg)
	require.NoError(t, err)
	var back chat.Message
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, `{"que`, back.Parts[0].(*chat.ToolPart).InputText)
}

func TestDecoderFinalizedInputReplacesPartialText(t *testing.T) {
	d := NewDecoder()
	feedAll(t, d,
		`{"type":"tool-input-start","toolCallId":"call-1","toolName":"search","inputTextDelta":"{\"que"}`,
		`{"type":"tool-input-available","toolCallId":"call-1","input":{"query":"weather"}}`,
	)
	tool := d.Finish().Parts[0].(*chat.ToolPart)
	assert.Empty(t, tool.InputText)
	assert.JSONEq(t, `{"query":"weather"}`, string(tool.Input))
}

func TestDecoderApprovalDetour(t *testing.T) {
	d := NewDecoder()
	feedAll(t, d,
		`{"type":"tool-input-start","toolCallId":"call-1","toolName":"bash"}`,
		`{"type":"tool-input-available","toolCallId":"call-1","input":{"command":"rm x"}}`,
		`{"type":"tool-approval-request","toolCallId":"call-1"}`,
	)
	tool := d.Message().Parts[0].(*chat.ToolPart)
	assert.Equal(t, chat.ToolStateApprovalRequested, tool.State)

	// approval arriving after the call finished must not reopen it
	d.FeedJSON([]byte(`{"type":"tool-output-available","toolCallId":"call-1","output":{"exitCode":0}}`))
	d.FeedJSON([]byte(`{"type":"tool-approval-request","toolCallId":"call-1"}`))
	assert.Equal(t, chat.ToolStateOutputAvailable, tool.State)
}

func TestDecoderLegacyToolResultAlias(t *testing.T) {
	d := NewDecoder()
	feedAll(t, d,
		`{"type":"tool-input-start","toolCallId":"call-1","toolName":"search"}`,
		`{"type":"tool-result","toolCallId":"call-1","output":{"result":"ok"}}`,
	)
	tool := d.Finish().Parts[0].(*chat.ToolPart)
	assert.Equal(t, chat.ToolStateOutputAvailable, tool.State)
	assert.JSONEq(t, `{"result":"ok"}`, string(tool.Output))
}

func TestDecoderCreatesPartWhenStartWasSkipped(t *testing.T) {
	d := NewDecoder()
	d.FeedJSON([]byte(`{"type":"tool-output-available","toolCallId":"call-1","toolName":"search","output":{"result":"ok"}}`))
	msg := d.Finish()

	require.Len(t, msg.Parts, 1)
	tool := msg.Parts[0].(*chat.ToolPart)
	assert.Equal(t, "search", tool.Name)
	assert.Equal(t, chat.ToolStateOutputAvailable, tool.State)
}

func TestDecoderUnknownChunkBecomesOpaquePart(t *testing.T) {
	raw := `{"type":"source-citation","url":"https://example.com","title":"Example"}`
	d := NewDecoder()
	d.FeedJSON([]byte(raw))
	msg := d.Finish()

	require.Len(t, msg.Parts, 1)
	op, ok := msg.Parts[0].(*chat.OpaquePart)
	require.True(t, ok)
	assert.Equal(t, "source-citation", op.Type)
	assert.JSONEq(t, raw, string(op.Raw))
}

func TestDecoderFilePart(t *testing.T) {
	d := NewDecoder()
	d.FeedJSON([]byte(`{"type":"file","url":"https://files/x.png","filename":"x.png","mediaType":"image/png"}`))
	msg := d.Finish()

	require.Len(t, msg.Parts, 1)
	fp := msg.Parts[0].(*chat.FilePart)
	assert.Equal(t, "x.png", fp.Filename)
	assert.Equal(t, "image/png", fp.MediaType)
}

func TestDecoderOptionsSetIdentity(t *testing.T) {
	d := NewDecoder(WithMessageID("msg-1"), WithTurnUserMessageID("u1"))
	msg := d.Finish()
	assert.Equal(t, "msg-1", msg.ID)
	assert.Equal(t, "u1", msg.Metadata.TurnUserMessageID)
	assert.Equal(t, chat.RoleAssistant, msg.Role)
}

func TestDecoderMessageSurvivesJSONRoundTrip(t *testing.T) {
	d := NewDecoder(WithMessageID("msg-1"))
	feedAll(t, d,
		`{"type":"text-delta","delta":"result: "}`,
		`{"type":"tool-input-start","toolCallId":"call-1","toolName":"search"}`,
		`{"type":"tool-output-available","toolCallId":"call-1","output":{"result":"ok"}}`,
		`{"type":"source-citation","url":"https://example.com"}`,
	)
	msg := d.Finish()

	b, err := json.Marshal(msg)
	require.NoError(t, err)
	var back chat.Message
	require.NoError(t, json.Unmarshal(b, &back))

	require.Len(t, back.Parts, 3)
	assert.IsType(t, &chat.TextPart{}, back.Parts[0])
	assert.IsType(t, &chat.ToolPart{}, back.Parts[1])
	assert.IsType(t, &chat.OpaquePart{}, back.Parts[2])
}

func feedAll(t *testing.T, d *Decoder, chunks ...string) {
	t.Helper()
	for _, c := range chunks {
		d.FeedJSON([]byte(c))
	}
}
