package claude

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/BaSui01/claudegate/testutil/fixtures"
	"github.com/BaSui01/claudegate/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// trackingBody records Close.
type trackingBody struct {
	r      io.Reader
	closed bool
}

func (b *trackingBody) Read(p []byte) (int, error) { return b.r.Read(p) }
func (b *trackingBody) Close() error              { b.closed = true; return nil }

func newBody(s string) *trackingBody { return &trackingBody{r: strings.NewReader(s)} }

// oneByteReader forces frames to span many reads.
type oneByteReader struct{ s string }

func (o *oneByteReader) Read(p []byte) (int, error) {
	if o.s == "" {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	p[0] = o.s[0]
	o.s = o.s[1:]
	return 1, nil
}

func collect(d *Decoder) ([]Event, error) {
	var out []Event
	for {
		ev, err := d.Next()
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
}

func texts(evs []Event) []string {
	var out []string
	for _, e := range evs {
		if e.Type == EventTextDelta {
			out = append(out, e.Text)
		}
	}
	return out
}

func TestDecoder_CompleteStream(t *testing.T) {
	body := newBody(fixtures.TextStream("Hel", "lo", " world"))
	d := NewDecoder(context.Background(), body, 0, nil)
	assert.Equal(t, StateAwaitingStart, d.State())

	evs, err := collect(d)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, StateCompleted, d.State())
	assert.True(t, body.closed)

	assert.Equal(t, []string{"Hel", "lo", " world"}, texts(evs))
	assert.Equal(t, EventMessageStart, evs[0].Type)
	assert.Equal(t, fixtures.MessageID, evs[0].MessageID)
	last := evs[len(evs)-1]
	assert.Equal(t, EventDone, last.Type)
	assert.Equal(t, "end_turn", last.StopReason)

	c, ok := d.Result()
	require.True(t, ok)
	assert.Equal(t, "Hello world", c.Text)
	assert.Equal(t, fixtures.Model, c.Model)
	assert.Equal(t, 12, c.Usage.InputTokens)
	assert.Equal(t, 3, c.Usage.OutputTokens)

	_, err = d.Next()
	assert.ErrorIs(t, err, io.EOF, "completed is terminal")
}

func TestDecoder_FramesSplitAcrossReads(t *testing.T) {
	d := NewDecoder(context.Background(), io.NopCloser(&oneByteReader{s: fixtures.TextStream("a", "b", "c")}), 0, nil)
	evs, err := collect(d)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"a", "b", "c"}, texts(evs))
}

func TestDecoder_ImmediateTerminal(t *testing.T) {
	for name, stream := range map[string]string{
		"message_stop": fixtures.MessageStop(),
		"done":         "data: [DONE]\n\n",
	} {
		t.Run(name, func(t *testing.T) {
			d := NewDecoder(context.Background(), newBody(stream), 0, nil)
			ev, err := d.Next()
			require.NoError(t, err)
			assert.Equal(t, EventDone, ev.Type)
			assert.Equal(t, StateCompleted, d.State())
			c, ok := d.Result()
			require.True(t, ok)
			assert.Empty(t, c.Text)
		})
	}
}

func TestDecoder_Aborts(t *testing.T) {
	tests := []struct {
		name      string
		stream    string
		delivered []string
		kind      types.Kind
		reason    types.Reason
	}{
		{
			name:      "truncated final frame",
			stream:    fixtures.MessageStart() + fixtures.TextDelta("one") + "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"two\"}}",
			delivered: []string{"one"},
			kind:      types.KindDecode,
			reason:    types.ReasonTruncated,
		},
		{
			name:      "eof without message_stop",
			stream:    fixtures.MessageStart() + fixtures.TextDelta("one") + fixtures.TextDelta("two"),
			delivered: []string{"one", "two"},
			kind:      types.KindDecode,
			reason:    types.ReasonTruncated,
		},
		{
			name:      "malformed json",
			stream:    fixtures.MessageStart() + fixtures.TextDelta("one") + "event: content_block_delta\ndata: {not json\n\n" + fixtures.TextDelta("never"),
			delivered: []string{"one"},
			kind:      types.KindDecode,
			reason:    types.ReasonMalformed,
		},
		{
			name:      "overloaded error event",
			stream:    fixtures.MessageStart() + fixtures.TextDelta("one") + fixtures.ErrorEvent("overloaded_error", "Overloaded"),
			delivered: []string{"one"},
			kind:      types.KindUpstreamServer,
			reason:    types.ReasonOverloaded,
		},
		{
			name:      "other error event",
			stream:    fixtures.MessageStart() + fixtures.ErrorEvent("invalid_request_error", "bad"),
			delivered: nil,
			kind:      types.KindDecode,
			reason:    types.ReasonUpstreamEvent,
		},
		{
			name:      "empty body",
			stream:    "",
			delivered: nil,
			kind:      types.KindDecode,
			reason:    types.ReasonTruncated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := newBody(tt.stream)
			d := NewDecoder(context.Background(), body, 0, nil)

			evs, err := collect(d)
			assert.Equal(t, tt.delivered, texts(evs))
			e, ok := types.AsError(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, tt.kind, e.Kind)
			assert.Equal(t, tt.reason, e.Reason)
			assert.Equal(t, StateAborted, d.State())
			assert.True(t, body.closed)
			assert.Equal(t, strings.Join(tt.delivered, ""), d.Transcript(), "delivered text is kept")

			_, again := d.Next()
			assert.Same(t, err, again, "aborted is terminal")
			_, ok = d.Result()
			assert.False(t, ok)
		})
	}
}

func TestDecoder_OversizedFrame(t *testing.T) {
	stream := fixtures.MessageStart() + fixtures.TextDelta(strings.Repeat("x", 4096))
	d := NewDecoder(context.Background(), newBody(stream), 1024, nil)

	_, err := collect(d)
	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, types.ReasonOversized, e.Reason)
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }

func TestDecoder_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	body := io.NopCloser(io.MultiReader(strings.NewReader(fixtures.MessageStart()), errReader{context.Canceled}))
	d := NewDecoder(ctx, body, 0, nil)

	_, err := collect(d)
	assert.Equal(t, types.KindCancelled, types.KindOf(err))
}

func TestDecoder_CloseMidStream(t *testing.T) {
	body := newBody(fixtures.TextStream("a", "b"))
	d := NewDecoder(context.Background(), body, 0, nil)

	_, err := d.Next()
	require.NoError(t, err)
	require.NoError(t, d.Close())
	assert.True(t, body.closed)
	assert.Equal(t, StateAborted, d.State())

	_, err = d.Next()
	assert.Equal(t, types.KindCancelled, types.KindOf(err))
}

func TestDecoder_Drain(t *testing.T) {
	c, err := NewDecoder(context.Background(), newBody(fixtures.TextStream("x", "y")), 0, nil).Drain()
	require.NoError(t, err)
	assert.Equal(t, "xy", c.Text)

	_, err = NewDecoder(context.Background(), newBody(fixtures.TextDelta("x")), 0, nil).Drain()
	assert.Equal(t, types.KindDecode, types.KindOf(err))
}

func TestDecodeCompletion(t *testing.T) {
	c, err := DecodeCompletion(strings.NewReader(fixtures.MessageJSON("hi there")))
	require.NoError(t, err)
	assert.Equal(t, "hi there", c.Text)
	assert.Equal(t, "end_turn", c.StopReason)

	_, err = DecodeCompletion(strings.NewReader("{"))
	assert.Equal(t, types.KindDecode, types.KindOf(err))

	_, err = DecodeCompletion(strings.NewReader(fixtures.ErrorJSON("overloaded_error", "busy")))
	assert.Equal(t, types.KindUpstreamServer, types.KindOf(err))
}

// 属性: 任意文本分片序列按到达顺序逐一产出，拼接等于完整文本
func TestProperty_DecoderPreservesOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		chunks := rapid.SliceOfN(rapid.StringMatching(`[a-zA-Z0-9 .,\n]{1,12}`), 0, 30).Draw(rt, "chunks")
		truncate := rapid.Bool().Draw(rt, "truncate")

		stream := fixtures.TextStream(chunks...)
		if truncate {
			stream = stream[:strings.LastIndex(stream, "event: message_delta")]
		}

		evs, err := collect(NewDecoder(context.Background(), newBody(stream), 0, nil))
		got := texts(evs)
		if len(chunks) == 0 {
			chunks = nil
		}
		if strings.Join(got, "|") != strings.Join(chunks, "|") || len(got) != len(chunks) {
			rt.Fatalf("order lost: want %q got %q", chunks, got)
		}
		if truncate && !types.IsKind(err, types.KindDecode) {
			rt.Fatalf("truncated stream should abort, got %v", err)
		}
		if !truncate && !errors.Is(err, io.EOF) {
			rt.Fatalf("complete stream should end with EOF, got %v", err)
		}
	})
}
