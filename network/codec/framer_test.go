package codec

import (
	"math/rand"
	"testing"

	"github.com/YiuTerran/go-gamenet/network/packet"
	"github.com/YiuTerran/go-gamenet/network/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collected struct {
	headers  []Header
	payloads [][]byte
}

func (c *collected) emit(codec *Codec) EmitFunc {
	return func(h Header, body []byte) error {
		raw, err := codec.Open(h, body)
		if err != nil {
			return err
		}
		c.headers = append(c.headers, h)
		c.payloads = append(c.payloads, append([]byte(nil), raw...))
		return nil
	}
}

func splitAt(b []byte, cuts ...int) [][]byte {
	out := make([][]byte, 0, len(cuts)+1)
	prev := 0
	for _, cut := range cuts {
		out = append(out, b[prev:cut])
		prev = cut
	}
	return append(out, b[prev:])
}

func TestFramerReassembly(t *testing.T) {
	c := New(WithCompressionThreshold(32), WithCompressor(Zlib{}), WithEncryptor(xorCipher(3)))
	raw := payload(300)
	frame, err := c.Encode(raw, packet.Binary, true, true, true)
	require.NoError(t, err)

	chunkings := map[string][][]byte{
		"whole":         {frame},
		"two":           splitAt(frame, len(frame)/2),
		"header only":   splitAt(frame, 1),
		"split size":    splitAt(frame, 2),
		"byte by byte":  nil,
		"random pieces": nil,
	}
	for i := range frame {
		chunkings["byte by byte"] = append(chunkings["byte by byte"], frame[i:i+1])
	}
	r := rand.New(rand.NewSource(42))
	var cuts []int
	for pos := 1 + r.Intn(5); pos < len(frame); pos += 1 + r.Intn(40) {
		cuts = append(cuts, pos)
	}
	chunkings["random pieces"] = splitAt(frame, cuts...)

	for name, chunks := range chunkings {
		f := NewFramer(c, pool.New(0, 0))
		var got collected
		for i, chunk := range chunks {
			require.NoError(t, f.Feed(chunk, got.emit(c)), name)
			if i < len(chunks)-1 {
				assert.Empty(t, got.payloads, "%s: dispatched before the frame was complete", name)
			}
		}
		require.Len(t, got.payloads, 1, name)
		assert.Equal(t, raw, got.payloads[0], name)
		assert.True(t, got.headers[0].Last, name)
		assert.False(t, f.Pending(), name)
	}
}

func TestFramerMultipleFramesPerChunk(t *testing.T) {
	c := New()
	var stream []byte
	want := [][]byte{[]byte("a"), {}, payload(7), payload(8), payload(70000)}
	for _, w := range want {
		frame, err := c.Encode(w, packet.Binary, false, false, false)
		require.NoError(t, err)
		stream = append(stream, frame...)
	}
	f := NewFramer(c, nil)
	var got collected
	require.NoError(t, f.Feed(stream[:10], got.emit(c)))
	require.NoError(t, f.Feed(stream[10:], got.emit(c)))
	require.Len(t, got.payloads, len(want))
	for i := range want {
		require.Len(t, got.payloads[i], len(want[i]))
		if len(want[i]) == 0 {
			// 空帧
			assert.Empty(t, got.payloads[i])
			continue
		}
		assert.Equal(t, want[i], got.payloads[i])
	}
}

func TestFramerRejectsCorruptHeader(t *testing.T) {
	c := New(WithMaxFrameSize(16))
	f := NewFramer(c, nil)
	var got collected
	err := f.Feed([]byte{0x08, 0x00}, got.emit(c))
	require.NoError(t, err)
	assert.True(t, f.Pending())
	err = f.Feed([]byte{0x40}, got.emit(c))
	var ce *CorruptFrameError
	assert.ErrorAs(t, err, &ce)

	f.Reset()
	err = f.Feed([]byte{0x18}, got.emit(c))
	assert.ErrorAs(t, err, &ce)
	assert.Empty(t, got.payloads)
}
