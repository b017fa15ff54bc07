package encoder

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogpu/gg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFrame(t *testing.T, i int, w, h int) Frame {
	t.Helper()
	img, err := gg.NewImageBuf(w, h, gg.FormatRGBA8)
	require.NoError(t, err)
	img.Fill(uint8(i*10), 80, 160, 255)
	return Frame{
		Timestamp: int64(i) * 33333,
		Duration:  33333,
		Width:     w,
		Height:    h,
		Image:     img,
	}
}

func TestSupported(t *testing.T) {
	ok := Config{Codec: CodecMJPEG, Width: 640, Height: 360, FPS: 30}
	require.NoError(t, Supported(ok))

	tests := []struct {
		name string
		cfg  Config
	}{
		{"codec", Config{Codec: "h264", Width: 640, Height: 360, FPS: 30}},
		{"zero size", Config{Codec: CodecMJPEG, FPS: 30}},
		{"odd size", Config{Codec: CodecMJPEG, Width: 641, Height: 360, FPS: 30}},
		{"too large", Config{Codec: CodecMJPEG, Width: 10000, Height: 360, FPS: 30}},
		{"fps", Config{Codec: CodecMJPEG, Width: 640, Height: 360}},
		{"quality", Config{Codec: CodecMJPEG, Width: 640, Height: 360, FPS: 30, Quality: 101}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, Supported(tc.cfg), ErrUnsupportedConfig)
		})
	}
}

func TestPacketFraming(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePacket(&buf, Packet{Timestamp: 1_000_000, Duration: 41667, Key: true, Data: []byte("jpeg")}))
	require.NoError(t, WritePacket(&buf, Packet{Timestamp: 1_041_667, Duration: 41667}))
	assert.Equal(t, 2*HeaderSize+4, buf.Len())

	pr := NewPacketReader(&buf)
	p, err := pr.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), p.Timestamp)
	assert.True(t, p.Key)
	assert.Equal(t, []byte("jpeg"), p.Data)

	p, err = pr.Next()
	require.NoError(t, err)
	assert.False(t, p.Key)
	assert.Empty(t, p.Data)

	_, err = pr.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestPacketReader_Truncated(t *testing.T) {
	framed := AppendPacket(nil, Packet{Timestamp: 1, Data: []byte("abcdef")})
	_, err := NewPacketReader(bytes.NewReader(framed[:len(framed)-2])).Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestJPEGEncoder_QueuesUntilFlush(t *testing.T) {
	var out []Packet
	enc, err := NewJPEGEncoder(Config{Codec: CodecMJPEG, Width: 16, Height: 8, FPS: 30}, func(p Packet) { out = append(out, p) })
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, enc.Encode(testFrame(t, i, 16, 8), i == 0))
	}
	assert.Len(t, out, 1, "output trails input")

	require.NoError(t, enc.Flush())
	require.Len(t, out, 3)
	assert.True(t, out[0].Key)
	assert.Equal(t, []byte{0xFF, 0xD8}, out[0].Data[:2], "JPEG SOI marker")
	assert.Equal(t, int64(66666), out[2].Timestamp)

	assert.Error(t, enc.Encode(testFrame(t, 3, 32, 8), false), "size mismatch")
	require.NoError(t, enc.Close())
	assert.ErrorIs(t, enc.Encode(testFrame(t, 4, 16, 8), false), ErrEncoderClosed)
}

type recorder struct {
	mu     sync.Mutex
	chunks [][]byte
	failAt int
}

func (r *recorder) upload(_ context.Context, chunk []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAt > 0 && len(r.chunks)+1 == r.failAt {
		return errors.New("upload rejected")
	}
	r.chunks = append(r.chunks, chunk)
	return nil
}

func newJPEG(cfg Config) NewEncoderFunc {
	return func(out OutputFunc) (Encoder, error) { return NewJPEGEncoder(cfg, out) }
}

func TestWorker_StreamsOrderedChunks(t *testing.T) {
	cfg := Config{Codec: CodecMJPEG, Width: 16, Height: 8, FPS: 30}
	rec := &recorder{}
	w, err := NewWorker(context.Background(), newJPEG(cfg), rec.upload, WorkerOptions{Threshold: 200})
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		require.NoError(t, w.EncodeFrame(testFrame(t, i, 16, 8), i%10 == 0))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.Close(ctx))

	assert.ErrorIs(t, w.EncodeFrame(testFrame(t, 20, 16, 8), false), ErrWorkerClosed)
	assert.Greater(t, len(rec.chunks), 1, "threshold splits the stream")

	stream := bytes.Join(rec.chunks, nil)
	pr := NewPacketReader(bytes.NewReader(stream))
	var stamps []int64
	keys := 0
	for {
		p, err := pr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		stamps = append(stamps, p.Timestamp)
		if p.Key {
			keys++
		}
	}
	require.Len(t, stamps, 20, "flush on close emits every queued packet")
	for i := 1; i < len(stamps); i++ {
		assert.Greater(t, stamps[i], stamps[i-1])
	}
	assert.Equal(t, 2, keys)

	st := w.Stats()
	assert.Equal(t, int64(20), st.Frames)
	assert.Equal(t, int64(len(stream)), st.Uploaded)
	assert.Equal(t, 0, w.Pending())
}

func TestWorker_UploadFailureSurfaces(t *testing.T) {
	cfg := Config{Codec: CodecMJPEG, Width: 16, Height: 8, FPS: 30}
	rec := &recorder{failAt: 1}
	w, err := NewWorker(context.Background(), newJPEG(cfg), rec.upload, WorkerOptions{Threshold: 1})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		if err := w.EncodeFrame(testFrame(t, i, 16, 8), false); err != nil {
			assert.EqualError(t, err, "upload rejected")
			break
		}
	}
	assert.EqualError(t, w.Close(context.Background()), "upload rejected")
	assert.Empty(t, rec.chunks, "chunks after a failed upload are not sent")
}

func TestWorker_AbortDropsQueuedChunks(t *testing.T) {
	cfg := Config{Codec: CodecMJPEG, Width: 16, Height: 8, FPS: 30}
	started := make(chan struct{}, 1)
	var calls atomic.Int32
	upload := func(ctx context.Context, _ []byte) error {
		calls.Add(1)
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	}
	w, err := NewWorker(context.Background(), newJPEG(cfg), upload, WorkerOptions{Threshold: 1})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, w.EncodeFrame(testFrame(t, i, 16, 8), i == 0))
	}
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("no upload started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.Abort(ctx))

	assert.Equal(t, int32(1), calls.Load(), "queued chunks are dropped")
	assert.Equal(t, int64(0), w.Stats().Uploaded)
	assert.ErrorIs(t, w.EncodeFrame(testFrame(t, 10, 16, 8), false), ErrWorkerClosed)
	assert.NoError(t, w.Close(ctx), "close after abort does not report the cancelled upload")
}

func TestWorker_EncoderConfigRejected(t *testing.T) {
	_, err := NewWorker(context.Background(), newJPEG(Config{Codec: "vp9"}), (&recorder{}).upload, WorkerOptions{})
	assert.ErrorIs(t, err, ErrUnsupportedConfig)
}
