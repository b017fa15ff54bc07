package encoder

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/heimdex/heimdex-studio/internal/logging"
)

const DefaultThreshold = 4 << 20

// UploadFunc sends one chunk of framed packets to the remote session.
type UploadFunc func(ctx context.Context, chunk []byte) error

// NewEncoderFunc builds the encoder owned by a worker.
type NewEncoderFunc func(out OutputFunc) (Encoder, error)

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	// Threshold is the buffered byte count that triggers an upload.
	Threshold int
	// FrameBuffer is the hand-off channel capacity.
	FrameBuffer int
	Logger      *slog.Logger
}

type frameJob struct {
	frame Frame
	key   bool
}

// WorkerStats counts what a worker produced.
type WorkerStats struct {
	Frames   int64
	Packets  int64
	Chunks   int64
	Uploaded int64
}

// Worker runs an encoder and an uploader off the caller's goroutine.
// Frames are handed over a channel and belong to the worker afterwards.
// Encoded packets collect in a buffer that is queued for upload once it
// exceeds the threshold. The upload queue is unbounded: if encoding
// outpaces the network the queue grows.
type Worker struct {
	enc       Encoder
	upload    UploadFunc
	threshold int
	logger    *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	frames  chan frameJob
	queue   *chunkQueue
	aborted atomic.Bool

	// buf is only touched by the encode goroutine.
	buf [][]byte
	n   int

	// mu serializes hand-off against Close.
	mu     sync.Mutex
	closed bool

	errMu    sync.Mutex
	firstErr error

	encodeDone chan struct{}
	uploadDone chan struct{}
	closeOnce  sync.Once

	frameCount  atomic.Int64
	packetCount atomic.Int64
	chunkCount  atomic.Int64
	uploaded    atomic.Int64
}

// NewWorker starts the encode and upload goroutines. ctx bounds uploads.
func NewWorker(ctx context.Context, newEncoder NewEncoderFunc, upload UploadFunc, opts WorkerOptions) (*Worker, error) {
	ctx, cancel := context.WithCancel(ctx)
	w := &Worker{
		upload:     upload,
		threshold:  opts.Threshold,
		logger:     logging.WithComponent(logging.OrDiscard(opts.Logger), "encoder-worker"),
		ctx:        ctx,
		cancel:     cancel,
		frames:     make(chan frameJob, max(opts.FrameBuffer, 1)),
		queue:      newChunkQueue(),
		encodeDone: make(chan struct{}),
		uploadDone: make(chan struct{}),
	}
	if w.threshold <= 0 {
		w.threshold = DefaultThreshold
	}
	enc, err := newEncoder(w.onPacket)
	if err != nil {
		cancel()
		return nil, err
	}
	w.enc = enc

	go w.encodeLoop()
	go w.uploadLoop()
	return w, nil
}

// EncodeFrame hands frame to the worker. It fails once the worker is closed
// or an earlier encode or upload failed.
func (w *Worker) EncodeFrame(frame Frame, key bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWorkerClosed
	}
	if err := w.err(); err != nil {
		return err
	}
	w.frames <- frameJob{frame: frame, key: key}
	return nil
}

// Close flushes the encoder, flushes the remaining buffer, closes the
// encoder and waits for every queued upload. It returns the first error
// seen by the worker.
func (w *Worker) Close(ctx context.Context) error {
	w.shutdown()
	if err := w.wait(ctx); err != nil {
		return err
	}
	return w.err()
}

// Abort stops the worker without flushing. Frames not yet encoded and
// chunks not yet uploaded are dropped, and an upload in flight has its
// context cancelled. Errors caused by the abort are not reported.
func (w *Worker) Abort(ctx context.Context) error {
	w.aborted.Store(true)
	w.cancel()
	w.shutdown()
	return w.wait(ctx)
}

func (w *Worker) shutdown() {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.frames)
		w.mu.Unlock()
	})
}

func (w *Worker) wait(ctx context.Context) error {
	for _, done := range []chan struct{}{w.encodeDone, w.uploadDone} {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Pending is the number of chunks waiting for upload.
func (w *Worker) Pending() int {
	return w.queue.len()
}

func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		Frames:   w.frameCount.Load(),
		Packets:  w.packetCount.Load(),
		Chunks:   w.chunkCount.Load(),
		Uploaded: w.uploaded.Load(),
	}
}

func (w *Worker) encodeLoop() {
	defer close(w.encodeDone)
	defer w.queue.close()

	for job := range w.frames {
		if w.err() != nil || w.aborted.Load() {
			continue
		}
		if err := w.enc.Encode(job.frame, job.key); err != nil {
			w.fail(err)
			continue
		}
		w.frameCount.Add(1)
	}

	if !w.aborted.Load() {
		if err := w.enc.Flush(); err != nil {
			w.fail(err)
		}
		w.flushBuffer()
	}
	if err := w.enc.Close(); err != nil {
		w.fail(err)
	}
}

// onPacket is the encoder output callback; it runs on the encode goroutine.
// The threshold check only queues the buffer, it never waits for upload.
func (w *Worker) onPacket(p Packet) {
	w.packetCount.Add(1)
	w.buf = append(w.buf, AppendPacket(make([]byte, 0, p.Size()), p))
	w.n += p.Size()
	if w.n >= w.threshold {
		w.flushBuffer()
	}
}

func (w *Worker) flushBuffer() {
	if w.n == 0 {
		return
	}
	chunk := make([]byte, 0, w.n)
	for _, b := range w.buf {
		chunk = append(chunk, b...)
	}
	w.buf = w.buf[:0]
	w.n = 0
	w.chunkCount.Add(1)
	w.queue.push(chunk)
}

func (w *Worker) uploadLoop() {
	defer close(w.uploadDone)
	defer w.cancel()
	for {
		chunk, ok := w.queue.pop()
		if !ok {
			return
		}
		if w.err() != nil || w.aborted.Load() {
			// The stream is already broken; later chunks would be out of order.
			continue
		}
		if err := w.upload(w.ctx, chunk); err != nil {
			if w.aborted.Load() {
				continue
			}
			w.logger.Error("chunk upload failed", "bytes", len(chunk), "error", err)
			w.fail(err)
			continue
		}
		w.uploaded.Add(int64(len(chunk)))
		w.logger.Debug("chunk uploaded", "bytes", len(chunk), "pending", w.queue.len())
	}
}

func (w *Worker) fail(err error) {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	if w.firstErr == nil {
		w.firstErr = err
	}
}

func (w *Worker) err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.firstErr
}

// chunkQueue is an unbounded FIFO with a blocking pop.
type chunkQueue struct {
	mu     sync.Mutex
	items  [][]byte
	closed bool
	notify chan struct{}
}

func newChunkQueue() *chunkQueue {
	return &chunkQueue{notify: make(chan struct{}, 1)}
}

func (q *chunkQueue) push(b []byte) {
	q.mu.Lock()
	q.items = append(q.items, b)
	q.mu.Unlock()
	q.signal()
}

func (q *chunkQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *chunkQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *chunkQueue) pop() ([]byte, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			b := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return b, true
		}
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		q.mu.Unlock()
		<-q.notify
	}
}

func (q *chunkQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
