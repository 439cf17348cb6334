package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rudransh-shrivastava/peerlink/internal/metrics"
	"github.com/rudransh-shrivastava/peerlink/internal/protocol"
	"github.com/rudransh-shrivastava/peerlink/internal/transport"
	"github.com/sirupsen/logrus"
)

const (
	DefaultStallTimeout = 60 * time.Second
	DefaultMaxFileSize  = 1 << 30
	defaultFinishedSize = 256
	bitrateWindow       = time.Second
)

var ErrFileTooLarge = errors.New("file exceeds the transfer size limit")

type File struct {
	Name     string
	MimeType string
	Data     []byte
}

type ReceivedFile struct {
	ID       string
	Name     string
	MimeType string
	Size     int64
	Data     []byte
}

// Progress reports one step of a transfer. Bitrate is in kilobits per second.
type Progress struct {
	FileID   string
	Title    string
	Progress int
	Bitrate  float64
}

type TransferHandlers struct {
	OnSendProgress  func(peerID string, p Progress)
	OnFileProgress  func(peerID string, p Progress)
	OnFileComplete  func(peerID string, f ReceivedFile)
	OnFileAbandoned func(peerID, fileID string, received, total int)
}

type TransferConfig struct {
	ChunkSize    int
	StallTimeout time.Duration
	// MaxFileSize bounds files in both directions. Larger incoming files are
	// discarded on their first chunk.
	MaxFileSize int64
	Clock       clock.Clock
}

func (c TransferConfig) withDefaults() TransferConfig {
	if c.ChunkSize <= 0 {
		c.ChunkSize = protocol.DefaultChunkSize
	}
	if c.StallTimeout <= 0 {
		c.StallTimeout = DefaultStallTimeout
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = DefaultMaxFileSize
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	return c
}

// bitrate averages throughput over fixed windows on a clock.
type bitrate struct {
	clock       clock.Clock
	windowStart time.Time
	windowBytes int
	kbps        float64
}

func newBitrate(c clock.Clock) *bitrate {
	return &bitrate{clock: c, windowStart: c.Now()}
}

func (b *bitrate) add(n int) float64 {
	b.windowBytes += n
	now := b.clock.Now()
	if elapsed := now.Sub(b.windowStart); elapsed >= bitrateWindow {
		b.kbps = float64(b.windowBytes*8) / 1000 / elapsed.Seconds()
		b.windowStart = now
		b.windowBytes = 0
	}
	return b.kbps
}

// incoming is the reassembly state of one file being received.
type incoming struct {
	id       string
	meta     protocol.FileMeta
	total    uint32
	chunks   map[uint32][]byte
	bytes    int64
	received uint32
	rate     *bitrate
	stall    *clock.Timer
}

// Transfer moves files as binary chunk frames on the unordered channel.
type Transfer struct {
	sender   Sender
	cfg      TransferConfig
	handlers TransferHandlers
	logger   logrus.FieldLogger
	metrics  *metrics.Metrics

	mu       sync.Mutex
	incoming map[string]*incoming
	finished *lru.Cache[string, struct{}]
	closed   bool
}

func NewTransfer(s Sender, cfg TransferConfig, h TransferHandlers, logger logrus.FieldLogger, m *metrics.Metrics) *Transfer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	// Only fails on a non-positive size.
	finished, _ := lru.New[string, struct{}](defaultFinishedSize)

	return &Transfer{
		sender:   s,
		cfg:      cfg.withDefaults(),
		handlers: h,
		logger:   logger,
		metrics:  m,
		incoming: make(map[string]*incoming),
		finished: finished,
	}
}

func (t *Transfer) Kind() Kind { return KindTransfer }

// SendFile chunks f onto the unordered channel and returns its file id.
// Progress is reported after every chunk and reaches 100 exactly once.
func (t *Transfer) SendFile(ctx context.Context, f File) (string, error) {
	if int64(len(f.Data)) > t.cfg.MaxFileSize {
		return "", fmt.Errorf("%w: %s is %d bytes, limit %d", ErrFileTooLarge, f.Name, len(f.Data), t.cfg.MaxFileSize)
	}

	id := uuid.NewString()
	size := t.cfg.ChunkSize
	total := (len(f.Data) + size - 1) / size
	if total == 0 {
		total = 1
	}
	meta := protocol.FileMeta{Name: f.Name, MimeType: f.MimeType, Size: int64(len(f.Data))}
	rate := newBitrate(t.cfg.Clock)

	t.logger.Infof("Sending %s (%d bytes, %d chunks)", f.Name, len(f.Data), total)

	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			t.metrics.Transfer("cancelled")
			return id, err
		}

		start := i * size
		end := min(start+size, len(f.Data))
		frame := protocol.EncodeChunk(protocol.Chunk{
			Data:   f.Data[start:end],
			FileID: id,
			Index:  uint32(i),
			Meta:   meta,
			Total:  uint32(total),
		})
		if err := t.sender.Send(transport.Unordered, transport.Binary, frame); err != nil {
			t.metrics.Transfer("failed")
			return id, fmt.Errorf("sending chunk %d of %s: %w", i, f.Name, err)
		}
		t.metrics.TransferBytes("sent", end-start)

		t.reportSend(Progress{
			FileID:   id,
			Title:    f.Name,
			Progress: (i + 1) * 100 / total,
			Bitrate:  rate.add(end - start),
		})
	}

	t.metrics.Transfer("sent")
	return id, nil
}

func (t *Transfer) reportSend(p Progress) {
	if t.handlers.OnSendProgress != nil {
		t.handlers.OnSendProgress(t.sender.RemoteID(), p)
	}
}

func (t *Transfer) Accept(ev transport.Event) bool {
	if ev.Encoding != transport.Binary || ev.Channel != transport.Unordered {
		return true
	}

	chunk, err := protocol.DecodeChunk(ev.Payload)
	if err != nil {
		t.logger.Warnf("Discarding malformed chunk: %v", err)
		return false
	}
	t.receive(chunk)
	return false
}

func (t *Transfer) receive(c protocol.Chunk) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if t.finished.Contains(c.FileID) {
		t.mu.Unlock()
		t.logger.Debugf("Ignoring late chunk %d of finished file %s", c.Index, c.FileID)
		return
	}

	in, ok := t.incoming[c.FileID]
	if !ok {
		if c.Meta.Size > t.cfg.MaxFileSize {
			t.mu.Unlock()
			t.logger.Warnf("Discarding %s: %d bytes exceeds the %d byte limit", c.FileID, c.Meta.Size, t.cfg.MaxFileSize)
			return
		}
		in = &incoming{
			id:     c.FileID,
			meta:   c.Meta,
			total:  c.Total,
			chunks: make(map[uint32][]byte),
			rate:   newBitrate(t.cfg.Clock),
		}
		in.stall = t.cfg.Clock.AfterFunc(t.cfg.StallTimeout, func() { t.abandon(in) })
		t.incoming[c.FileID] = in
		t.logger.Infof("Receiving %s (%d chunks)", c.Meta.Name, c.Total)
	} else if in.total != c.Total {
		t.mu.Unlock()
		t.logger.Warnf("Discarding chunk of %s: expected %d chunks, got %d", c.FileID, in.total, c.Total)
		return
	}

	if _, dup := in.chunks[c.Index]; dup {
		t.mu.Unlock()
		t.logger.Debugf("Ignoring duplicate chunk %d of %s", c.Index, c.FileID)
		return
	}
	if in.bytes+int64(len(c.Data)) > in.meta.Size {
		t.mu.Unlock()
		t.logger.Warnf("Discarding chunk %d of %s: data exceeds the announced %d bytes", c.Index, c.FileID, in.meta.Size)
		return
	}
	in.chunks[c.Index] = c.Data
	in.bytes += int64(len(c.Data))
	in.received++
	in.stall.Reset(t.cfg.StallTimeout)

	progress := Progress{
		FileID:   in.id,
		Title:    in.meta.Name,
		Progress: int(in.received) * 100 / int(in.total),
		Bitrate:  in.rate.add(len(c.Data)),
	}

	var done *ReceivedFile
	if in.received == in.total {
		in.stall.Stop()
		delete(t.incoming, in.id)
		t.finished.Add(in.id, struct{}{})
		done = &ReceivedFile{
			ID:       in.id,
			Name:     in.meta.Name,
			MimeType: in.meta.MimeType,
			Size:     in.meta.Size,
			Data:     in.assemble(),
		}
	}
	t.mu.Unlock()

	t.metrics.TransferBytes("received", len(c.Data))
	peerID := t.sender.RemoteID()
	if t.handlers.OnFileProgress != nil {
		t.handlers.OnFileProgress(peerID, progress)
	}
	if done != nil {
		t.metrics.Transfer("received")
		t.logger.Infof("Received %s (%d bytes)", done.Name, len(done.Data))
		if t.handlers.OnFileComplete != nil {
			t.handlers.OnFileComplete(peerID, *done)
		}
	}
}

func (in *incoming) assemble() []byte {
	data := make([]byte, 0, in.bytes)
	for i := uint32(0); i < in.total; i++ {
		data = append(data, in.chunks[i]...)
	}
	return data
}

// abandon drops a transfer that stalled. There is no retry.
func (t *Transfer) abandon(in *incoming) {
	t.mu.Lock()
	if t.closed || t.incoming[in.id] != in {
		t.mu.Unlock()
		return
	}
	delete(t.incoming, in.id)
	t.finished.Add(in.id, struct{}{})
	received, total := int(in.received), int(in.total)
	t.mu.Unlock()

	t.metrics.Transfer("abandoned")
	t.logger.Warnf("Abandoning %s after %s without progress (%d/%d chunks)", in.meta.Name, t.cfg.StallTimeout, received, total)
	if t.handlers.OnFileAbandoned != nil {
		t.handlers.OnFileAbandoned(t.sender.RemoteID(), in.id, received, total)
	}
}

// Pending returns the number of files currently being received.
func (t *Transfer) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.incoming)
}

func (t *Transfer) Open(context.Context, transport.ChannelKind) error { return nil }

func (t *Transfer) Blocked() bool { return false }

// Close drops every partial transfer without reporting it.
func (t *Transfer) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	for id, in := range t.incoming {
		in.stall.Stop()
		delete(t.incoming, id)
	}
}
