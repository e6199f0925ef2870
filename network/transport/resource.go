package transport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/linchenxuan/slingshot/log"
	"github.com/linchenxuan/slingshot/metrics"
	"github.com/linchenxuan/slingshot/network/frame"
	uuid "github.com/satori/go.uuid"
)

// Values of the result dimension of the resource metrics.
const (
	resultOK      = "ok"
	resultFail    = "fail"
	resultAborted = "aborted"
	resultRefused = "refused"
)

// SendResource streams the file at path to the peer as a resource called name. done runs
// exactly once, on a goroutine of its own, with nil after the last frame was written or with the
// error that ended the transfer. The file is left in place.
//
// Resource frames yield to queued Action frames, so a large transfer does not delay gameplay
// traffic; nothing orders a resource relative to actions.
func (c *Conn) SendResource(path, name string, done func(error)) {
	go func() {
		err := c.sendResource(path, name)
		result := resultOK
		if err != nil {
			result = resultFail
			log.Warn().Err(err).Str("peer", c.Remote().String()).Str("resource", name).Msg("resource send failed")
		}
		metrics.IncrCounterWithDimGroup(metrics.NameResourceSendTotal, metrics.GroupSlingshot, 1,
			metrics.Dimension{metrics.DimResult: result})
		if done != nil {
			done(err)
		}
	}()
}

// sendResource queues the start, chunk and end frames of one transfer and waits until the end
// frame has been written. A file that shrinks or fails to read mid-transfer is announced to the
// peer as aborted.
func (c *Conn) sendResource(path, name string) error {
	if err := c.checkReady(); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open resource: %w", err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat resource: %w", err)
	}

	id := c.nextResID.Add(1)
	start := resourceStart{ID: id, Name: name, Size: fi.Size()}
	payload, err := start.marshal()
	if err != nil {
		return fmt.Errorf("encode resource start: %w", err)
	}
	if err := c.enqueueResource(outFrame{typ: frame.ResourceStart, payload: payload}); err != nil {
		return err
	}

	// Chunks carry the transfer id in front of the data, in a pooled buffer released by the writer.
	var sent int64
	for sent < start.Size {
		want := int(min(int64(c.cfg.ChunkSize), start.Size-sent))
		buf := _chunkBuffers.Get(_chunkIDSize + want)
		putChunkID(*buf, id)
		n, rerr := io.ReadFull(f, (*buf)[_chunkIDSize:])
		if n > 0 {
			sent += int64(n)
			if err := c.enqueueResource(outFrame{typ: frame.ResourceChunk, payload: (*buf)[:_chunkIDSize+n], buf: buf}); err != nil {
				return err
			}
		} else {
			_chunkBuffers.Put(buf)
		}
		if errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF) {
			break
		}
		if rerr != nil {
			_ = c.enqueueResource(outFrame{typ: frame.ResourceEnd, payload: marshalEnd(id, endAborted)})
			return fmt.Errorf("read resource: %w", rerr)
		}
	}
	if sent != start.Size {
		_ = c.enqueueResource(outFrame{typ: frame.ResourceEnd, payload: marshalEnd(id, endAborted)})
		return fmt.Errorf("resource changed while sending: %d of %d bytes", sent, start.Size)
	}

	// The end frame reports back once written so done means the bytes left this process.
	written := make(chan error, 1)
	if err := c.enqueueResource(outFrame{typ: frame.ResourceEnd, payload: marshalEnd(id, endOK), written: written}); err != nil {
		return err
	}
	select {
	case err := <-written:
		return err
	case <-c.ctx.Done():
		return ErrConnClosed
	}
}

// enqueueResource blocks until the writer accepts f. Resource frames are never dropped, unlike
// inline frames; a full queue only slows the transfer down.
func (c *Conn) enqueueResource(f outFrame) error {
	select {
	case c.resCh <- f:
		return nil
	case <-c.ctx.Done():
		if f.buf != nil {
			_chunkBuffers.Put(f.buf)
		}
		return ErrConnClosed
	}
}

// incomingResource is a transfer being spooled. It is owned by the read loop.
type incomingResource struct {
	start   resourceStart // Announcement, including the expected size
	file    *os.File      // Open spool file
	path    string        // Spool file name, removed on failure
	written int64         // Bytes written so far
}

// discard closes and removes the spool file.
func (r *incomingResource) discard() {
	_ = r.file.Close()
	_ = os.Remove(r.path)
}

// onResourceStart opens a spool file for a new transfer. A start reusing a live id replaces the
// older transfer.
func (c *Conn) onResourceStart(payload []byte) {
	var start resourceStart
	if err := start.unmarshal(payload); err != nil {
		log.Warn().Err(err).Str("peer", c.Remote().String()).Msg("bad resource start, dropping")
		return
	}
	if old, ok := c.incoming[start.ID]; ok {
		old.discard()
		delete(c.incoming, start.ID)
	}
	// A refused transfer has no entry, so its chunks and end are dropped as unknown.
	if start.Size > c.cfg.MaxResource {
		log.Warn().Str("peer", c.Remote().String()).Str("resource", start.Name).Int64("size", start.Size).
			Int64("maxResource", c.cfg.MaxResource).Msg("resource too large, refusing")
		c.recordRecv(resultRefused, 0)
		return
	}
	if len(c.incoming) >= c.cfg.MaxIncoming {
		log.Warn().Str("peer", c.Remote().String()).Str("resource", start.Name).Int("maxIncoming", c.cfg.MaxIncoming).
			Msg("too many resources in flight, refusing")
		c.recordRecv(resultRefused, 0)
		return
	}
	path := filepath.Join(c.cfg.TempDir, "slingshot-"+uuid.NewV4().String())
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("create resource spool file")
		c.recordRecv(resultFail, 0)
		return
	}
	c.incoming[start.ID] = &incomingResource{start: start, file: file, path: path}
}

// onResourceChunk appends data to its transfer. Data beyond the announced size, or beyond
// MaxResource, aborts the transfer.
func (c *Conn) onResourceChunk(payload []byte) {
	id, data, err := splitChunk(payload)
	if err != nil {
		log.Warn().Err(err).Str("peer", c.Remote().String()).Msg("bad resource chunk, dropping")
		return
	}
	r, ok := c.incoming[id]
	if !ok {
		// The transfer was already dropped locally.
		return
	}
	if r.written+int64(len(data)) > min(r.start.Size, c.cfg.MaxResource) {
		log.Warn().Str("peer", c.Remote().String()).Str("resource", r.start.Name).Int64("size", r.start.Size).
			Msg("resource longer than announced, dropping")
		c.abortIncoming(id, r, resultFail)
		return
	}
	n, err := r.file.Write(data)
	r.written += int64(n)
	if err != nil {
		log.Error().Err(err).Str("path", r.path).Msg("write resource spool file")
		c.abortIncoming(id, r, resultFail)
	}
}

// onResourceEnd completes a transfer and publishes it. The spool file is removed instead if the
// transfer is incomplete or the connection closes before the event is taken.
func (c *Conn) onResourceEnd(payload []byte) {
	id, status, err := unmarshalEnd(payload)
	if err != nil {
		log.Warn().Err(err).Str("peer", c.Remote().String()).Msg("bad resource end, dropping")
		return
	}
	r, ok := c.incoming[id]
	if !ok {
		return
	}
	if status != endOK {
		c.abortIncoming(id, r, resultAborted)
		return
	}
	if r.written != r.start.Size {
		log.Warn().Str("peer", c.Remote().String()).Str("resource", r.start.Name).
			Int64("written", r.written).Int64("size", r.start.Size).Msg("resource shorter than announced, dropping")
		c.abortIncoming(id, r, resultFail)
		return
	}
	delete(c.incoming, id)
	if err := r.file.Close(); err != nil {
		log.Error().Err(err).Str("path", r.path).Msg("close resource spool file")
		_ = os.Remove(r.path)
		c.recordRecv(resultFail, 0)
		return
	}
	c.recordRecv(resultOK, r.written)
	res := &Resource{Name: r.start.Name, Path: r.path, Size: r.written}
	if !c.publish(Event{Kind: EventResource, Resource: res}) {
		_ = os.Remove(r.path)
	}
}

// abortIncoming forgets a transfer and removes its spool file.
func (c *Conn) abortIncoming(id uint32, r *incomingResource, result string) {
	delete(c.incoming, id)
	r.discard()
	c.recordRecv(result, 0)
}

// dropIncoming removes every partially received resource.
func (c *Conn) dropIncoming() {
	for id, r := range c.incoming {
		c.abortIncoming(id, r, resultAborted)
	}
}

// recordRecv counts a finished inbound transfer. Only successful transfers feed the size average.
func (c *Conn) recordRecv(result string, size int64) {
	metrics.IncrCounterWithDimGroup(metrics.NameResourceRecvTotal, metrics.GroupSlingshot, 1,
		metrics.Dimension{metrics.DimResult: result})
	if result == resultOK {
		metrics.UpdateAvgGaugeWithGroup(metrics.NameResourceSizeAvgKB, metrics.GroupSlingshot, metrics.Value(float64(size)/metrics.KB))
	}
}
