package telemetry

import (
	"sync"

	"github.com/ethereum/go-ethereum/event"
	"go.uber.org/zap"
)

// DefaultBufferSize bounds the in-memory recent-record buffer.
const DefaultBufferSize = 1000

// forwardQueueSize bounds the queue between Emit and the fan-out goroutine.
const forwardQueueSize = 256

// Emitter records telemetry and fans it out to subscribers.
type Emitter struct {
	nodeID string
	store  *Store // nil disables persistence

	mu     sync.Mutex
	buf    []Record
	bufCap int
	closed bool

	feed    event.FeedOf[Record]
	forward chan Record
	quit    chan struct{}
	done    chan struct{}
}

// NewEmitter returns an emitter for nodeID. store may be nil; bufSize <= 0
// uses DefaultBufferSize.
func NewEmitter(nodeID string, store *Store, bufSize int) *Emitter {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	e := &Emitter{
		nodeID:  nodeID,
		store:   store,
		bufCap:  bufSize,
		forward: make(chan Record, forwardQueueSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go e.forwardLoop()
	return e
}

// Emit records one telemetry event and returns it. It never blocks on
// subscribers and never propagates persistence failures.
func (e *Emitter) Emit(t Type, fields map[string]interface{}) Record {
	rec := newRecord(e.nodeID, t, fields)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return rec
	}
	e.buffer(rec)
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.Save(rec); err != nil {
			zap.L().Warn("telemetry store save failed",
				zap.String("type", string(t)), zap.Error(err))
		}
	}

	select {
	case e.forward <- rec:
	default:
		// Queue full. Shedding a non-terminal record is acceptable;
		// a terminal one is delivered synchronously instead.
		if t.Terminal() {
			e.feed.Send(rec)
		} else {
			zap.L().Debug("telemetry fan-out queue full, record dropped",
				zap.String("type", string(t)))
		}
	}
	return rec
}

// buffer appends rec to the bounded recent-record buffer, shedding the
// oldest non-terminal record on overflow. Terminal records are never shed;
// when the buffer holds only terminal records an incoming non-terminal
// record is the one dropped.
func (e *Emitter) buffer(rec Record) {
	if len(e.buf) < e.bufCap {
		e.buf = append(e.buf, rec)
		return
	}
	for i := range e.buf {
		if !e.buf[i].Type.Terminal() {
			copy(e.buf[i:], e.buf[i+1:])
			e.buf[len(e.buf)-1] = rec
			return
		}
	}
	if rec.Type.Terminal() {
		e.buf = append(e.buf, rec)
	}
}

// Recent returns up to n buffered records, oldest first. n <= 0 returns all.
func (e *Emitter) Recent(n int) []Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n <= 0 || n > len(e.buf) {
		n = len(e.buf)
	}
	out := make([]Record, n)
	copy(out, e.buf[len(e.buf)-n:])
	return out
}

// Subscribe registers ch to receive every record emitted after the call.
// Slow subscribers delay fan-out, not Emit; use a buffered channel.
func (e *Emitter) Subscribe(ch chan<- Record) event.Subscription {
	return e.feed.Subscribe(ch)
}

// Close drains queued records to subscribers and stops fan-out. Records
// emitted after Close are returned but neither buffered nor forwarded.
func (e *Emitter) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()
	close(e.quit)
	<-e.done
}

func (e *Emitter) forwardLoop() {
	defer close(e.done)
	for {
		select {
		case rec := <-e.forward:
			e.feed.Send(rec)
		case <-e.quit:
			for {
				select {
				case rec := <-e.forward:
					e.feed.Send(rec)
				default:
					return
				}
			}
		}
	}
}
