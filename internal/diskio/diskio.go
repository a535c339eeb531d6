// Package diskio implements the request-queue-based disk I/O worker
// from spec.md §4.6: a FIFO pending queue (tail-insert), a worker that
// dispatches each request to a registered block device and moves it to
// a completed queue (head-insert), and wait_completion's scan-by-id —
// grounded on _examples/original_source/cpu/iothread.c.
package diskio

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/axonos/axonos/internal/spinlock"
)

var (
	errUnknownOp     = errors.New("diskio: unknown request op")
	errRequestFailed = errors.New("diskio: request completed with error status")
)

// OpType is the I/O request kind.
type OpType int

const (
	OpRead OpType = iota
	OpWrite
)

// SectorSize is the fixed sector size assumed throughout, per spec.md
// §4.6's "ceil(bytes/512) sectors."
const SectorSize = 512

// Device is the block-layer contract a disk driver (e.g. internal/ata)
// implements for the worker to dispatch requests into.
type Device interface {
	ReadSectors(lba uint32, buf []byte) error
	WriteSectors(lba uint32, buf []byte) error
}

// Request is one I/O request, per spec.md §3: a monotonic id, type,
// device id, starting LBA, buffer, byte length, and status assigned
// exactly once by the worker. next links it into whichever of the
// pending/completed queues currently holds it — never both.
type Request struct {
	ID       uint64
	Type     OpType
	DeviceID uint8
	Offset   uint32
	Buffer   []byte
	Size     uint32
	Status   int // 0 pending, 1 success, -1 error

	next *Request
}

// Worker owns the pending/completed queues, the registered device
// table, and the worker goroutine supervised via errgroup.
type Worker struct {
	lock spinlock.Lock

	pendingHead, pendingTail *Request
	completedHead            *Request

	nextID atomic.Uint64

	devices map[uint8]Device

	notify chan struct{}

	g      *errgroup.Group
	cancel context.CancelFunc
}

// NewWorker creates a worker with no registered devices; call
// RegisterDevice before scheduling requests against a device id, and
// Start to launch the worker goroutine.
func NewWorker() *Worker {
	return &Worker{
		devices: make(map[uint8]Device),
		notify:  make(chan struct{}, 1),
	}
}

// RegisterDevice associates a device id with its block-layer
// implementation.
func (w *Worker) RegisterDevice(id uint8, d Device) {
	w.devices[id] = d
}

// Start launches the worker goroutine under an errgroup.Group so its
// exit (or a propagated panic-turned-error) is observable via Stop.
func (w *Worker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	w.g = g
	g.Go(func() error {
		w.run(gctx)
		return nil
	})
}

// Stop cancels the worker and waits for it to exit.
func (w *Worker) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	if w.g != nil {
		return w.g.Wait()
	}
	return nil
}

func (w *Worker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		req := w.popPending()
		if req == nil {
			select {
			case <-ctx.Done():
				return
			case <-w.notify:
			}
			continue
		}
		w.process(req)
		w.pushCompleted(req)
	}
}

func (w *Worker) process(req *Request) {
	dev, ok := w.devices[req.DeviceID]
	if !ok {
		req.Status = -1
		return
	}
	sectors := (req.Size + SectorSize - 1) / SectorSize
	buf := req.Buffer
	if uint32(len(buf)) > sectors*SectorSize {
		buf = buf[:sectors*SectorSize]
	}

	var err error
	switch req.Type {
	case OpRead:
		err = dev.ReadSectors(req.Offset, buf)
	case OpWrite:
		err = dev.WriteSectors(req.Offset, buf)
	default:
		err = errUnknownOp
	}
	if err != nil {
		req.Status = -1
	} else {
		req.Status = 1
	}
}

// ScheduleRequest enqueues a request at the tail of the pending queue
// (FIFO: "tail-insert preserves issue order" per spec.md §4.6) and
// returns its assigned id.
func (w *Worker) ScheduleRequest(typ OpType, deviceID uint8, offset uint32, buf []byte, size uint32) uint64 {
	req := &Request{
		Type: typ, DeviceID: deviceID, Offset: offset, Buffer: buf, Size: size,
		ID: w.nextID.Add(1),
	}

	var flags spinlock.Flags
	w.lock.AcquireIRQSave(&flags)
	if w.pendingTail == nil {
		w.pendingHead, w.pendingTail = req, req
	} else {
		w.pendingTail.next = req
		w.pendingTail = req
	}
	w.lock.ReleaseIRQRestore(&flags)

	select {
	case w.notify <- struct{}{}:
	default:
	}
	return req.ID
}

func (w *Worker) popPending() *Request {
	var flags spinlock.Flags
	w.lock.AcquireIRQSave(&flags)
	defer w.lock.ReleaseIRQRestore(&flags)

	req := w.pendingHead
	if req == nil {
		return nil
	}
	w.pendingHead = req.next
	if w.pendingHead == nil {
		w.pendingTail = nil
	}
	req.next = nil
	return req
}

// pushCompleted head-inserts, permitted because completion is consumed
// by id rather than order, per spec.md §4.6.
func (w *Worker) pushCompleted(req *Request) {
	var flags spinlock.Flags
	w.lock.AcquireIRQSave(&flags)
	req.next = w.completedHead
	w.completedHead = req
	w.lock.ReleaseIRQRestore(&flags)

	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// WaitCompletion busy-wait-yields (here: polls on a short channel wait
// standing in for thread_yield) scanning the completed queue for id,
// removing and returning its result once found: nil on success, an
// error on failure.
func (w *Worker) WaitCompletion(id uint64) error {
	for {
		var flags spinlock.Flags
		w.lock.AcquireIRQSave(&flags)
		var prev *Request
		cur := w.completedHead
		for cur != nil {
			if cur.ID == id && cur.Status != 0 {
				if prev == nil {
					w.completedHead = cur.next
				} else {
					prev.next = cur.next
				}
				status := cur.Status
				w.lock.ReleaseIRQRestore(&flags)
				if status == 1 {
					return nil
				}
				return errRequestFailed
			}
			prev = cur
			cur = cur.next
		}
		w.lock.ReleaseIRQRestore(&flags)

		<-w.notify
		select {
		case w.notify <- struct{}{}:
		default:
		}
	}
}
