// Package sched implements the cooperative, single-CPU thread
// scheduler from spec.md §4.4: a fixed thread table, a
// Ready/Running/Sleeping/Blocked/Terminated state machine, and
// yield/sleep/block/unblock/stop primitives — grounded on
// _examples/original_source/cpu/thread.c.
//
// There is no real context switch to simulate: each Thread is backed
// by its own goroutine, and the Scheduler hands a single token between
// them so that exactly one ever runs at a time, reproducing "at most
// one thread is RUNNING" without assembly.
package sched

import (
	"sync"

	"github.com/axonos/axonos/internal/vfs"
)

const (
	// MaxThreads is the fixed thread table size, per spec.md §4.4.
	MaxThreads = 32
	// MaxFDs is the per-thread file descriptor table size.
	MaxFDs = 16
	// IdleTID is the always-ready/running idle thread's tid.
	IdleTID = 0
)

// State is the thread state machine's tag, a plain enum. It carries no
// payload: the sleep deadline is Thread's separate deadline field,
// meaningful only while the state is StateSleeping.
type State int

const (
	StateReady State = iota
	StateRunning
	StateSleeping
	StateBlocked
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateSleeping:
		return "sleeping"
	case StateBlocked:
		return "blocked"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Thread is one scheduler-table entry, per spec.md §3's Thread entity.
type Thread struct {
	TID  int
	Name string

	UID, GID uint32
	TTYIndex int

	// UserRIP/UserRSP are set only for ring-3-registered threads
	// (RegisterUser); IsUser reports whether they're meaningful.
	UserRIP, UserRSP uint64
	IsUser           bool

	mu       sync.Mutex
	state    State
	deadline uint64 // meaningful only while state == StateSleeping

	fds [MaxFDs]*vfs.File

	resume chan struct{}
}

// State returns the thread's current state under its own lock.
func (t *Thread) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// AssignFD installs f into the first free descriptor slot, returning
// its index, or -1 if the table is full.
func (t *Thread) AssignFD(f *vfs.File) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, slot := range t.fds {
		if slot == nil {
			t.fds[i] = f
			return i
		}
	}
	return -1
}

// FD returns the file at descriptor fd, or nil if empty/out of range.
func (t *Thread) FD(fd int) *vfs.File {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fd < 0 || fd >= MaxFDs {
		return nil
	}
	return t.fds[fd]
}

// CloseFD releases and clears descriptor fd.
func (t *Thread) CloseFD(fd int) error {
	t.mu.Lock()
	f := (*vfs.File)(nil)
	if fd >= 0 && fd < MaxFDs {
		f = t.fds[fd]
		t.fds[fd] = nil
	}
	t.mu.Unlock()
	if f == nil {
		return vfs.ErrInvalid
	}
	return f.Free()
}

// DupFD duplicates the file at oldfd into the first free slot.
func (t *Thread) DupFD(oldfd int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if oldfd < 0 || oldfd >= MaxFDs || t.fds[oldfd] == nil {
		return -1
	}
	for i, slot := range t.fds {
		if slot == nil {
			t.fds[i] = t.fds[oldfd].Dup()
			return i
		}
	}
	return -1
}

// Scheduler owns the fixed thread table and the single ready/running
// token, per spec.md §4.4.
type Scheduler struct {
	mu      sync.Mutex
	threads [MaxThreads]*Thread
	current int
	ticks   func() uint64
}

// New creates a scheduler with only the idle thread (tid 0) present,
// always Ready/Running, per spec.md §4.4. ticks supplies the current
// PIT tick count for sleep deadlines.
func New(ticks func() uint64) *Scheduler {
	s := &Scheduler{ticks: ticks}
	idle := &Thread{TID: IdleTID, Name: "idle", state: StateRunning, resume: make(chan struct{}, 1)}
	s.threads[IdleTID] = idle
	return s
}

// Current returns the currently running thread.
func (s *Scheduler) Current() *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threads[s.current]
}

// Get returns the thread with the given tid, or nil.
func (s *Scheduler) Get(tid int) *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tid < 0 || tid >= MaxThreads {
		return nil
	}
	return s.threads[tid]
}

func (s *Scheduler) allocSlot() int {
	for i := 1; i < MaxThreads; i++ {
		if s.threads[i] == nil {
			return i
		}
	}
	return -1
}

// Create allocates a descriptor and starts entry on its own goroutine,
// blocked until the scheduler first dispatches it — the Go stand-in
// for "place the trampoline address at the top of an 8 KiB kernel
// stack," per spec.md §4.4. entry receives the Thread so it can call
// back into Yield/Sleep/etc. Returns nil if the table is full.
func (s *Scheduler) Create(name string, uid, gid uint32, entry func(*Thread)) *Thread {
	s.mu.Lock()
	slot := s.allocSlot()
	if slot < 0 {
		s.mu.Unlock()
		return nil
	}
	t := &Thread{
		TID: slot, Name: name, UID: uid, GID: gid, TTYIndex: -1,
		state: StateReady, resume: make(chan struct{}, 1),
	}
	s.threads[slot] = t
	s.mu.Unlock()

	go func() {
		<-t.resume
		entry(t)
		t.mu.Lock()
		t.state = StateTerminated
		t.mu.Unlock()
		s.Yield(t)
	}()
	return t
}

// RegisterUser installs a ring-3 thread inheriting the calling thread's
// credentials and FD table, per cpu/thread.c's thread_register_user.
// It rejects an invalid entry/stack per spec.md §4.4.
func (s *Scheduler) RegisterUser(from *Thread, userRIP, userRSP uint64, name string) *Thread {
	if userRIP == 0 || userRSP < 0x1000 {
		return nil
	}
	s.mu.Lock()
	slot := s.allocSlot()
	if slot < 0 {
		s.mu.Unlock()
		return nil
	}
	t := &Thread{
		TID: slot, Name: name, IsUser: true, UserRIP: userRIP, UserRSP: userRSP,
		state: StateReady, resume: make(chan struct{}, 1), TTYIndex: -1,
	}
	if from != nil {
		t.UID, t.GID = from.UID, from.GID
		t.TTYIndex = from.TTYIndex
		from.mu.Lock()
		for i, f := range from.fds {
			t.fds[i] = f
		}
		from.mu.Unlock()
	}
	s.threads[slot] = t
	s.mu.Unlock()
	return t
}

// wakeSleepers promotes any Sleeping thread whose deadline has passed
// to Ready. Caller must hold s.mu.
func (s *Scheduler) wakeSleepers() {
	now := s.ticks()
	for _, t := range s.threads {
		if t == nil {
			continue
		}
		t.mu.Lock()
		if t.state == StateSleeping && now >= t.deadline {
			t.state = StateReady
		}
		t.mu.Unlock()
	}
}

// Yield implements spec.md §4.4's scheduling step: wake due sleepers,
// scan from (current.tid+1) mod N for a Ready thread, promote it to
// Running, demote the outgoing thread (unless it has already
// transitioned to Sleeping/Terminated), and switch. If no other thread
// is Ready, the idle thread resumes. The caller (the outgoing thread's
// own goroutine) blocks until it is next dispatched.
func (s *Scheduler) Yield(self *Thread) {
	s.mu.Lock()
	s.wakeSleepers()

	next := -1
	for i := 1; i <= MaxThreads; i++ {
		idx := (self.TID + i) % MaxThreads
		cand := s.threads[idx]
		if cand == nil {
			continue
		}
		cand.mu.Lock()
		ready := cand.state == StateReady
		cand.mu.Unlock()
		if ready {
			next = idx
			break
		}
	}
	if next < 0 {
		next = IdleTID
	}

	self.mu.Lock()
	if self.state == StateRunning {
		self.state = StateReady
	}
	self.mu.Unlock()

	incoming := s.threads[next]
	incoming.mu.Lock()
	incoming.state = StateRunning
	incoming.mu.Unlock()
	s.current = next
	s.mu.Unlock()

	if incoming == self {
		return
	}

	incoming.resume <- struct{}{}

	if self.State() == StateTerminated {
		return
	}
	<-self.resume
}

// Sleep sets self's deadline to the current tick count plus ms and
// yields, per spec.md §4.4. Tick granularity is 1 ms.
func (s *Scheduler) Sleep(self *Thread, ms uint64) {
	self.mu.Lock()
	self.deadline = s.ticks() + ms
	self.state = StateSleeping
	self.mu.Unlock()
	s.Yield(self)
}

// Block transitions tid from any non-terminal state to Blocked.
func (s *Scheduler) Block(tid int) {
	t := s.Get(tid)
	if t == nil {
		return
	}
	t.mu.Lock()
	if t.state != StateTerminated {
		t.state = StateBlocked
	}
	t.mu.Unlock()
}

// Unblock transitions tid from Blocked to Ready.
func (s *Scheduler) Unblock(tid int) {
	t := s.Get(tid)
	if t == nil {
		return
	}
	t.mu.Lock()
	if t.state == StateBlocked {
		t.state = StateReady
	}
	t.mu.Unlock()
}

// Stop marks tid Terminated; it is never re-scheduled (spec.md §3).
// Resources (the backing goroutine's stack) are not reclaimed, per
// spec.md §4.4's "stacks leak until reboot" accepted tradeoff.
func (s *Scheduler) Stop(tid int) {
	t := s.Get(tid)
	if t == nil {
		return
	}
	t.mu.Lock()
	t.state = StateTerminated
	t.mu.Unlock()
}
