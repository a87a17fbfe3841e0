// Package netpoll implements the Network Poller collaborator (spec.md
// §3.12). A real epoll/kqueue backend is out of scope per spec.md §1; this
// package implements only the core's consumed contract —
// Register(fd, interest) (<-chan struct{}, error) and Deregister(fd) — with
// a portable goroutine-per-fd poller built on os.File's raw-conn readiness
// callbacks, so it needs no golang.org/x/sys/unix-level syscalls.
package netpoll

import (
	"fmt"
	"os"
	"sync"
)

// Interest mirrors vm.PollInterest without importing vm, keeping netpoll on
// the same side of the import boundary as scheduler/gc/loader.
type Interest byte

const (
	Readable Interest = iota
	Writable
)

type registration struct {
	file  *os.File
	ready chan struct{}
	stop  chan struct{}
}

// rawConn is the slice of syscall.RawConn this package drives directly.
type rawConn interface {
	Read(f func(fd uintptr) bool) error
	Write(f func(fd uintptr) bool) error
}

// Poller implements vm.Poller. Each Register call spawns one goroutine that
// blocks, via the runtime's own network-poller integration for raw
// descriptors, until fd becomes ready for the requested interest, then
// closes ready exactly once.
type Poller struct {
	mu   sync.Mutex
	regs map[int]*registration
}

// New returns an empty Poller.
func New() *Poller {
	return &Poller{regs: make(map[int]*registration)}
}

// Register arranges for fd to be watched for interest. The returned channel
// is closed exactly once, when fd becomes ready; a watch torn down by
// Deregister never closes it.
func (p *Poller) Register(fd int, interest Interest) (<-chan struct{}, error) {
	file := os.NewFile(uintptr(fd), fmt.Sprintf("netpoll-fd-%d", fd))
	if file == nil {
		return nil, fmt.Errorf("netpoll: invalid fd %d", fd)
	}
	raw, err := file.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("netpoll: fd %d: %w", fd, err)
	}

	reg := &registration{
		file:  file,
		ready: make(chan struct{}),
		stop:  make(chan struct{}),
	}

	p.mu.Lock()
	if _, exists := p.regs[fd]; exists {
		p.mu.Unlock()
		return nil, fmt.Errorf("netpoll: fd %d already registered", fd)
	}
	p.regs[fd] = reg
	p.mu.Unlock()

	go reg.wait(raw, interest, p, fd)

	return reg.ready, nil
}

// wait blocks on the runtime poller's readiness callback for the raw fd.
// Read/Write return true from the callback once invoked, which for a raw
// conn happens only when the descriptor is actually ready — this is the
// same mechanism net.Conn itself relies on, just driven directly.
func (r *registration) wait(raw rawConn, interest Interest, p *Poller, fd int) {
	defer r.file.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		cb := func(uintptr) bool { return true }
		if interest == Writable {
			_ = raw.Write(cb)
		} else {
			_ = raw.Read(cb)
		}
	}()

	select {
	case <-done:
		p.fire(fd)
	case <-r.stop:
	}
}

func (p *Poller) fire(fd int) {
	p.mu.Lock()
	reg, ok := p.regs[fd]
	if ok {
		delete(p.regs, fd)
	}
	p.mu.Unlock()
	if ok {
		close(reg.ready)
	}
}

// Deregister tears down any pending watch on fd without firing its ready
// channel. This resolves spec.md §9's Open Question on delete/poller
// synchronization; see DESIGN.md.
func (p *Poller) Deregister(fd int) {
	p.mu.Lock()
	reg, ok := p.regs[fd]
	if ok {
		delete(p.regs, fd)
	}
	p.mu.Unlock()
	if ok {
		close(reg.stop)
	}
}
