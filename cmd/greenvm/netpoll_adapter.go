package main

import (
	"github.com/greenvm/greenvm/netpoll"
	"github.com/greenvm/greenvm/vm"
)

// pollerAdapter satisfies vm.Poller over a *netpoll.Poller. netpoll defines
// its own Interest type rather than importing vm (so it stays on the same
// side of the import boundary as scheduler/gc/loader); only this top-level
// wiring package needs to see both.
type pollerAdapter struct {
	p *netpoll.Poller
}

func (a pollerAdapter) Register(fd int, interest vm.PollInterest) (<-chan struct{}, error) {
	ni := netpoll.Readable
	if interest == vm.PollWritable {
		ni = netpoll.Writable
	}
	return a.p.Register(fd, ni)
}

func (a pollerAdapter) Deregister(fd int) {
	a.p.Deregister(fd)
}
