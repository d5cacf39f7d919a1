package grpcserver

import (
	"sync"
	"sync/atomic"
)

// connPool maps a 16-bit uid to its owning connection. Go's grpc-go
// already gives each stream its own goroutine, so nothing here needs a
// completion-queue tag dispatch; the pool exists so a connection can be
// looked up and dropped (e.g. on shutdown) by uid.
type connPool struct {
	next uint32 // atomic

	mu    sync.Mutex
	conns map[uint16]*grpcConn
}

func newConnPool() *connPool {
	return &connPool{conns: make(map[uint16]*grpcConn)}
}

// allocUID reserves the next 16-bit uid, wrapping around as needed.
func (p *connPool) allocUID() uint16 {
	return uint16(atomic.AddUint32(&p.next, 1))
}

func (p *connPool) register(uid uint16, c *grpcConn) {
	p.mu.Lock()
	p.conns[uid] = c
	p.mu.Unlock()
}

func (p *connPool) unregister(uid uint16) {
	p.mu.Lock()
	delete(p.conns, uid)
	p.mu.Unlock()
}
