package grpcserver

import "sync/atomic"

// connState is one connection's position in the per-connection state
// machine: StateDefault -> Connected -> InProgress -> {ServerDone |
// ConnectionDropped} -> Finished.
type connState int32

const (
	stateDefault connState = iota
	stateConnected
	stateInProgress
	stateServerDone
	stateConnectionDropped
	stateFinished
)

func (s connState) String() string {
	switch s {
	case stateDefault:
		return "Default"
	case stateConnected:
		return "Connected"
	case stateInProgress:
		return "InProgress"
	case stateServerDone:
		return "ServerDone"
	case stateConnectionDropped:
		return "ConnectionDropped"
	case stateFinished:
		return "Finished"
	default:
		return "Unknown"
	}
}

type stateBox struct{ v int32 }

func (b *stateBox) load() connState        { return connState(atomic.LoadInt32(&b.v)) }
func (b *stateBox) store(s connState)      { atomic.StoreInt32(&b.v, int32(s)) }
func (b *stateBox) compareAndSwap(from, to connState) bool {
	return atomic.CompareAndSwapInt32(&b.v, int32(from), int32(to))
}
