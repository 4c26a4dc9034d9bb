package fdc3

import "encoding/json"

// loopbackPort is a Port implementation backed by nothing but Go
// channels — the "single loopback port" SPEC_FULL.md/spec.md §9 calls
// for to model the root agent acting as its own proxy, instead of
// special-casing the root's AppIdentifier throughout the fan-out code.
// Two loopbackPorts are created in a pair by newLoopbackPortPair: writes
// to one arrive as reads on the other.
type loopbackPort struct {
	out chan []byte

	msgHandler   func(payload []byte)
	disconnectFn func(error)

	peer *loopbackPort
	done chan struct{}
}

// newLoopbackPortPair returns two ends of an in-process Port, used to
// connect RootAgent's self-proxy to its own dispatch loop without going
// through any serialization round trip beyond JSON marshal (kept, not
// skipped, so the self-proxy observes exactly the same wire shapes a
// cross-process proxy would).
func newLoopbackPortPair() (root, self *loopbackPort) {
	root = &loopbackPort{out: make(chan []byte, 64), done: make(chan struct{})}
	self = &loopbackPort{out: make(chan []byte, 64), done: make(chan struct{})}
	root.peer = self
	self.peer = root
	go root.deliverLoop()
	go self.deliverLoop()
	return root, self
}

func (p *loopbackPort) deliverLoop() {
	for {
		select {
		case <-p.done:
			return
		case payload := <-p.out:
			if p.msgHandler != nil {
				p.msgHandler(payload)
			}
		}
	}
}

func (p *loopbackPort) Send(env any) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	select {
	case <-p.peer.done:
		return ErrPortClosed
	default:
	}
	p.peer.out <- payload
	return nil
}

func (p *loopbackPort) SetMessageHandler(fn func(payload []byte)) {
	p.msgHandler = fn
}

func (p *loopbackPort) OnDisconnect(fn func(error)) {
	p.disconnectFn = fn
}

func (p *loopbackPort) Close() error {
	select {
	case <-p.done:
		return nil
	default:
		close(p.done)
	}
	if p.disconnectFn != nil {
		p.disconnectFn(nil)
	}
	return nil
}
