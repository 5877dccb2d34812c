package session

import (
	"context"
	"errors"
	"sync"

	"github.com/marcomolinaleija/GIC/pkg/provider/live"
)

// ErrNoSession is returned when a pending transport resolved without a
// session.
var ErrNoSession = errors.New("session: no transport session")

// Pending is a future for the transport handle. It resolves exactly once,
// when Connect returns. Frames and tool responses produced before that wait
// on it instead of being lost.
type Pending struct {
	once sync.Once
	done chan struct{}
	sess live.Session
	err  error
}

// NewPending returns an unresolved Pending.
func NewPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

// Resolve settles the future. Only the first call has an effect.
func (p *Pending) Resolve(sess live.Session, err error) {
	p.once.Do(func() {
		p.sess, p.err = sess, err
		close(p.done)
	})
}

// Done is closed once the future is resolved.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Session blocks until the future resolves or ctx is done.
func (p *Pending) Session(ctx context.Context) (live.Session, error) {
	select {
	case <-p.done:
		if p.err == nil && p.sess == nil {
			return nil, ErrNoSession
		}
		return p.sess, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendToolResponse waits for the session and forwards resp to it.
func (p *Pending) SendToolResponse(resp live.ToolResponse) error {
	<-p.done
	if p.err != nil {
		return p.err
	}
	if p.sess == nil {
		return ErrNoSession
	}
	return p.sess.SendToolResponse(resp)
}
