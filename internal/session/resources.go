package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/marcomolinaleija/GIC/internal/capture"
	"github.com/marcomolinaleija/GIC/internal/observe"
	"github.com/marcomolinaleija/GIC/internal/playback"
	"github.com/marcomolinaleija/GIC/internal/tools"
	"github.com/marcomolinaleija/GIC/pkg/audio"
	"github.com/marcomolinaleija/GIC/pkg/provider/live"
)

// resources is everything one conversation holds. Fields set through attach
// are guarded by mu until release; after release they no longer change.
type resources struct {
	epoch   uint64
	id      string
	log     *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	pending *Pending

	stallTimeout time.Duration

	mu         sync.Mutex
	released   bool
	in         audio.InputStream
	out        audio.OutputStream
	playback   *playback.Scheduler
	capture    *capture.Pipeline
	dispatcher *tools.Dispatcher
	sess       live.Session
	stall      *time.Timer
}

func newResources(epoch uint64, id string) *resources {
	ctx, cancel := context.WithCancel(observe.WithSession(context.Background(), id))
	return &resources{
		epoch:   epoch,
		id:      id,
		log:     slog.Default(),
		ctx:     ctx,
		cancel:  cancel,
		pending: NewPending(),
	}
}

// attach runs set under the lock unless the conversation was already
// released, in which case it reports false and the caller owns whatever it
// meant to attach.
func (r *resources) attach(set func(*resources)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return false
	}
	set(r)
	return true
}

// release marks the conversation released. It reports true only once.
func (r *resources) release() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return false
	}
	r.released = true
	return true
}

func (r *resources) scheduler() *playback.Scheduler {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playback
}

func (r *resources) capturePipeline() *capture.Pipeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capture
}

func (r *resources) toolDispatcher() *tools.Dispatcher {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dispatcher
}

func (r *resources) resetStall(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return
	}
	if r.stall != nil {
		r.stall.Stop()
	}
	r.stall = time.AfterFunc(r.stallTimeout, fn)
}

func (r *resources) stopStall() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stall != nil {
		r.stall.Stop()
		r.stall = nil
	}
}
