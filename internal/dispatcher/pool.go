package dispatcher

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/jarrod-lowe/webview-ipc-bridge/internal/bridgeerr"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/plugin"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/transport"
	"github.com/jarrod-lowe/webview-ipc-bridge/pkg/ipccontract"
)

// workItem carries all data needed to dispatch a message
type workItem struct {
	ctx  context.Context
	msg  Message
	sink transport.Sink
}

// Pool bounds concurrent dispatch with a fixed set of workers
type Pool struct {
	dispatcher *Dispatcher
	workQueue  chan workItem
	stop       chan struct{}
	stopOnce   sync.Once

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool starts poolSize workers pulling from a queue of queueDepth items
func NewPool(d *Dispatcher, poolSize, queueDepth int) *Pool {
	// Ensure pool size is at least 1
	if poolSize < 1 {
		poolSize = 1
	}
	if queueDepth < 0 {
		queueDepth = 0
	}

	p := &Pool{
		dispatcher: d,
		workQueue:  make(chan workItem, queueDepth),
		stop:       make(chan struct{}),
	}
	p.startWorkers(poolSize)
	return p
}

// startWorkers spawns a fixed pool of workers that pull from the work queue
func (p *Pool) startWorkers(poolSize int) {
	for w := 0; w < poolSize; w++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			// Workers exit when workQueue is closed and drained
			for item := range p.workQueue {
				p.dispatcher.Dispatch(item.ctx, item.msg, item.sink)
			}
		}()
	}
}

// Submit queues msg for dispatch. It blocks while the queue is full, until
// ctx is done or the pool is closed. Cancelling ctx after Submit returns
// does not cancel the dispatch.
func (p *Pool) Submit(ctx context.Context, msg Message, sink transport.Sink) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return bridgeerr.New(bridgeerr.CodeBridgeClosed, "dispatcher pool is closed")
	}

	select {
	case p.workQueue <- workItem{ctx: context.WithoutCancel(ctx), msg: msg, sink: sink}:
		return nil
	case <-ctx.Done():
		return bridgeerr.Wrap(bridgeerr.CodeTransportUnavailable, "dispatch queue full", ctx.Err())
	case <-p.stop:
		return bridgeerr.New(bridgeerr.CodeBridgeClosed, "dispatcher pool is closed")
	}
}

// Host returns a transport host function that decodes serialized envelopes
// from origin and submits them for dispatch, delivering results to sink.
func (p *Pool) Host(origin plugin.Origin, sink transport.Sink) transport.HostFunc {
	return func(ctx context.Context, message []byte) error {
		var env ipccontract.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			return bridgeerr.Wrap(bridgeerr.CodeInvalidArguments, "malformed invocation envelope", err)
		}
		return p.Submit(ctx, Message{Envelope: env, Origin: origin}, sink)
	}
}

// Close stops accepting work, lets queued items finish and waits for the workers
func (p *Pool) Close() {
	p.stopOnce.Do(func() {
		close(p.stop)

		p.mu.Lock()
		p.closed = true
		close(p.workQueue)
		p.mu.Unlock()
	})
	p.wg.Wait()
}
