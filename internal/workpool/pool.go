// Package workpool runs workgroup-indexed kernels on a fixed set of goroutines.
//
// It is the host-side stand-in for a GPU dispatch: a kernel is called once per
// workgroup index, workgroups run concurrently, and Dispatch returns only after
// every workgroup has finished (an implicit barrier between dispatches).
package workpool

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Kernel is invoked once per workgroup.
type Kernel func(group uint32)

// batch is one contiguous range of workgroups handed to a worker.
type batch struct {
	kernel Kernel
	first  uint32
	last   uint32 // exclusive
	wg     *sync.WaitGroup
}

// Pool is a fixed set of worker goroutines fed from one shared queue.
//
// Thread safety: Pool is safe for concurrent use. Concurrent Dispatch calls
// share the workers; each call still waits only for its own workgroups.
type Pool struct {
	workers int
	queue   chan batch
	done    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool

	dispatches atomic.Uint64
	groups     atomic.Uint64
}

// New creates a pool with the given number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
func New(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	p := &Pool{
		workers: workers,
		queue:   make(chan batch, workers*4),
		done:    make(chan struct{}),
	}
	p.running.Store(true)

	p.wg.Add(workers)
	for range workers {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case b := <-p.queue:
			run(b)
		}
	}
}

func run(b batch) {
	defer b.wg.Done()
	for g := b.first; g < b.last; g++ {
		b.kernel(g)
	}
}

// Dispatch calls kernel for every workgroup in [0, groups) and waits for all
// of them. Workgroups are split into contiguous batches, a few per worker, so
// small kernels do not pay one channel send per group.
//
// After Close, Dispatch runs the kernel inline on the calling goroutine.
func (p *Pool) Dispatch(groups uint32, kernel Kernel) {
	if groups == 0 || kernel == nil {
		return
	}
	p.dispatches.Add(1)
	p.groups.Add(uint64(groups))

	if !p.running.Load() || p.workers == 1 || groups == 1 {
		for g := range groups {
			kernel(g)
		}
		return
	}

	per := groups / uint32(p.workers*4)
	if per == 0 {
		per = 1
	}

	var wg sync.WaitGroup
	for first := uint32(0); first < groups; first += per {
		last := min(first+per, groups)
		wg.Add(1)
		b := batch{kernel: kernel, first: first, last: last, wg: &wg}
		select {
		case p.queue <- b:
		case <-p.done:
			run(b)
		}
	}
	wg.Wait()
}

// Close stops the workers. Close is safe to call multiple times.
func (p *Pool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()

	// Batches queued after the workers exited still need to run.
	for {
		select {
		case b := <-p.queue:
			run(b)
		default:
			return
		}
	}
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int { return p.workers }

// IsRunning reports whether the pool still has live workers.
func (p *Pool) IsRunning() bool { return p.running.Load() }

// Stats returns the number of Dispatch calls and workgroups executed.
func (p *Pool) Stats() (dispatches, groups uint64) {
	return p.dispatches.Load(), p.groups.Load()
}
