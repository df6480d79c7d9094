package pool

import (
	"errors"
	"golang.org/x/sync/errgroup"
	"sync"
	"time"
)

type TestFunc[T any] func(T) bool
type DestructorFunc[T any] func(T) error

// Pool load-balances over a set of connections in round-robin order, moving connections that fail their liveness
// test aside until they recover. The same connection is handed to many callers at once, so it must be safe for
// concurrent use.
type Pool[T comparable] struct {
	mu           sync.Mutex
	next         int
	alive        []T
	dead         []T
	lastTestTime map[T]time.Time

	config  Config[T]
	closeCh chan struct{}
}

type Config[T any] struct {
	// LivenessValidThreshold is how long a passed liveness test is trusted for.
	LivenessValidThreshold time.Duration
	// DeadConnCheckInterval is how often dead connections are re-tested. Zero disables re-testing.
	DeadConnCheckInterval time.Duration
	TestFunc              TestFunc[T]
	DestructorFunc        DestructorFunc[T]
}

var ErrPoolEmpty = errors.New("pool is empty")

func NewPool[T comparable](conns []T, config Config[T]) *Pool[T] {
	if config.TestFunc == nil {
		config.TestFunc = func(T) bool { return true }
	}

	if config.DestructorFunc == nil {
		config.DestructorFunc = func(T) error { return nil }
	}

	p := &Pool[T]{
		lastTestTime: make(map[T]time.Time),
		config:       config,
	}

	p.Add(conns...)

	if config.DeadConnCheckInterval > 0 {
		p.closeCh = make(chan struct{})
		go p.retestDeadConns()
	}

	return p
}

func (p *Pool[T]) Add(conns ...T) {
	for _, conn := range conns {
		isAlive := p.config.TestFunc(conn)

		p.mu.Lock()
		p.lastTestTime[conn] = time.Now()
		if isAlive {
			p.alive = append(p.alive, conn)
		} else {
			p.dead = append(p.dead, conn)
		}
		p.mu.Unlock()
	}
}

// Get returns the next live connection. Connections whose last successful test is older than the liveness
// threshold are tested again first.
func (p *Pool[T]) Get() (T, error) {
	for {
		p.mu.Lock()
		if len(p.alive) == 0 {
			p.mu.Unlock()

			var zero T
			return zero, ErrPoolEmpty
		}

		if p.next >= len(p.alive) {
			p.next = 0
		}

		conn := p.alive[p.next]
		p.next++

		lastTested, ok := p.lastTestTime[conn]
		if ok && time.Since(lastTested) <= p.config.LivenessValidThreshold {
			p.mu.Unlock()
			return conn, nil
		}
		p.mu.Unlock()

		isAlive := p.config.TestFunc(conn)

		p.mu.Lock()
		if isAlive {
			p.lastTestTime[conn] = time.Now()
			p.mu.Unlock()
			return conn, nil
		}

		p.markDead(conn)
		p.mu.Unlock()
	}
}

// Size returns the number of live and dead connections.
func (p *Pool[T]) Size() (alive int, dead int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.alive), len(p.dead)
}

func (p *Pool[T]) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closeCh != nil {
		close(p.closeCh)
		p.closeCh = nil
	}

	var group errgroup.Group
	for _, conn := range append(append([]T{}, p.alive...), p.dead...) {
		conn := conn
		group.Go(func() error {
			return p.config.DestructorFunc(conn)
		})
	}

	p.alive = nil
	p.dead = nil

	return group.Wait()
}

// markDead must be called with the lock held.
func (p *Pool[T]) markDead(conn T) {
	for i, c := range p.alive {
		if c == conn {
			p.alive = append(p.alive[:i], p.alive[i+1:]...)
			p.dead = append(p.dead, conn)

			if p.next > i {
				p.next--
			}

			return
		}
	}
}

func (p *Pool[T]) retestDeadConns() {
	ticker := time.NewTicker(p.config.DeadConnCheckInterval)
	defer ticker.Stop()

	p.mu.Lock()
	closeCh := p.closeCh
	p.mu.Unlock()

	for {
		select {
		case <-ticker.C:
			p.mu.Lock()
			candidates := append([]T{}, p.dead...)
			p.mu.Unlock()

			for _, conn := range candidates {
				if !p.config.TestFunc(conn) {
					continue
				}

				p.mu.Lock()
				for i, c := range p.dead {
					if c == conn {
						p.dead = append(p.dead[:i], p.dead[i+1:]...)
						p.alive = append(p.alive, conn)
						p.lastTestTime[conn] = time.Now()
						break
					}
				}
				p.mu.Unlock()
			}
		case <-closeCh:
			return
		}
	}
}
