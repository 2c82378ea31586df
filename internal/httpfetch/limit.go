package httpfetch

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// reclaimInterval is how often a blocked dial retries reclaiming idle
// connections.
const reclaimInterval = 100 * time.Millisecond

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// connLimiter caps the connections open across all hosts. A slot is held
// from dial until the connection is closed.
type connLimiter struct {
	sem  *semaphore.Weighted
	dial dialFunc

	// reclaim is called while every slot is taken. The transport's idle
	// connections would otherwise hold slots until they time out.
	reclaim func()
}

func newConnLimiter(limit int, dial dialFunc) *connLimiter {
	return &connLimiter{sem: semaphore.NewWeighted(int64(limit)), dial: dial}
}

func (l *connLimiter) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	conn, err := l.dial(ctx, network, addr)
	if err != nil {
		l.sem.Release(1)
		return nil, err
	}
	return &limitedConn{Conn: conn, release: func() { l.sem.Release(1) }}, nil
}

func (l *connLimiter) acquire(ctx context.Context) error {
	for !l.sem.TryAcquire(1) {
		if l.reclaim != nil {
			l.reclaim()
		}
		wait, cancel := context.WithTimeout(ctx, reclaimInterval)
		err := l.sem.Acquire(wait, 1)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

type limitedConn struct {
	net.Conn
	once    sync.Once
	release func()
}

func (c *limitedConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(c.release)
	return err
}
