package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
)

// GoroutineCountCheck fails when more than threshold goroutines run, which
// usually means handlers are leaking.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck fails when the database does not answer a ping.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return errors.Wrap(err, "ping")
		}
		return nil
	}
}

// PoolStatter is satisfied by *pgxpool.Pool.
type PoolStatter interface {
	Stat() *pgxpool.Stat
}

// PoolSaturationCheck fails while every connection of the pool is acquired
// and callers had to wait for one since the previous run.
func PoolSaturationCheck(p PoolStatter) CheckFunc {
	var lastEmpty int64
	return func(context.Context) error {
		s := p.Stat()
		empty := s.EmptyAcquireCount()
		waited := empty > lastEmpty
		lastEmpty = empty
		if waited && s.AcquiredConns() >= s.MaxConns() {
			return errors.Errorf("connection pool saturated: %d/%d acquired", s.AcquiredConns(), s.MaxConns())
		}
		return nil
	}
}
