package account

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// pruneAt is the entry count at which fail sweeps expired counters. The
// cache runs no janitor goroutine, so expired entries linger until then.
const pruneAt = 1024

// lockout counts consecutive login failures per email in a fixed window
// starting at the first failure. A nil lockout never locks.
type lockout struct {
	max      int
	window   time.Duration
	failures *cache.Cache
}

func newLockout(maxFailures int, window time.Duration) *lockout {
	if maxFailures <= 0 || window <= 0 {
		return nil
	}
	return &lockout{
		max:      maxFailures,
		window:   window,
		failures: cache.New(window, 0),
	}
}

func (l *lockout) locked(email string) bool {
	if l == nil {
		return false
	}
	n, ok := l.failures.Get(email)
	return ok && n.(int) >= l.max
}

func (l *lockout) fail(email string) {
	if l == nil {
		return
	}
	if l.failures.ItemCount() >= pruneAt {
		l.failures.DeleteExpired()
	}
	if err := l.failures.Add(email, 1, l.window); err != nil {
		// already counting; the window keeps its original expiry
		_, _ = l.failures.IncrementInt(email, 1)
	}
}

func (l *lockout) reset(email string) {
	if l == nil {
		return
	}
	l.failures.Delete(email)
}
