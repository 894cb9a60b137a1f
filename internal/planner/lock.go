package planner

import "sync"

// postLocks hands out one mutex per post ID so that the publish and delete
// bodies of a post never interleave their read-modify-write of the record.
type postLocks struct {
	mu    sync.Mutex
	locks map[int64]*postLock
}

type postLock struct {
	sync.Mutex
	refs int
}

// lock blocks until the post's mutex is held and returns its release func.
func (l *postLocks) lock(id int64) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[int64]*postLock)
	}
	pl, ok := l.locks[id]
	if !ok {
		pl = &postLock{}
		l.locks[id] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.Lock()
	return func() {
		pl.Unlock()
		l.mu.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
