package arbiter

import "sync"

// topicLocks serializes event creation per topic. Entries are dropped once unused.
type topicLocks struct {
	mu      sync.Mutex
	entries map[int64]*topicLock
}

type topicLock struct {
	mu   sync.Mutex
	refs int
}

func newTopicLocks() *topicLocks {
	return &topicLocks{entries: map[int64]*topicLock{}}
}

// lock blocks until the topic is free and returns its release func.
func (l *topicLocks) lock(topicID int64) func() {
	l.mu.Lock()
	entry, ok := l.entries[topicID]
	if !ok {
		entry = &topicLock{}
		l.entries[topicID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, topicID)
		}
		l.mu.Unlock()
	}
}

func (l *topicLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
