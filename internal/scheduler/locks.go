package scheduler

import "sync"

// datasetLocks serializes submit and cancel per dataset. Entries are
// reference counted and dropped once no caller holds or waits on them.
type datasetLocks struct {
	mu    sync.Mutex
	locks map[string]*datasetLock
}

type datasetLock struct {
	mu   sync.Mutex
	refs int
}

func newDatasetLocks() *datasetLocks {
	return &datasetLocks{locks: make(map[string]*datasetLock)}
}

// Lock acquires the lock for datasetID and returns its release func.
func (d *datasetLocks) Lock(datasetID string) func() {
	d.mu.Lock()
	l, ok := d.locks[datasetID]
	if !ok {
		l = &datasetLock{}
		d.locks[datasetID] = l
	}
	l.refs++
	d.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		d.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(d.locks, datasetID)
		}
		d.mu.Unlock()
	}
}

func (d *datasetLocks) size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.locks)
}
