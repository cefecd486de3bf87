package frame

import (
	"sync"
	"sync/atomic"
)

// Registry mints frame handles and owns the per-thread Info table. It
// breaks the cyclic references a naive design would create between
// threads, frames and the debugger API by indexing everything through
// small integer/string keys instead of holding pointers to each other.
type Registry struct {
	nextHandle atomic.Int64

	infoMu sync.RWMutex
	info   map[string]*Info
}

func NewRegistry() *Registry {
	return &Registry{info: make(map[string]*Info)}
}

// NextHandle mints a new, never-reused frame handle. Called by a
// hostbridge on a call event.
func (r *Registry) NextHandle() Handle {
	return Handle(r.nextHandle.Add(1))
}

// InfoFor returns the Info for threadID, creating it on first access.
func (r *Registry) InfoFor(threadID string) *Info {
	r.infoMu.RLock()
	info, ok := r.info[threadID]
	r.infoMu.RUnlock()
	if ok {
		return info
	}

	r.infoMu.Lock()
	defer r.infoMu.Unlock()
	if info, ok := r.info[threadID]; ok {
		return info
	}
	info = newInfo()
	r.info[threadID] = info
	return info
}

// Forget releases the Info for threadID. Called once the host runtime
// reports the thread has died.
func (r *Registry) Forget(threadID string) {
	r.infoMu.Lock()
	defer r.infoMu.Unlock()
	delete(r.info, threadID)
}

// Threads returns a snapshot of the currently known thread ids.
func (r *Registry) Threads() []string {
	r.infoMu.RLock()
	defer r.infoMu.RUnlock()
	ids := make([]string, 0, len(r.info))
	for id := range r.info {
		ids = append(ids, id)
	}
	return ids
}
