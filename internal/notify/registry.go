package notify

import "sync"

// Handle is an open channel subscription. Closing it releases the
// underlying subscription exactly once; Close is idempotent.
type Handle struct {
	key      string
	registry *Registry
	closeFn  func() error
	once     sync.Once
}

// Key returns the channel key this handle is registered under.
func (h *Handle) Key() string {
	return h.key
}

// Close releases the subscription and removes it from the registry.
func (h *Handle) Close() error {
	h.registry.mu.Lock()
	if h.registry.handles[h.key] == h {
		delete(h.registry.handles, h.key)
	}
	h.registry.mu.Unlock()
	return h.release()
}

func (h *Handle) release() error {
	var err error
	h.once.Do(func() {
		if h.closeFn != nil {
			err = h.closeFn()
		}
	})
	return err
}

// Registry tracks live subscription handles and enforces the invariant
// that at most one handle per channel key is outstanding. Opening a key
// that is already held releases the previous handle first.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

// Open acquires the handle for key. Any existing handle for the same key is
// released before open is invoked, so two live subscriptions to the same
// channel can never coexist. open returns the release function for the new
// subscription.
func (r *Registry) Open(key string, open func() (func() error, error)) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing := r.handles[key]; existing != nil {
		delete(r.handles, key)
		_ = existing.release()
	}

	closeFn, err := open()
	if err != nil {
		return nil, err
	}
	h := &Handle{key: key, registry: r, closeFn: closeFn}
	r.handles[key] = h
	return h, nil
}

// Active reports whether a live handle exists for key.
func (r *Registry) Active(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handles[key] != nil
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// CloseAll releases every live handle.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.handles = make(map[string]*Handle)
	r.mu.Unlock()

	for _, h := range handles {
		_ = h.release()
	}
}
