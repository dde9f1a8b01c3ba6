package main

import "sync"

// clientRegistry tracks live Stratum clients by subscription id, with a
// secondary index by authorized worker name.
type clientRegistry struct {
	mu       sync.Mutex
	clients  map[string]*MinerConn
	byWorker map[string]map[string]*MinerConn
}

func newClientRegistry() *clientRegistry {
	return &clientRegistry{
		clients:  make(map[string]*MinerConn),
		byWorker: make(map[string]map[string]*MinerConn),
	}
}

func (r *clientRegistry) add(mc *MinerConn) {
	if mc == nil || mc.subscriptionID == "" {
		return
	}
	r.mu.Lock()
	r.clients[mc.subscriptionID] = mc
	r.mu.Unlock()
}

// remove drops mc and any worker index entries that point at it.
func (r *clientRegistry) remove(mc *MinerConn) {
	if mc == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.clients[mc.subscriptionID]; ok && cur == mc {
		delete(r.clients, mc.subscriptionID)
	}
	for name, set := range r.byWorker {
		if cur, ok := set[mc.subscriptionID]; ok && cur == mc {
			delete(set, mc.subscriptionID)
			if len(set) == 0 {
				delete(r.byWorker, name)
			}
		}
	}
}

// bindWorker indexes mc under worker, replacing any earlier name.
func (r *clientRegistry) bindWorker(worker string, mc *MinerConn) {
	if worker == "" || mc == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, set := range r.byWorker {
		if name == worker {
			continue
		}
		if _, ok := set[mc.subscriptionID]; ok {
			delete(set, mc.subscriptionID)
			if len(set) == 0 {
				delete(r.byWorker, name)
			}
		}
	}
	set := r.byWorker[worker]
	if set == nil {
		set = make(map[string]*MinerConn)
		r.byWorker[worker] = set
	}
	set[mc.subscriptionID] = mc
}

func (r *clientRegistry) get(subscriptionID string) *MinerConn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clients[subscriptionID]
}

func (r *clientRegistry) byWorkerName(worker string) []*MinerConn {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.byWorker[worker]
	out := make([]*MinerConn, 0, len(set))
	for _, mc := range set {
		out = append(out, mc)
	}
	return out
}

func (r *clientRegistry) snapshot() []*MinerConn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*MinerConn, 0, len(r.clients))
	for _, mc := range r.clients {
		out = append(out, mc)
	}
	return out
}

func (r *clientRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

func (r *clientRegistry) workerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byWorker)
}
