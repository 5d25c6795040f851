package ecs

// World owns the entity pool, the component registry, and a deferred
// release queue. Despawned entities leave every store at once but their ids
// return to the pool only at the cleanup phase, so nothing issued during a
// tick can alias an id that was live earlier in the same tick.
type World struct {
	pool         *EntityPool
	registry     *Registry
	releaseQueue []EntityID
}

func NewWorld() *World {
	return &World{
		pool:         NewEntityPool(),
		registry:     NewRegistry(),
		releaseQueue: make([]EntityID, 0, 64),
	}
}

func (w *World) Pool() *EntityPool   { return w.pool }
func (w *World) Registry() *Registry { return w.registry }

func (w *World) CreateEntity() EntityID {
	return w.pool.Create()
}

func (w *World) Alive(id EntityID) bool {
	return w.pool.Alive(id)
}

// Remove clears id's components now and queues the id for release.
func (w *World) Remove(id EntityID) {
	w.registry.RemoveAll(id)
	w.releaseQueue = append(w.releaseQueue, id)
}

// Pending is the number of ids awaiting release.
func (w *World) Pending() int { return len(w.releaseQueue) }

// FlushReleaseQueue returns queued ids to the pool.
func (w *World) FlushReleaseQueue() {
	for _, id := range w.releaseQueue {
		w.pool.Destroy(id)
	}
	w.releaseQueue = w.releaseQueue[:0]
}
