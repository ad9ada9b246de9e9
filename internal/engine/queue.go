package engine

import "github.com/roach88/phasetrace/internal/phase"

// phaseQueue holds in-flight phases in creation order (oldest first).
//
// The queue is owned by one Scanner and is not goroutine-safe. Removal is
// by identity: a phase that finishes is taken out wherever it sits, so a
// younger phase finishing first never evicts an older one.
type phaseQueue struct {
	phases []*phase.Phase
}

// newPhaseQueue creates an empty queue.
func newPhaseQueue() *phaseQueue {
	return &phaseQueue{
		phases: make([]*phase.Phase, 0, 8),
	}
}

// Push appends a phase to the tail.
func (q *phaseQueue) Push(p *phase.Phase) {
	q.phases = append(q.phases, p)
}

// First returns the oldest phase accepting event, or nil.
func (q *phaseQueue) First(event string) *phase.Phase {
	for _, p := range q.phases {
		if p.IsNextValidEvent(event) {
			return p
		}
	}
	return nil
}

// Remove deletes p from the queue, preserving the order of the rest.
// Returns false if p is not queued.
func (q *phaseQueue) Remove(p *phase.Phase) bool {
	for i, queued := range q.phases {
		if queued != p {
			continue
		}
		copy(q.phases[i:], q.phases[i+1:])

		// Nil out the vacated tail slot so the removed phase can be collected.
		q.phases[len(q.phases)-1] = nil
		q.phases = q.phases[:len(q.phases)-1]
		return true
	}
	return false
}

// Len returns the number of in-flight phases.
func (q *phaseQueue) Len() int {
	return len(q.phases)
}

// Snapshot returns the queued phases oldest-first. The slice is a copy.
func (q *phaseQueue) Snapshot() []*phase.Phase {
	out := make([]*phase.Phase, len(q.phases))
	copy(out, q.phases)
	return out
}
