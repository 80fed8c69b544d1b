package simulator

import (
	"math/rand"
	"sync"
	"time"

	"github.com/Hashiru97/pivot-mqtt-wordpress-dashboard/internal/model"
)

// CommitFunc is called after a transition has been applied. segment is
// topic.DeviceWide for device-wide transitions.
type CommitFunc func(snap model.Snapshot, commandID string, segment int)

// Actuator models electromechanical actuation time. Each accepted
// transition is applied no earlier than delay (+ up to randomLag extra)
// after acceptance. Transitions are keyed by segment: same-key transitions
// apply in acceptance order, distinct keys never block each other.
// Accepted transitions are never cancelled.
type Actuator struct {
	store     *Store
	delay     time.Duration
	randomLag time.Duration
	onCommit  CommitFunc

	mu     sync.Mutex
	queues map[int]chan Transition
}

func NewActuator(store *Store, delay, randomLag time.Duration, onCommit CommitFunc) *Actuator {
	if delay < 0 {
		delay = 0
	}
	if randomLag < 0 {
		randomLag = 0
	}
	return &Actuator{
		store:     store,
		delay:     delay,
		randomLag: randomLag,
		onCommit:  onCommit,
		queues:    make(map[int]chan Transition),
	}
}

// Schedule accepts a transition for the given key (segment index or
// topic.DeviceWide). With zero configured delay the transition applies
// synchronously; otherwise it queues behind any in-flight transition for
// the same key.
func (a *Actuator) Schedule(key int, t Transition) {
	if a.delay == 0 && a.randomLag == 0 {
		a.apply(key, t)
		return
	}
	a.queue(key) <- t
}

func (a *Actuator) queue(key int) chan Transition {
	a.mu.Lock()
	defer a.mu.Unlock()
	q, ok := a.queues[key]
	if !ok {
		q = make(chan Transition, 64)
		a.queues[key] = q
		go a.run(key, q)
	}
	return q
}

func (a *Actuator) run(key int, q chan Transition) {
	for t := range q {
		time.Sleep(a.actuationDelay())
		a.apply(key, t)
	}
}

func (a *Actuator) apply(key int, t Transition) {
	snap := a.store.Apply(t)
	if a.onCommit != nil {
		a.onCommit(snap, t.CommandID, key)
	}
}

func (a *Actuator) actuationDelay() time.Duration {
	d := a.delay
	if a.randomLag > 0 {
		d += time.Duration(rand.Int63n(int64(a.randomLag) + 1))
	}
	return d
}
