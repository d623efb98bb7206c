package engine

import (
	"sync"

	"github.com/seantiz/webtasks/internal/model"
)

// subscriberBufferSize is the channel buffer for each progress subscriber.
// Entries are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// ProgressBroker fans out progress entries of running tasks to subscribers.
// It is safe for concurrent use.
//
// A topic exists from submission until the task is evicted from the registry.
// Closed topics are kept until then so that late subscribers receive a closed
// channel instead of blocking forever.
type ProgressBroker struct {
	mu     sync.Mutex
	topics map[string]*progressTopic
}

type progressTopic struct {
	subs   map[int]chan model.Progress
	nextID int
	closed bool
}

// NewProgressBroker creates a new progress broker.
func NewProgressBroker() *ProgressBroker {
	return &ProgressBroker{
		topics: make(map[string]*progressTopic),
	}
}

// Open creates the topic for a task.
func (b *ProgressBroker) Open(taskID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.topics[taskID]; !ok {
		b.topics[taskID] = &progressTopic{subs: make(map[int]chan model.Progress)}
	}
}

// Subscribe returns a channel that receives progress entries for the given
// task and an unsubscribe function. ok is false when the task has no topic,
// either because it was never submitted or because it was evicted. If the
// task already reached a terminal state the returned channel is closed.
func (b *ProgressBroker) Subscribe(taskID string) (ch <-chan model.Progress, unsubscribe func(), ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[taskID]
	if !ok {
		return nil, func() {}, false
	}

	c := make(chan model.Progress, subscriberBufferSize)
	if t.closed {
		close(c)
		return c, func() {}, true
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = c

	return c, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}, true
}

// Publish sends a progress entry to all subscribers of the given task.
// Entries are dropped for subscribers whose buffers are full.
func (b *ProgressBroker) Publish(taskID string, p model.Progress) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[taskID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- p:
		default:
		}
	}
}

// Close signals that no more progress will be published for the task. All
// subscriber channels are closed and future Subscribe calls get a closed channel.
func (b *ProgressBroker) Close(taskID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[taskID]
	if !ok || t.closed {
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}

// Forget drops the topic of an evicted task, closing any remaining subscribers.
func (b *ProgressBroker) Forget(taskID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[taskID]
	if !ok {
		return
	}
	if !t.closed {
		for _, ch := range t.subs {
			close(ch)
		}
	}
	delete(b.topics, taskID)
}

// Len returns the number of topics currently held.
func (b *ProgressBroker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics)
}
