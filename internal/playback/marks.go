package playback

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrQueueExists is returned when a queue is created twice for one utterance.
	ErrQueueExists = errors.New("mark queue already exists")

	// ErrUnknownUtterance is returned for queue operations on an id that has no
	// queue, either because it was never created or because it was deleted.
	ErrUnknownUtterance = errors.New("unknown utterance")

	// ErrQueueFull is returned when the transport outruns the orchestrator.
	ErrQueueFull = errors.New("mark queue is full")
)

// MarkKind distinguishes the two acknowledgment shapes.
type MarkKind int

const (
	MarkChunkFinished MarkKind = iota
	MarkUtteranceFinished
)

// MarkMessage is an acknowledgment from the output transport.
type MarkMessage struct {
	Kind       MarkKind
	ChunkIndex int // set for MarkChunkFinished
}

// ChunkFinished acknowledges that the chunk at index has been played.
func ChunkFinished(index int) MarkMessage {
	return MarkMessage{Kind: MarkChunkFinished, ChunkIndex: index}
}

// UtteranceFinished acknowledges that the whole utterance has been played.
func UtteranceFinished() MarkMessage {
	return MarkMessage{Kind: MarkUtteranceFinished}
}

func (m MarkMessage) String() string {
	if m.Kind == MarkUtteranceFinished {
		return "utterance_finished"
	}
	return fmt.Sprintf("chunk_finished(%d)", m.ChunkIndex)
}

// MarkQueues holds one FIFO of marks per in-flight utterance. One instance is
// shared by a conversation's transport read loop (Push) and its output stage
// (everything else).
type MarkQueues struct {
	capacity int

	mu     sync.RWMutex
	queues map[string]chan MarkMessage
}

// NewMarkQueues creates an empty set of queues, each buffering up to capacity marks.
func NewMarkQueues(capacity int) *MarkQueues {
	if capacity <= 0 {
		capacity = 1
	}
	return &MarkQueues{
		capacity: capacity,
		queues:   make(map[string]chan MarkMessage),
	}
}

// Create allocates the queue for utteranceID.
func (q *MarkQueues) Create(utteranceID string) (<-chan MarkMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.queues[utteranceID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrQueueExists, utteranceID)
	}
	ch := make(chan MarkMessage, q.capacity)
	q.queues[utteranceID] = ch
	return ch, nil
}

// Push appends msg to the utterance's queue without blocking.
func (q *MarkQueues) Push(utteranceID string, msg MarkMessage) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	ch, ok := q.queues[utteranceID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownUtterance, utteranceID)
	}
	select {
	case ch <- msg:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrQueueFull, utteranceID)
	}
}

// Messages returns the receive side of the utterance's queue.
func (q *MarkQueues) Messages(utteranceID string) (<-chan MarkMessage, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	ch, ok := q.queues[utteranceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUtterance, utteranceID)
	}
	return ch, nil
}

// Delete drops the utterance's queue. Marks still buffered are discarded and
// later pushes fail with ErrUnknownUtterance. The channel is not closed.
func (q *MarkQueues) Delete(utteranceID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.queues[utteranceID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownUtterance, utteranceID)
	}
	delete(q.queues, utteranceID)
	return nil
}

// Has reports whether a queue exists for utteranceID.
func (q *MarkQueues) Has(utteranceID string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	_, ok := q.queues[utteranceID]
	return ok
}

// Len returns the number of live queues.
func (q *MarkQueues) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.queues)
}
