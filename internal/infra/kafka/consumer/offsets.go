package consumer

import (
	"sync"

	"github.com/segmentio/kafka-go"
)

// offsetTracker keeps commits in offset order per partition. Committing a
// message commits everything before it, so a message becomes committable
// only once every earlier fetched message of its partition was handled.
type offsetTracker struct {
	mu         sync.Mutex
	partitions map[int]*partitionOffsets
}

type partitionOffsets struct {
	inFlight  []int64 // fetched, in fetch order
	done      map[int64]kafka.Message
	committed int64 // highest committed offset, -1 before the first commit
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{partitions: make(map[int]*partitionOffsets)}
}

func (t *offsetTracker) partition(p int) *partitionOffsets {
	po, ok := t.partitions[p]
	if !ok {
		po = &partitionOffsets{done: make(map[int64]kafka.Message), committed: -1}
		t.partitions[p] = po
	}
	return po
}

// start registers a fetched message. Call it in fetch order.
func (t *offsetTracker) start(msg kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	po := t.partition(msg.Partition)
	po.inFlight = append(po.inFlight, msg.Offset)
}

// finish marks msg handled and returns the highest message of its
// partition that may now be committed. A message that never finishes holds
// back every later offset of its partition.
func (t *offsetTracker) finish(msg kafka.Message) (kafka.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	po := t.partition(msg.Partition)
	po.done[msg.Offset] = msg

	var (
		last  kafka.Message
		ready bool
	)
	for len(po.inFlight) > 0 {
		m, ok := po.done[po.inFlight[0]]
		if !ok {
			break
		}
		delete(po.done, po.inFlight[0])
		po.inFlight = po.inFlight[1:]
		last, ready = m, true
	}

	return last, ready
}

// stale reports whether msg is at or below the committed offset.
func (t *offsetTracker) stale(msg kafka.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return msg.Offset <= t.partition(msg.Partition).committed
}

func (t *offsetTracker) committed(msg kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	po := t.partition(msg.Partition)
	po.committed = max(po.committed, msg.Offset)
}
