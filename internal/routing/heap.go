package routing

import (
	"container/heap"
	"fmt"
)

// nodeQueue is the heap.Interface backing BinaryHeap. Swap keeps each
// node's queue position in step with the array.
type nodeQueue []*Node

func (q nodeQueue) Len() int { return len(q) }

func (q nodeQueue) Less(i, j int) bool { return q[i].Dist < q[j].Dist }

func (q nodeQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].queueIndex = i
	q[j].queueIndex = j
}

func (q *nodeQueue) Push(x interface{}) {
	n := len(*q)
	node := x.(*Node)
	node.queueIndex = n
	*q = append(*q, node)
}

func (q *nodeQueue) Pop() interface{} {
	old := *q
	n := len(old)
	node := old[n-1]
	old[n-1] = nil
	node.queueIndex = -1
	*q = old[0 : n-1]
	return node
}

// BinaryHeap is a fixed-capacity indexed min-heap of nodes keyed by
// their tentative distance.
type BinaryHeap struct {
	q        nodeQueue
	capacity int
}

// NewBinaryHeap allocates a heap that holds at most capacity nodes.
func NewBinaryHeap(capacity int) *BinaryHeap {
	return &BinaryHeap{
		q:        make(nodeQueue, 0, capacity),
		capacity: capacity,
	}
}

// Len returns the number of queued nodes.
func (h *BinaryHeap) Len() int { return h.q.Len() }

// Push queues n with priority n.Dist. Exceeding the capacity is a
// programming error and panics.
func (h *BinaryHeap) Push(n *Node) {
	if h.q.Len() >= h.capacity {
		panic(fmt.Sprintf("routing: heap overflow pushing node %d (capacity %d)", n.ID, h.capacity))
	}
	heap.Push(&h.q, n)
}

// PopMin removes and returns the node with the smallest distance.
func (h *BinaryHeap) PopMin() *Node {
	return heap.Pop(&h.q).(*Node)
}

// DecreaseKey lowers n's priority to dist and restores heap order.
func (h *BinaryHeap) DecreaseKey(n *Node, dist float64) {
	if n.queueIndex < 0 || n.queueIndex >= h.q.Len() || h.q[n.queueIndex] != n {
		panic(fmt.Sprintf("routing: decrease-key on node %d which is not queued", n.ID))
	}
	if dist > n.Dist {
		panic(fmt.Sprintf("routing: decrease-key on node %d would raise %v to %v", n.ID, n.Dist, dist))
	}
	n.Dist = dist
	heap.Fix(&h.q, n.queueIndex)
}

// Clear empties the heap without releasing its storage.
func (h *BinaryHeap) Clear() {
	for _, n := range h.q {
		n.queueIndex = -1
	}
	h.q = h.q[:0]
}
