package queue

import (
	"container/heap"
	"sync"

	"github.com/sirupsen/logrus"

	"policycrawl/pkg/models"
)

// frontierItem wraps a WorkItem for the heap. seq preserves FIFO order
// between items of equal priority so crawls are deterministic.
type frontierItem struct {
	workItem *models.WorkItem
	priority int
	seq      uint64
	index    int // required by heap.Interface
}

type itemHeap []*frontierItem

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		// Lower value pops first: likely-document URLs carry negative
		// priorities so they are probed before more navigation pages
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	n := len(*h)
	item := x.(*frontierItem)
	item.index = n
	*h = append(*h, item)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil  // avoid memory leak
	item.index = -1 // for safety
	*h = old[0 : n-1]
	return item
}

// Frontier is the blocking, priority-ordered work queue feeding crawl
// workers. Items pop lowest-priority-value first; within a priority level,
// insertion order holds.
type Frontier struct {
	heap    itemHeap
	mu      sync.Mutex
	cond    *sync.Cond
	closed  bool
	nextSeq uint64
	log     *logrus.Logger
}

// NewFrontier creates an empty Frontier
func NewFrontier(logger *logrus.Logger) *Frontier {
	f := &Frontier{log: logger}
	f.cond = sync.NewCond(&f.mu)
	heap.Init(&f.heap)
	return f
}

// Add pushes a work item onto the frontier. Adds after Close are dropped.
func (f *Frontier) Add(item *models.WorkItem) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		f.log.Warnf("Attempted to add item to closed frontier: %s", item.URL)
		return
	}

	heap.Push(&f.heap, &frontierItem{
		workItem: item,
		priority: item.Priority,
		seq:      f.nextSeq,
	})
	f.nextSeq++
	f.cond.Signal()
}

// Pop retrieves and removes the highest priority work item. It blocks while
// the frontier is empty until an item arrives or Close is called. Returns
// (nil, false) once the frontier is closed and drained.
func (f *Frontier) Pop() (*models.WorkItem, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for len(f.heap) == 0 {
		if f.closed {
			return nil, false
		}
		f.cond.Wait()
	}

	item := heap.Pop(&f.heap).(*frontierItem)
	return item.workItem, true
}

// Close signals that no more items will be added. Blocked Pop calls return
// once remaining items are drained.
func (f *Frontier) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		f.cond.Broadcast()
	}
}

// Len returns the current number of queued items
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.heap)
}
