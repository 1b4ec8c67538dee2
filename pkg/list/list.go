// Package list provides the recency-ordered node store used by the cache.
//
// List is a doubly linked list whose nodes live in a growable slice (an
// arena). Links between nodes, and the handles callers keep, are indices
// into that slice rather than pointers, so a node can be looked up, moved
// or unlinked in O(1) without any pointer graph escaping the list. Slots
// released with Free are recycled by later Alloc calls.
//
// The front of the list is the most recently used node and the back is the
// least recently used one.
//
// This implementation is NOT thread-safe. Synchronization must be handled
// by the caller.
package list

// Handle identifies a node inside a List. Handles stay valid until the node
// is freed.
type Handle int32

// Nil is the handle that refers to no node.
const Nil Handle = -1

type node[T any] struct {
	value  T
	prev   Handle
	next   Handle
	linked bool
	inUse  bool
}

// List is an arena-backed doubly linked list. The zero value is not valid,
// use New.
type List[T any] struct {
	nodes []node[T]
	free  []Handle
	head  Handle
	tail  Handle
	size  int
}

// New creates an empty list. capacityHint pre-sizes the arena.
func New[T any](capacityHint int) *List[T] {
	if capacityHint < 0 {
		capacityHint = 0
	}
	return &List[T]{
		nodes: make([]node[T], 0, capacityHint),
		head:  Nil,
		tail:  Nil,
	}
}

// OfSize builds a list of n nodes, in order, using build for each value.
func OfSize[T any](n int, build func() T) *List[T] {
	l := New[T](n)
	for i := 0; i < n; i++ {
		l.InsertBack(l.Alloc(build()))
	}
	return l
}

// Alloc stores v in a new detached node and returns its handle. The node is
// not part of the ordering until it is inserted.
func (l *List[T]) Alloc(v T) Handle {
	if n := len(l.free); n > 0 {
		h := l.free[n-1]
		l.free = l.free[:n-1]
		l.nodes[h] = node[T]{value: v, prev: Nil, next: Nil, inUse: true}
		return h
	}
	l.nodes = append(l.nodes, node[T]{value: v, prev: Nil, next: Nil, inUse: true})
	return Handle(len(l.nodes) - 1)
}

// Free releases the node's slot for reuse. A linked node is unlinked first.
// Freeing an invalid or already freed handle is a no-op.
func (l *List[T]) Free(h Handle) {
	if !l.valid(h) {
		return
	}
	if l.nodes[h].linked {
		l.PopNode(h)
	}
	l.nodes[h] = node[T]{prev: Nil, next: Nil}
	l.free = append(l.free, h)
}

// Value returns a pointer to the payload of h, or nil for an invalid handle.
// The pointer is only valid until the next Alloc.
func (l *List[T]) Value(h Handle) *T {
	if !l.valid(h) {
		return nil
	}
	return &l.nodes[h].value
}

// Contains reports whether h is currently linked into the list.
func (l *List[T]) Contains(h Handle) bool {
	return l.valid(h) && l.nodes[h].linked
}

// Len returns the number of linked nodes.
func (l *List[T]) Len() int {
	return l.size
}

// Front returns the most recently used node, or Nil.
func (l *List[T]) Front() Handle { return l.head }

// Back returns the least recently used node, or Nil.
func (l *List[T]) Back() Handle { return l.tail }

// Next returns the node after h (towards the back), or Nil.
func (l *List[T]) Next(h Handle) Handle {
	if !l.Contains(h) {
		return Nil
	}
	return l.nodes[h].next
}

// Prev returns the node before h (towards the front), or Nil.
func (l *List[T]) Prev(h Handle) Handle {
	if !l.Contains(h) {
		return Nil
	}
	return l.nodes[h].prev
}

// InsertFront makes h the head. If h is already linked it is moved and the
// length does not change.
func (l *List[T]) InsertFront(h Handle) {
	if !l.valid(h) || l.head == h {
		return
	}
	if l.nodes[h].linked {
		l.unlink(h)
	}

	n := &l.nodes[h]
	n.prev = Nil
	n.next = l.head
	n.linked = true
	if l.head != Nil {
		l.nodes[l.head].prev = h
	}
	l.head = h
	if l.tail == Nil {
		l.tail = h
	}
	l.size++
}

// InsertBack makes h the tail. If h is already linked it is moved and the
// length does not change.
func (l *List[T]) InsertBack(h Handle) {
	if !l.valid(h) || l.tail == h {
		return
	}
	if l.nodes[h].linked {
		l.unlink(h)
	}

	n := &l.nodes[h]
	n.next = Nil
	n.prev = l.tail
	n.linked = true
	if l.tail != Nil {
		l.nodes[l.tail].next = h
	}
	l.tail = h
	if l.head == Nil {
		l.head = h
	}
	l.size++
}

// PopBack unlinks the tail and returns it. The node stays allocated so the
// caller can read its value before freeing it. On an empty list it returns
// (Nil, false).
func (l *List[T]) PopBack() (Handle, bool) {
	h := l.tail
	if h == Nil {
		return Nil, false
	}
	l.unlink(h)
	return h, true
}

// PopNode unlinks h from wherever it sits. Unlinked handles are ignored.
func (l *List[T]) PopNode(h Handle) {
	if !l.Contains(h) {
		return
	}
	l.unlink(h)
}

// unlink splices h out, fixes the endpoints and clears h's links.
func (l *List[T]) unlink(h Handle) {
	n := &l.nodes[h]
	if n.prev != Nil {
		l.nodes[n.prev].next = n.next
	} else {
		l.head = n.next
	}
	if n.next != Nil {
		l.nodes[n.next].prev = n.prev
	} else {
		l.tail = n.prev
	}
	n.prev, n.next = Nil, Nil
	n.linked = false
	l.size--
}

func (l *List[T]) valid(h Handle) bool {
	return h >= 0 && int(h) < len(l.nodes) && l.nodes[h].inUse
}
