// Package waitset implements the per-monitor queue of parked threads.
//
// The queue owns its nodes and indexes them by member, so a value can be
// enqueued at most once. This makes a cyclic wait set structurally
// impossible, where an intrusive next-pointer list could only assert it.
//
// Order is FIFO: Append adds at the tail, Pop removes from the head.
//
// Thread Safety: NOT safe for concurrent use. The owning monitor
// serializes access.
package waitset

// Queue is an ordered set of members.
//
// The zero value is an empty queue ready to use.
type Queue[T comparable] struct {
	head, tail *node[T]
	index      map[T]*node[T]
}

type node[T comparable] struct {
	val        T
	prev, next *node[T]
}

// Append adds v at the tail.
//
// Appending a value that is already a member is a programming error and
// panics: a thread can only wait on one monitor at a time.
func (q *Queue[T]) Append(v T) {
	if q.index == nil {
		q.index = make(map[T]*node[T])
	}
	if _, dup := q.index[v]; dup {
		panic("waitset: duplicate member")
	}

	n := &node[T]{val: v, prev: q.tail}
	if q.tail == nil {
		q.head = n
	} else {
		q.tail.next = n
	}
	q.tail = n
	q.index[v] = n
}

// Remove unlinks v. It reports whether v was a member.
func (q *Queue[T]) Remove(v T) bool {
	n, ok := q.index[v]
	if !ok {
		return false
	}
	q.unlink(n)
	return true
}

// Pop removes and returns the head.
func (q *Queue[T]) Pop() (T, bool) {
	if q.head == nil {
		var zero T
		return zero, false
	}
	n := q.head
	q.unlink(n)
	return n.val, true
}

// Contains reports whether v is a member.
func (q *Queue[T]) Contains(v T) bool {
	_, ok := q.index[v]
	return ok
}

// Len returns the number of members.
func (q *Queue[T]) Len() int {
	return len(q.index)
}

// Snapshot returns the members in queue order.
func (q *Queue[T]) Snapshot() []T {
	out := make([]T, 0, len(q.index))
	for n := q.head; n != nil; n = n.next {
		out = append(out, n.val)
	}
	return out
}

func (q *Queue[T]) unlink(n *node[T]) {
	if n.prev == nil {
		q.head = n.next
	} else {
		n.prev.next = n.next
	}
	if n.next == nil {
		q.tail = n.prev
	} else {
		n.next.prev = n.prev
	}
	n.prev, n.next = nil, nil
	delete(q.index, n.val)
}
