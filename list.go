package kernel

// Links is an intrusive doubly-linked list node, embedded directly inside a
// kernel object (e.g. TCB) rather than allocated separately. This gives
// O(1) enqueue/dequeue with no per-operation heap allocation.
//
// A single object may need to belong to several distinct lists
// concurrently (e.g. a TCB sits in the global thread list and its
// process's thread list at the same time); give it one Links[T] field per
// list role it can simultaneously occupy.
type Links[T any] struct {
	next, prev *T
}

// List is a FIFO intrusive list over *T, using the Links[T] selected by
// the links accessor.
type List[T any] struct {
	head, tail *T
	length     int
	links      func(*T) *Links[T]
}

// NewList constructs a List whose nodes use the Links[T] field returned by
// linksOf. linksOf must always return the same field for a given role
// (e.g. always &tcb.globalLink, never sometimes &tcb.queueLink).
func NewList[T any](linksOf func(*T) *Links[T]) *List[T] {
	return &List[T]{links: linksOf}
}

// Len returns the number of elements currently linked.
func (l *List[T]) Len() int { return l.length }

// Empty reports whether the list has no elements.
func (l *List[T]) Empty() bool { return l.length == 0 }

// Front returns the head element, or nil if empty.
func (l *List[T]) Front() *T { return l.head }

// PushBack appends v to the tail of the list. O(1).
func (l *List[T]) PushBack(v *T) {
	ln := l.links(v)
	ln.prev = l.tail
	ln.next = nil
	if l.tail != nil {
		l.links(l.tail).next = v
	} else {
		l.head = v
	}
	l.tail = v
	l.length++
}

// PushFront prepends v to the head of the list. O(1). Used to put a popped
// candidate back where it came from when a preemption check decides not to
// switch: the candidate must not lose its place relative to threads behind
// it in the same queue.
func (l *List[T]) PushFront(v *T) {
	ln := l.links(v)
	ln.next = l.head
	ln.prev = nil
	if l.head != nil {
		l.links(l.head).prev = v
	} else {
		l.tail = v
	}
	l.head = v
	l.length++
}

// Remove unlinks v from wherever it sits in the list. O(1): the caller is
// expected to already hold a pointer to v (e.g. from a registry), so no
// traversal is needed to locate it.
func (l *List[T]) Remove(v *T) {
	ln := l.links(v)
	if ln.prev != nil {
		l.links(ln.prev).next = ln.next
	} else if l.head == v {
		l.head = ln.next
	}
	if ln.next != nil {
		l.links(ln.next).prev = ln.prev
	} else if l.tail == v {
		l.tail = ln.prev
	}
	ln.next, ln.prev = nil, nil
	l.length--
}

// PopFront removes and returns the head element, or nil if empty. O(1).
func (l *List[T]) PopFront() *T {
	v := l.head
	if v == nil {
		return nil
	}
	l.Remove(v)
	return v
}

// Walk calls fn for each element from head to tail, stopping early if fn
// returns false. fn must not mutate this list's membership (no Remove,
// PushBack, or PopFront on this same list) while walking; collect what you
// need and mutate afterwards.
func (l *List[T]) Walk(fn func(*T) bool) {
	for v := l.head; v != nil; {
		next := l.links(v).next
		if !fn(v) {
			return
		}
		v = next
	}
}

// Contains reports whether v is this list's head or has neighbours through
// this list's Links field. It is a best-effort membership check (used by
// the wait-queue cleanup in sync.go): it cannot tell this list apart from
// another list that uses the same Links field, so an element linked with
// neighbours into such another list also reports true. Callers that need
// exact membership should track it via the object's own state field (e.g.
// TCB.inSchedulerQueue).
func (l *List[T]) Contains(v *T) bool {
	return l.head == v || l.links(v).prev != nil || l.links(v).next != nil
}
