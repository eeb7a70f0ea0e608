package engine

// nilIdx marks the absence of a link in the intrusive lists below.
const nilIdx = -1

// link is one node's previous/next index into the worker's conn pool. Three
// of these live per conn (ready, wait, pendingLimit) so a conn can be a
// member of at most one of each list at a time, per design note #9: an
// arena (the pool) plus index-based intrusive lists instead of pointer
// nodes, since ownership is single-writer and no locking is required.
type link struct {
	prev, next int
}

// list is a doubly linked list of conn-pool indices, referencing per-list
// link arrays owned by the caller.
type list struct {
	head, tail int
	length     int
}

func newList() list { return list{head: nilIdx, tail: nilIdx} }

// pushTail appends i to the list. links is the backing link array for this
// particular list (ready/wait/pendingLimit).
func (l *list) pushTail(links []link, i int) {
	links[i] = link{prev: l.tail, next: nilIdx}
	if l.tail != nilIdx {
		links[l.tail].next = i
	} else {
		l.head = i
	}
	l.tail = i
	l.length++
}

// pushHead prepends i to the list.
func (l *list) pushHead(links []link, i int) {
	links[i] = link{prev: nilIdx, next: l.head}
	if l.head != nilIdx {
		links[l.head].prev = i
	} else {
		l.tail = i
	}
	l.head = i
	l.length++
}

// remove detaches i from the list. i must currently be a member.
func (l *list) remove(links []link, i int) {
	n := links[i]
	if n.prev != nilIdx {
		links[n.prev].next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nilIdx {
		links[n.next].prev = n.prev
	} else {
		l.tail = n.prev
	}
	links[i] = link{prev: nilIdx, next: nilIdx}
	l.length--
}

// popHead removes and returns the head index, or nilIdx if empty.
func (l *list) popHead(links []link) int {
	if l.head == nilIdx {
		return nilIdx
	}
	i := l.head
	l.remove(links, i)
	return i
}

func (l *list) empty() bool { return l.head == nilIdx }
