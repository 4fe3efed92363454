package scheduler

// workerList is a small checked doubly-linked list of *Worker, used for the
// idle/active/exited sets. Unlike raw pointer surgery, remove() refuses to
// unlink a worker that isn't actually a member of this list, which is the
// "checked unlink" the design notes ask for in place of intrusive pointer
// surgery.
type workerList struct {
	head, tail *Worker
	len        int
}

func (l *workerList) pushFront(w *Worker) {
	w.prev = nil
	w.next = l.head
	if l.head != nil {
		l.head.prev = w
	}
	l.head = w
	if l.tail == nil {
		l.tail = w
	}
	w.onList = l
	l.len++
}

func (l *workerList) pushBack(w *Worker) {
	w.next = nil
	w.prev = l.tail
	if l.tail != nil {
		l.tail.next = w
	}
	l.tail = w
	if l.head == nil {
		l.head = w
	}
	w.onList = l
	l.len++
}

// remove unlinks w. It is a no-op if w is not a member of l, guarding
// against double-removal bugs.
func (l *workerList) remove(w *Worker) {
	if w.onList != l {
		return
	}
	if w.prev != nil {
		w.prev.next = w.next
	} else {
		l.head = w.next
	}
	if w.next != nil {
		w.next.prev = w.prev
	} else {
		l.tail = w.prev
	}
	w.prev, w.next, w.onList = nil, nil, nil
	l.len--
}

func (l *workerList) front() *Worker { return l.head }
func (l *workerList) back() *Worker  { return l.tail }

// popFront removes and returns the head, or nil if empty.
func (l *workerList) popFront() *Worker {
	w := l.head
	if w == nil {
		return nil
	}
	l.remove(w)
	return w
}
