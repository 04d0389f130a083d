package cache

// node is an entry of the cache and an element of its recency list.
type node[K comparable, V any] struct {
	key   K
	value V
	prev  *node[K, V]
	next  *node[K, V]
}

// recency is a circular doubly linked list around a sentinel root:
// root.next is the most recently used entry and root.prev the least.
// It is not safe for concurrent use.
type recency[K comparable, V any] struct {
	root node[K, V]
	len  int
}

func (r *recency[K, V]) init() {
	r.root.next = &r.root
	r.root.prev = &r.root
	r.len = 0
}

// pushFront inserts a new entry as the most recently used.
func (r *recency[K, V]) pushFront(key K, value V) *node[K, V] {
	n := &node[K, V]{key: key, value: value}
	r.link(n)
	return n
}

// touch marks n as the most recently used.
func (r *recency[K, V]) touch(n *node[K, V]) {
	if r.root.next == n {
		return
	}
	r.unlink(n)
	r.link(n)
}

// remove drops n from the list.
func (r *recency[K, V]) remove(n *node[K, V]) {
	if n.next == nil {
		return
	}
	r.unlink(n)
}

// oldest returns the least recently used entry, or nil.
func (r *recency[K, V]) oldest() *node[K, V] {
	if r.len == 0 {
		return nil
	}
	return r.root.prev
}

func (r *recency[K, V]) link(n *node[K, V]) {
	n.prev = &r.root
	n.next = r.root.next
	r.root.next.prev = n
	r.root.next = n
	r.len++
}

func (r *recency[K, V]) unlink(n *node[K, V]) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev, n.next = nil, nil
	r.len--
}
