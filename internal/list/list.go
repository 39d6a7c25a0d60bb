// Package list implements a generic key/value association list, the
// Go-generics-based replacement the Design Notes in spec.md §9 call
// for ("model it... rather than mixing a nullable owner with magic
// flag bits" applies equally here: no void* casts). Ported from
// kern/lib/list.c's list_create/list_insert/list_get/list_remove,
// which os161 used for small lookup tables such as the AML
// scope/object tables in the wider kernel.
package list

// List is a singly-linked association list keyed by K, holding values
// of type V. New entries are pushed at the head, matching the
// original's list_insert (no duplicate checking).
type List[K comparable, V any] struct {
	head *item[K, V]
}

type item[K comparable, V any] struct {
	key   K
	value V
	next  *item[K, V]
}

// New creates an empty list.
func New[K comparable, V any]() *List[K, V] { return &List[K, V]{} }

// Insert pushes a new (key, value) pair at the head of the list.
func (l *List[K, V]) Insert(key K, value V) {
	l.head = &item[K, V]{key: key, value: value, next: l.head}
}

// Get returns the first value stored under key and whether it was found.
func (l *List[K, V]) Get(key K) (V, bool) {
	for it := l.head; it != nil; it = it.next {
		if it.key == key {
			return it.value, true
		}
	}
	var zero V
	return zero, false
}

// Remove deletes the first item stored under key, returning its value
// and whether one was found.
func (l *List[K, V]) Remove(key K) (V, bool) {
	var prev *item[K, V]
	for it := l.head; it != nil; it = it.next {
		if it.key == key {
			if prev == nil {
				l.head = it.next
			} else {
				prev.next = it.next
			}
			return it.value, true
		}
		prev = it
	}
	var zero V
	return zero, false
}

// Each calls fn for every (key, value) pair, head first.
func (l *List[K, V]) Each(fn func(K, V)) {
	for it := l.head; it != nil; it = it.next {
		fn(it.key, it.value)
	}
}

// Len counts the items in the list by walking it (a list.c-faithful
// O(n) scan rather than a maintained counter).
func (l *List[K, V]) Len() int {
	n := 0
	for it := l.head; it != nil; it = it.next {
		n++
	}
	return n
}
