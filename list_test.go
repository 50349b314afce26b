package kernel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// listNode is a minimal intrusive-list element used to exercise List[T] in
// isolation, without pulling in TCB's larger field set.
type listNode struct {
	id   int
	link Links[listNode]
}

func newNodeList() *List[listNode] {
	return NewList(func(n *listNode) *Links[listNode] { return &n.link })
}

func TestListPushBackOrderAndLen(t *testing.T) {
	l := newNodeList()
	require.True(t, l.Empty())

	a, b, c := &listNode{id: 1}, &listNode{id: 2}, &listNode{id: 3}
	l.PushBack(a)
	l.PushBack(b)
	l.PushBack(c)

	require.Equal(t, 3, l.Len())
	require.Equal(t, a, l.Front())

	require.Equal(t, a, l.PopFront())
	require.Equal(t, b, l.PopFront())
	require.Equal(t, c, l.PopFront())
	require.Nil(t, l.PopFront())
	require.True(t, l.Empty())
}

func TestListPushFrontPreservesPosition(t *testing.T) {
	l := newNodeList()
	a, b, c := &listNode{id: 1}, &listNode{id: 2}, &listNode{id: 3}
	l.PushBack(b)
	l.PushBack(c)
	l.PushFront(a)

	require.Equal(t, []int{1, 2, 3}, drain(l))
}

func TestListRemoveFromMiddle(t *testing.T) {
	l := newNodeList()
	a, b, c := &listNode{id: 1}, &listNode{id: 2}, &listNode{id: 3}
	l.PushBack(a)
	l.PushBack(b)
	l.PushBack(c)

	l.Remove(b)
	require.Equal(t, 2, l.Len())
	require.Equal(t, []int{1, 3}, drain(l))
}

func TestListRemoveHeadAndTail(t *testing.T) {
	l := newNodeList()
	a, b := &listNode{id: 1}, &listNode{id: 2}
	l.PushBack(a)
	l.PushBack(b)

	l.Remove(a)
	require.Equal(t, 1, l.Len())
	require.Equal(t, b, l.Front())

	l.Remove(b)
	require.True(t, l.Empty())
	require.Nil(t, l.Front())
}

func TestListWalkStopsEarly(t *testing.T) {
	l := newNodeList()
	for i := 1; i <= 5; i++ {
		l.PushBack(&listNode{id: i})
	}
	var seen []int
	l.Walk(func(n *listNode) bool {
		seen = append(seen, n.id)
		return n.id < 3
	})
	require.Equal(t, []int{1, 2, 3}, seen)
}

func TestListContains(t *testing.T) {
	l := newNodeList()
	a, b := &listNode{id: 1}, &listNode{id: 2}
	require.False(t, l.Contains(a))
	l.PushBack(a)
	require.True(t, l.Contains(a))
	l.PushBack(b)
	require.True(t, l.Contains(a))
	require.True(t, l.Contains(b))
	l.Remove(a)
	require.False(t, l.Contains(a))
}

func drain(l *List[listNode]) []int {
	var out []int
	for n := l.PopFront(); n != nil; n = l.PopFront() {
		out = append(out, n.id)
	}
	return out
}
