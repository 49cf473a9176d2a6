package transaction

import (
	"slices"
	"sort"
)

// table keeps pending transactions ordered by ascending message id.
// Transactions sharing an id keep insertion order.
type table struct {
	items []*Transaction
}

func (t *table) insert(tx *Transaction) {
	mid := tx.MessageID()
	i := sort.Search(len(t.items), func(i int) bool {
		return t.items[i].MessageID() > mid
	})
	t.items = slices.Insert(t.items, i, tx)
}

func (t *table) index(tx *Transaction) int {
	mid := tx.MessageID()
	i := sort.Search(len(t.items), func(i int) bool {
		return t.items[i].MessageID() >= mid
	})
	for ; i < len(t.items) && t.items[i].MessageID() == mid; i++ {
		if t.items[i] == tx {
			return i
		}
	}
	return -1
}

func (t *table) contains(tx *Transaction) bool {
	return t.index(tx) >= 0
}

func (t *table) remove(tx *Transaction) bool {
	i := t.index(tx)
	if i < 0 {
		return false
	}
	t.items = slices.Delete(t.items, i, i+1)
	return true
}

// snapshot returns a copy safe to iterate while the table changes.
func (t *table) snapshot() []*Transaction {
	return slices.Clone(t.items)
}

func (t *table) len() int {
	return len(t.items)
}

func (t *table) clear() []*Transaction {
	items := t.items
	t.items = nil
	return items
}
