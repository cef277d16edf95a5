// Package inventory holds the item-list type traded between two users and
// the multiset-equality rule lockIn checks claims against.
package inventory

import "slices"

// Inventory is an ordered sequence of item identifiers. Order carries no
// meaning; equality between two inventories is multiset equality.
type Inventory []string

// Equal reports whether a and b contain the same items with the same
// multiplicities, independent of order.
func Equal(a, b Inventory) bool {
	if len(a) != len(b) {
		return false
	}
	sa := slices.Clone([]string(a))
	sb := slices.Clone([]string(b))
	slices.Sort(sa)
	slices.Sort(sb)
	return slices.Equal(sa, sb)
}

// Clone returns an independent copy so callers can't mutate state through
// an aliased slice handed back from a manager.
func Clone(inv Inventory) Inventory {
	return slices.Clone(inv)
}
