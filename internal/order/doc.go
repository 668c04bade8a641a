// Package order holds the work order data model: the scheduling request
// (WorkOrder), its builder, the typed payload bag, the timer keys an order
// occupies and the append-only firing outcome records (Event).
//
// Orders are values. They are never mutated in place; a changed order is a
// replacement that carries the same ID.
package order
