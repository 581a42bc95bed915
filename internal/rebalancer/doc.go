// Package rebalancer contains the orchestrator that turns one network's
// treasury balances into a single role-scoped batch transaction. It sequences
// balance reads, shortfall computation, order placement and batch assembly,
// then simulates or relays the result. Every run either yields one complete
// batch or aborts with a coded error.
package rebalancer
