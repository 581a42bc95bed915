// Package web3 defines the chain facing collaborators used by the rebalancer:
// name resolution, balance and price reads, gas estimation and transaction
// relay. The ethereum subpackage implements them over JSON-RPC, and provider
// keeps one client per configured network.
package web3
