// Package api exposes the serve-mode HTTP interface: run submission and
// lookup, health and Prometheus metrics.
package api
