// Package testutil provides in-memory stand-ins for the hub and the REST API
// and deterministic fixtures for engine tests and scenarios.
package testutil
