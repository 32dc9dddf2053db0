// Package app provides the application service layer.
//
// Orchestrates the connection use cases: tenant login checks, registering a
// connection on connect and removing it on disconnect. Sits between the
// transports/HTTP handlers and the domain repositories. Depends on domain
// interfaces, not concrete implementations.
package app
