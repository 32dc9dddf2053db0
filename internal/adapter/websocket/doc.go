// Package websocket provides the two WebSocket transports: a process-local
// hub on gorilla/websocket and a centrifuge node. Both register sockets
// through the connection lifecycle and implement domain.Sender.
package websocket
