// Package broadcast fans a payload out to every registered connection.
//
// A broadcast scans the connection store once, delivers to every candidate
// concurrently and removes records whose peer is gone. Deliveries never cancel
// each other; a failure that does not prove the peer gone fails the broadcast
// only after every delivery has finished.
package broadcast
