// Package server binds the streaming route tree to a TCP or UNIX domain
// listener and owns the serve/drain lifecycle.
package server
