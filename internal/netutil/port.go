// Package netutil chooses the address the API server listens on.
package netutil

import (
	"errors"
	"fmt"
	"net"
)

// ErrNoAddress is returned when neither the preferred address nor any
// candidate can be bound.
var ErrNoAddress = errors.New("no available bind addresses")

// Listen binds the preferred address, or when it is taken and autoFallback is
// set, the first candidate that is free. The returned listener is already
// bound, so there is no window for another process to take the port.
func Listen(preferred string, candidates []string, autoFallback bool) (net.Listener, error) {
	if preferred != "" {
		ln, err := net.Listen("tcp", preferred)
		if err == nil {
			return ln, nil
		}
		if !autoFallback {
			return nil, fmt.Errorf("preferred bind address in use: %s", preferred)
		}
	}
	for _, addr := range candidates {
		if addr == preferred {
			continue
		}
		if ln, err := net.Listen("tcp", addr); err == nil {
			return ln, nil
		}
	}
	return nil, ErrNoAddress
}

// SelectBindAddr picks an available bind address based on preferred and fallback list.
func SelectBindAddr(preferred string, candidates []string, autoFallback bool) (string, error) {
	ln, err := Listen(preferred, candidates, autoFallback)
	if err != nil {
		return "", err
	}
	addr := ln.Addr().String()
	if err := ln.Close(); err != nil {
		return "", err
	}
	return addr, nil
}
