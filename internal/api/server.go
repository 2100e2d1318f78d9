// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"
)

// ErrPortInUse is returned when a listener cannot bind after the retry.
// The daemon maps it to exit code 2.
var ErrPortInUse = errors.New("port in use")

// bindRetryDelay is how long to wait before the single bind retry, enough
// for a previous daemon instance to release the port.
const bindRetryDelay = 500 * time.Millisecond

// Server wraps one HTTP listener.
type Server struct {
	name string
	http *http.Server
}

// NewServer creates a named server for the given address and handler.
func NewServer(name, host string, port int, handler http.Handler) *Server {
	return &Server{
		name: name,
		http: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", host, port),
			Handler: handler,
		},
	}
}

// Start binds and serves in the background. A failed bind is retried once
// before giving up with ErrPortInUse.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		log.Printf("api: bind %s (%s) failed, retrying: %v", s.http.Addr, s.name, err)
		time.Sleep(bindRetryDelay)
		l, err = net.Listen("tcp", s.http.Addr)
		if err != nil {
			return fmt.Errorf("%w: %s (%s)", ErrPortInUse, s.http.Addr, s.name)
		}
	}
	log.Printf("api: %s listening on %s", s.name, s.http.Addr)

	go func() {
		if err := s.http.Serve(l); err != nil && err != http.ErrServerClosed {
			log.Printf("api: %s server error: %v", s.name, err)
		}
	}()
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
