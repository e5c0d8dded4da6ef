// Copyright (c) 2019 The Gnet Authors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd

// Package listener runs a TCP listener on its own goroutine. Binding is retried
// forever, a burst of accept failures rebuilds the listening socket, and every
// accepted connection is handed to a handler running concurrently with the
// accept loop. Only Stop ends a listener.
package listener

import (
	"sync"
	"sync/atomic"

	errorx "github.com/netkit-go/netkit/pkg/errors"
	"github.com/netkit-go/netkit/pkg/pool/goroutine"
	"github.com/netkit-go/netkit/pkg/sock"
)

// MaxAcceptFailures is the number of consecutive accept failures tolerated on
// one listening socket, the next one makes the listener bind again.
const MaxAcceptFailures = 5

// Status is the state of the listener.
type Status int32

const (
	// StatusTrying means the listener is trying to bind its port.
	StatusTrying Status = iota
	// StatusListening means the accept loop is running.
	StatusListening
)

func (s Status) String() string {
	switch s {
	case StatusTrying:
		return "trying"
	case StatusListening:
		return "listening"
	}
	return "unknown"
}

// Handler serves one accepted connection and owns it, it must eventually
// call Disconnect on s.
type Handler func(l *Listener, s *sock.Sock, param any)

// Listener accepts TCP connections on a port.
type Listener struct {
	handler Handler
	param   any
	opts    *Options
	pool    *goroutine.Pool
	ownPool bool

	// wake interrupts the pause between bind attempts.
	wake sock.Event

	accept func(s *sock.Sock, resolveHostName bool) (*sock.Sock, error)

	status atomic.Int32

	mu     sync.Mutex
	port   int
	halted bool
	sock   *sock.Sock

	done chan struct{}
}

// New starts a listener on port and returns once its goroutine is running, so
// Stop may be called right away. Port 0 binds an ephemeral port that is kept
// across rebinds, Port reports it once the listener is listening.
func New(port int, handler Handler, param any, opts ...Option) (*Listener, error) {
	return start(port, handler, param, (*sock.Sock).Accept, opts...)
}

func start(port int, handler Handler, param any,
	accept func(*sock.Sock, bool) (*sock.Sock, error), opts ...Option,
) (*Listener, error) {
	if handler == nil {
		return nil, errorx.ErrNilHandler
	}
	if port < 0 || port > 0xffff {
		return nil, errorx.ErrInvalidPort
	}
	options := loadOptions(opts...)
	wake, err := sock.NewEvent()
	if err != nil {
		return nil, err
	}

	l := &Listener{
		handler: handler,
		param:   param,
		opts:    options,
		pool:    options.WorkerPool,
		wake:    wake,
		accept:  accept,
		port:    port,
		done:    make(chan struct{}),
	}
	if l.pool == nil {
		l.pool, l.ownPool = goroutine.Default(), true
	}

	ready := make(chan struct{})
	go l.run(ready)
	<-ready
	return l, nil
}

// Stop halts the listener and blocks until its goroutine has exited. Handlers
// already running are not interrupted. Stop is idempotent.
func (l *Listener) Stop() {
	l.mu.Lock()
	if l.halted {
		l.mu.Unlock()
		return
	}
	l.halted = true
	s := l.sock
	l.mu.Unlock()

	// Releases an Accept in progress.
	if s != nil {
		s.Disconnect()
	}
	l.wake.Set()
	<-l.done

	l.wake.Release()
	if l.ownPool {
		l.pool.Release()
	}
	l.opts.Logger.Infof("listener on port %d stopped", l.Port())
}

// Status returns the current state of the listener.
func (l *Listener) Status() Status {
	return Status(l.status.Load())
}

// Halted reports whether Stop has been called.
func (l *Listener) Halted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.halted
}

// Port returns the port of the listener.
func (l *Listener) Port() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port
}

func (l *Listener) run(ready chan<- struct{}) {
	defer close(l.done)
	close(ready)

	for {
		l.status.Store(int32(StatusTrying))
		if l.Halted() {
			return
		}

		s, err := l.listen()
		if err != nil {
			l.opts.Logger.Debugf("failed to listen on port %d, retrying in %v: %v", l.Port(), l.opts.RetryInterval, err)
			l.wake.Wait(l.opts.RetryInterval)
			continue
		}
		if !l.serve(s) {
			return
		}
	}
}

func (l *Listener) listen() (*sock.Sock, error) {
	opts := []sock.Option{sock.WithLogger(l.opts.Logger)}
	if l.opts.Resolver != nil {
		opts = append(opts, sock.WithResolver(l.opts.Resolver))
	}
	if l.opts.IPv6 {
		return sock.Listen6(l.Port(), l.opts.LocalOnly, opts...)
	}
	return sock.Listen(l.Port(), l.opts.LocalOnly, opts...)
}

// serve runs the accept loop on s until the listener halts, in which case it
// returns false, or until accepting keeps failing.
func (l *Listener) serve(s *sock.Sock) bool {
	l.mu.Lock()
	l.sock = s
	if l.port == 0 {
		l.port = s.LocalPort()
	}
	port, halted := l.port, l.halted
	l.status.Store(int32(StatusListening))
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.status.Store(int32(StatusTrying))
		l.sock = nil
		l.mu.Unlock()
	}()

	if halted {
		s.Disconnect()
		return false
	}
	l.opts.Logger.Infof("listening on port %d", port)

	failures := 0
	for {
		conn, err := l.accept(s, l.opts.HostNameLookup)
		if err == nil {
			failures = 0
			l.dispatch(conn)
			continue
		}
		if l.Halted() {
			s.Disconnect()
			return false
		}
		if failures++; failures > MaxAcceptFailures {
			l.opts.Logger.Warnf("accept on port %d failed %d times in a row, binding again: %v", port, failures, err)
			s.Disconnect()
			return true
		}
		l.opts.Logger.Debugf("accept on port %d failed: %v", port, err)
	}
}

// dispatch hands conn to the handler without ever blocking the accept loop.
func (l *Listener) dispatch(conn *sock.Sock) {
	task := func() { l.handle(conn) }
	if err := l.pool.Submit(task); err != nil {
		l.opts.Logger.Debugf("worker pool refused %s, spawning a goroutine: %v", conn, err)
		go task()
	}
}

func (l *Listener) handle(conn *sock.Sock) {
	defer func() {
		if r := recover(); r != nil {
			l.opts.Logger.Errorf("handler of %s panicked: %v", conn, r)
			conn.Disconnect()
		}
	}()
	l.handler(l, conn, l.param)
}
