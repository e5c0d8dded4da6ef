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

// Package sock drives raw TCP and UDP descriptors either synchronously or, once
// joined to a readiness Event, in non-blocking mode.
//
// Steady-state I/O never returns errors: Send and Recv report the number of
// bytes moved, 0 once the connection is gone (the socket is disconnected as a
// side effect) or Later when a non-blocking socket would block.
package sock

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/netkit-go/netkit/internal/socket"
	errorx "github.com/netkit-go/netkit/pkg/errors"
	"github.com/netkit-go/netkit/pkg/pool/bytebuffer"
)

// Later is returned by Send, Recv, SendTo and RecvFrom on an asynchronous
// socket when the operation would block.
const Later = -1

// Kind is the transport of a socket.
type Kind int

const (
	// KindTCP is a stream socket.
	KindTCP Kind = iota
	// KindUDP is a datagram socket.
	KindUDP
)

func (k Kind) String() string {
	switch k {
	case KindTCP:
		return "tcp"
	case KindUDP:
		return "udp"
	}
	return "unknown"
}

// Stats holds the traffic counters of a socket.
type Stats struct {
	BytesSent     uint64
	BytesReceived uint64
	SendOps       uint64
	RecvOps       uint64
}

// Sock is a single TCP or UDP socket.
type Sock struct {
	kind Kind
	opts *Options

	// lifeMu serializes Disconnect and JoinSocket.
	lifeMu sync.Mutex
	// ioMu is held shared by every syscall on fd and exclusively while fd is closed.
	ioMu sync.RWMutex
	fd   int

	cancelAccept atomic.Bool

	mu             sync.Mutex
	connected      bool
	listening      bool
	serverSide     bool
	asyncMode      bool
	secureMode     bool
	disconnected   bool
	writeBlocked   bool
	ignoreSendErr  bool
	ignoreRecvErr  bool
	timeout        time.Duration
	localIP        net.IP
	localPort      int
	remoteIP       net.IP
	remotePort     int
	remoteHostName string
	stats          Stats
	event          Event
	// setEvent is the socket's own event, created by the first Set.Poll that
	// finds the socket blocking.
	setEvent Event
	sendBuf  *bytebuffer.ByteBuffer
}

func newSock(fd int, kind Kind, opts *Options) *Sock {
	return &Sock{fd: fd, kind: kind, opts: opts}
}

// withFd runs fn with the descriptor, fd stays open until fn returns.
func (s *Sock) withFd(fn func(fd int) error) error {
	s.ioMu.RLock()
	defer s.ioMu.RUnlock()
	if s.fd < 0 {
		return errorx.ErrSockClosed
	}
	return fn(s.fd)
}

// pollFd describes what a readiness wait should watch on s.
func (s *Sock) pollFd() (unix.PollFd, bool) {
	s.mu.Lock()
	if s.disconnected || s.listening {
		s.mu.Unlock()
		return unix.PollFd{}, false
	}
	events := int16(unix.POLLIN)
	if s.writeBlocked {
		events |= unix.POLLOUT
	}
	s.mu.Unlock()

	s.ioMu.RLock()
	fd := s.fd
	s.ioMu.RUnlock()
	if fd < 0 {
		return unix.PollFd{}, false
	}
	return unix.PollFd{Fd: int32(fd), Events: events}, true
}

// beginPoll is pollFd keeping the descriptor open until endPoll.
func (s *Sock) beginPoll() (unix.PollFd, bool) {
	pfd, ok := s.pollFd()
	if !ok {
		return pfd, false
	}
	s.ioMu.RLock()
	if s.fd < 0 || int32(s.fd) != pfd.Fd {
		s.ioMu.RUnlock()
		return unix.PollFd{}, false
	}
	return pfd, true
}

func (s *Sock) endPoll() {
	s.ioMu.RUnlock()
}

// ownEvent returns the socket's own event, creating it on first use.
func (s *Sock) ownEvent() (Event, error) {
	s.mu.Lock()
	if s.disconnected {
		s.mu.Unlock()
		return nil, errorx.ErrSockClosed
	}
	if e := s.setEvent; e != nil {
		s.mu.Unlock()
		return e, nil
	}
	s.mu.Unlock()

	e, err := NewEvent()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disconnected {
		e.Release()
		return nil, errorx.ErrSockClosed
	}
	if s.setEvent != nil {
		e.Release()
		return s.setEvent, nil
	}
	s.setEvent = e
	return e, nil
}

// joinOwnEvent switches s to asynchronous mode through its own event.
func (s *Sock) joinOwnEvent() error {
	e, err := s.ownEvent()
	if err != nil {
		return err
	}
	if err = e.JoinSocket(s); err != nil {
		return err
	}
	// Joining signals the event, only readiness of s should end a wait on it.
	e.drain()
	return nil
}

// joinedOwnEvent returns the socket's own event if the socket is joined to it.
func (s *Sock) joinedOwnEvent() Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setEvent != nil && s.event == s.setEvent {
		return s.setEvent
	}
	return nil
}

func (s *Sock) isAsync() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.asyncMode
}

func (s *Sock) setWriteBlocked(blocked bool) {
	s.mu.Lock()
	if s.writeBlocked == blocked {
		s.mu.Unlock()
		return
	}
	s.writeBlocked = blocked
	ev := s.event
	s.mu.Unlock()
	if ev != nil {
		ev.watchWrite(s, blocked)
	}
}

func (s *Sock) countSend(n int) {
	s.mu.Lock()
	s.stats.BytesSent += uint64(n)
	s.stats.SendOps++
	s.mu.Unlock()
}

func (s *Sock) countRecv(n int) {
	s.mu.Lock()
	s.stats.BytesReceived += uint64(n)
	s.stats.RecvOps++
	s.mu.Unlock()
}

// Disconnect shuts the socket down and releases its descriptor. It is
// idempotent and may be called from any goroutine, including while another
// goroutine is blocked in I/O on s.
//
// A goroutine parked in Accept on a listening socket is released by a throwaway
// loopback connection to the socket's own port; the accept that receives it sees
// the cancel flag and reports ErrAcceptCanceled.
func (s *Sock) Disconnect() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	s.mu.Lock()
	if s.disconnected {
		s.mu.Unlock()
		return
	}
	s.disconnected = true
	listening := s.listening
	if listening {
		// Set before listening is cleared, Accept checks the flags in this order.
		s.cancelAccept.Store(true)
	}
	localIP, localPort := s.localIP, s.localPort
	ev, own := s.event, s.setEvent
	buf := s.sendBuf
	s.connected, s.listening, s.asyncMode, s.secureMode, s.writeBlocked = false, false, false, false, false
	s.event, s.setEvent, s.sendBuf = nil, nil, nil
	s.mu.Unlock()

	bytebuffer.Put(buf)

	// fd only changes below, under lifeMu, so it can be read without ioMu here.
	fd := s.fd
	if ev != nil {
		ev.leave(s, fd)
	}
	if own != nil {
		own.Release()
	}
	if listening {
		wakeAccept(localIP, localPort)
	}
	_ = unix.Shutdown(fd, unix.SHUT_RDWR)

	s.ioMu.Lock()
	if err := socket.Close(fd); err != nil {
		s.opts.Logger.Debugf("failed to close %s socket: %v", s.kind, err)
	}
	s.fd = -1
	s.ioMu.Unlock()
}

// wakeAccept makes a short-lived loopback connection to port so that a blocking
// accept on it returns.
func wakeAccept(ip net.IP, port int) {
	target := net.IPv4(127, 0, 0, 1)
	if ip != nil && ip.To4() == nil {
		target = net.IPv6loopback
	}
	if fd, err := dial(target, port, time.Second); err == nil {
		_ = unix.Close(fd)
	}
}

// Kind returns the transport of the socket.
func (s *Sock) Kind() Kind {
	return s.kind
}

// IsConnected reports whether the TCP connection is established.
func (s *Sock) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// IsListening reports whether the socket accepts connections.
func (s *Sock) IsListening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listening
}

// IsServerSide reports whether the socket came from Listen or Accept.
func (s *Sock) IsServerSide() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverSide
}

// IsAsync reports whether the socket is non-blocking and joined to an Event.
func (s *Sock) IsAsync() bool {
	return s.isAsync()
}

// IsSecure reports whether a secure stream decorator has been layered on the socket.
func (s *Sock) IsSecure() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.secureMode
}

// SetSecureMode is called by secure stream decorators once their handshake is done.
func (s *Sock) SetSecureMode(secure bool) {
	s.mu.Lock()
	if !s.disconnected {
		s.secureMode = secure
	}
	s.mu.Unlock()
}

// IsDisconnected reports whether Disconnect has run.
func (s *Sock) IsDisconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnected
}

// IsWriteBlocked reports whether the last asynchronous send would have blocked.
func (s *Sock) IsWriteBlocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeBlocked
}

// IgnoredSendError reports whether the last UDP send hit an ignorable transient error.
func (s *Sock) IgnoredSendError() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ignoreSendErr
}

// IgnoredRecvError reports whether the last UDP receive hit an ignorable transient error.
func (s *Sock) IgnoredRecvError() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ignoreRecvErr
}

// LocalAddr returns the address the socket is bound to.
func (s *Sock) LocalAddr() net.IP {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localIP
}

// LocalPort returns the port the socket is bound to.
func (s *Sock) LocalPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localPort
}

// RemoteAddr returns the peer address of a TCP connection.
func (s *Sock) RemoteAddr() net.IP {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteIP
}

// RemotePort returns the peer port of a TCP connection.
func (s *Sock) RemotePort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remotePort
}

// RemoteHostName returns the peer host name, or its numeric address when the
// name is unknown.
func (s *Sock) RemoteHostName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remoteHostName == "" && s.remoteIP != nil {
		return s.remoteIP.String()
	}
	return s.remoteHostName
}

// Stats returns a snapshot of the traffic counters.
func (s *Sock) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Sock) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	local := net.JoinHostPort(ipString(s.localIP), strconv.Itoa(s.localPort))
	if s.remoteIP == nil {
		return fmt.Sprintf("%s %s", s.kind, local)
	}
	return fmt.Sprintf("%s %s -> %s", s.kind, local, net.JoinHostPort(s.remoteIP.String(), strconv.Itoa(s.remotePort)))
}

func ipString(ip net.IP) string {
	if ip == nil {
		return "?"
	}
	return ip.String()
}
