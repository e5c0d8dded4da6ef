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

package sock

import (
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/netkit-go/netkit/internal/socket"
	errorx "github.com/netkit-go/netkit/pkg/errors"
)

// DefaultConnectTimeout is used by Connect when no positive timeout is given.
const DefaultConnectTimeout = 10 * time.Second

// Connect resolves host and opens a TCP connection to port, waiting at most
// timeout for the handshake. Every resolved address is tried in turn, IPv4 first.
//
// The returned socket is blocking, has Nagle's algorithm and lingering disabled,
// and carries the peer host name found by a best-effort reverse lookup.
func Connect(host string, port int, timeout time.Duration, opts ...Option) (*Sock, error) {
	if port <= 0 || port > 0xffff {
		return nil, errorx.ErrInvalidPort
	}
	options := loadOptions(opts...)
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	deadline := time.Now().Add(timeout)

	ips, err := resolveHost(options, host)
	if err != nil {
		return nil, err
	}

	lastErr := errorx.ErrConnectFailed
	for _, ip := range ips {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, errorx.ErrConnectTimeout
		}
		fd, err := dial(ip, port, remaining)
		if err == errorx.ErrConnectTimeout {
			return nil, err
		}
		if err != nil {
			options.Logger.Debugf("connect to %s port %d failed: %v", ip, port, err)
			lastErr = err
			continue
		}
		return newConnected(fd, ip, port, false, true, options), nil
	}
	return nil, lastErr
}

// dial connects a fresh blocking descriptor to ip:port. The connect is issued
// in non-blocking mode and raced against timeout with poll(2).
func dial(ip net.IP, port int, timeout time.Duration) (int, error) {
	sa := socket.IPToSockaddr(ip, port, "")
	if sa == nil {
		return -1, errorx.ErrInvalidNetworkAddress
	}
	fd, err := socket.Socket(socket.Family(ip), unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, err
	}
	if err = connectFd(fd, sa, timeout); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func connectFd(fd int, sa unix.Sockaddr, timeout time.Duration) error {
	if err := socket.SetNonblock(fd, true); err != nil {
		return err
	}
	switch err := unix.Connect(fd, sa); err {
	case nil:
	case unix.EINPROGRESS, unix.EINTR, unix.EALREADY:
		pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
		n, err := poll(pfd, timeout)
		if err != nil {
			return err
		}
		if n == 0 {
			return errorx.ErrConnectTimeout
		}
		if err = socket.PendingError(fd); err != nil {
			return fmt.Errorf("%w: %v", errorx.ErrConnectFailed, err)
		}
	default:
		return fmt.Errorf("%w: %v", errorx.ErrConnectFailed, os.NewSyscallError("connect", err))
	}
	return socket.SetNonblock(fd, false)
}

func newConnected(fd int, remoteIP net.IP, remotePort int, serverSide, lookupName bool, opts *Options) *Sock {
	s := newSock(fd, KindTCP, opts)
	if err := socket.SetNoDelay(fd, true); err != nil {
		opts.Logger.Debugf("failed to disable Nagle's algorithm: %v", err)
	}
	if err := socket.SetLinger(fd, -1); err != nil {
		opts.Logger.Debugf("failed to disable lingering: %v", err)
	}
	s.connected, s.serverSide = true, serverSide
	s.localIP, s.localPort = socket.LocalAddr(fd)
	s.remoteIP, s.remotePort = remoteIP, remotePort
	if lookupName {
		s.remoteHostName = reverseLookup(opts, remoteIP)
	}
	return s
}

// Listen opens an IPv4 TCP socket listening on port, bound to the loopback
// address if localOnly is set or to all interfaces otherwise. Port 0 picks an
// ephemeral port, LocalPort reports it.
func Listen(port int, localOnly bool, opts ...Option) (*Sock, error) {
	ip := net.IPv4zero
	if localOnly {
		ip = net.IPv4(127, 0, 0, 1)
	}
	return listen(ip, port, opts...)
}

// Listen6 is like Listen for IPv6.
func Listen6(port int, localOnly bool, opts ...Option) (*Sock, error) {
	ip := net.IPv6unspecified
	if localOnly {
		ip = net.IPv6loopback
	}
	return listen(ip, port, opts...)
}

func listen(ip net.IP, port int, opts ...Option) (s *Sock, err error) {
	if port < 0 || port > 0xffff {
		return nil, errorx.ErrInvalidPort
	}
	options := loadOptions(opts...)
	family := socket.Family(ip)

	fd, err := socket.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = unix.Close(fd)
		}
	}()

	if err = socket.SetReuseAddr(fd, true); err != nil {
		return
	}
	if family == unix.AF_INET6 {
		if err = socket.SetIPv6Only(fd, true); err != nil {
			return
		}
	}
	if err = os.NewSyscallError("bind", unix.Bind(fd, socket.IPToSockaddr(ip, port, ""))); err != nil {
		return
	}
	if err = os.NewSyscallError("listen", unix.Listen(fd, socket.MaxListenerBacklog)); err != nil {
		return
	}

	s = newSock(fd, KindTCP, options)
	s.listening, s.serverSide = true, true
	s.localIP, s.localPort = socket.LocalAddr(fd)
	return s, nil
}

// Accept waits for the next connection on a listening socket. The returned
// socket is connected, server side and blocking; its peer name is looked up
// when resolveHostName is set.
//
// Accept never panics: on an asynchronous socket with nothing pending it
// returns ErrLater, after Disconnect it returns ErrAcceptCanceled, and any other
// failure is reported as ErrAcceptSocket so that the caller may simply retry.
func (s *Sock) Accept(resolveHostName bool) (*Sock, error) {
	s.mu.Lock()
	listening, async := s.listening, s.asyncMode
	s.mu.Unlock()
	if !listening {
		if s.cancelAccept.Load() {
			return nil, errorx.ErrAcceptCanceled
		}
		return nil, errorx.ErrNotListening
	}
	if s.cancelAccept.Load() {
		return nil, errorx.ErrAcceptCanceled
	}

	var (
		nfd int
		sa  unix.Sockaddr
	)
	err := s.withFd(func(fd int) (err error) {
		nfd, sa, err = socket.Accept(fd)
		return
	})
	if s.cancelAccept.Load() {
		if err == nil {
			_ = unix.Close(nfd)
		}
		return nil, errorx.ErrAcceptCanceled
	}
	if err != nil {
		if err == unix.EAGAIN && async {
			return nil, errorx.ErrLater
		}
		return nil, fmt.Errorf("%w: %v", errorx.ErrAcceptSocket, os.NewSyscallError("accept", err))
	}

	// BSD descendants inherit O_NONBLOCK from the listener.
	if err = socket.SetNonblock(nfd, false); err != nil {
		_ = unix.Close(nfd)
		return nil, fmt.Errorf("%w: %v", errorx.ErrAcceptSocket, err)
	}
	remoteIP, remotePort := socket.SockaddrToIP(sa)
	return newConnected(nfd, remoteIP, remotePort, true, resolveHostName, s.opts), nil
}

// Send writes up to len(b) bytes and returns how many were written, 0 if the
// connection is gone (s is then disconnected) or Later if an asynchronous socket
// would block.
func (s *Sock) Send(b []byte) int {
	s.mu.Lock()
	ok, async := s.kind == KindTCP && s.connected, s.asyncMode
	s.mu.Unlock()
	if !ok || len(b) == 0 {
		return 0
	}

	var n int
	err := s.withFd(func(fd int) (err error) {
		for {
			if n, err = unix.Write(fd, b); err != unix.EINTR {
				return
			}
		}
	})
	switch {
	case err == nil && n > 0:
		s.countSend(n)
		if async {
			s.setWriteBlocked(false)
		}
		return n
	case err == unix.EAGAIN && async:
		s.setWriteBlocked(true)
		return Later
	}
	s.opts.Logger.Debugf("send on %s failed, disconnecting: %v", s, err)
	s.Disconnect()
	return 0
}

// Recv reads up to len(b) bytes and returns how many were read, 0 if the peer
// closed the connection or it broke (s is then disconnected) or Later if an
// asynchronous socket has nothing to read. A blocking read that exceeds the
// timeout set by SetTimeout counts as a broken connection.
func (s *Sock) Recv(b []byte) int {
	s.mu.Lock()
	ok, async := s.kind == KindTCP && s.connected, s.asyncMode
	s.mu.Unlock()
	if !ok || len(b) == 0 {
		return 0
	}

	var n int
	err := s.withFd(func(fd int) (err error) {
		for {
			if n, err = unix.Read(fd, b); err != unix.EINTR {
				return
			}
		}
	})
	switch {
	case err == nil && n > 0:
		s.countRecv(n)
		return n
	case err == unix.EAGAIN && async:
		return Later
	case err == nil:
		s.opts.Logger.Debugf("%s closed by peer", s)
	default:
		s.opts.Logger.Debugf("recv on %s failed, disconnecting: %v", s, err)
	}
	s.Disconnect()
	return 0
}

// SendAll writes the whole of b, it returns false if the connection broke on
// the way or if s is asynchronous.
func (s *Sock) SendAll(b []byte) bool {
	if s.isAsync() {
		return false
	}
	for len(b) > 0 {
		n := s.Send(b)
		if n <= 0 {
			return false
		}
		b = b[n:]
	}
	return true
}

// RecvAll fills the whole of b, it returns false if the connection broke on
// the way or if s is asynchronous.
func (s *Sock) RecvAll(b []byte) bool {
	if s.isAsync() {
		return false
	}
	for len(b) > 0 {
		n := s.Recv(b)
		if n <= 0 {
			return false
		}
		b = b[n:]
	}
	return true
}

// SetTimeout sets the deadline of each blocking send and receive, d <= 0 means
// no deadline. It only applies to TCP sockets.
func (s *Sock) SetTimeout(d time.Duration) {
	if s.kind != KindTCP {
		return
	}
	if d < 0 {
		d = 0
	}
	err := s.withFd(func(fd int) error {
		return socket.SetIOTimeout(fd, d)
	})
	if err != nil {
		s.opts.Logger.Debugf("failed to set timeout on %s: %v", s, err)
		return
	}
	s.mu.Lock()
	s.timeout = d
	s.mu.Unlock()
}

// Timeout returns the deadline set by SetTimeout, 0 means none.
func (s *Sock) Timeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeout
}

// Read implements io.Reader on a TCP socket.
func (s *Sock) Read(p []byte) (int, error) {
	if s.kind != KindTCP {
		return 0, errorx.ErrUnsupportedProtocol
	}
	if len(p) == 0 {
		return 0, nil
	}
	switch n := s.Recv(p); n {
	case Later:
		return 0, errorx.ErrLater
	case 0:
		return 0, io.EOF
	default:
		return n, nil
	}
}

// Write implements io.Writer on a TCP socket. A blocking socket writes all of p,
// an asynchronous one may write less and report io.ErrShortWrite.
func (s *Sock) Write(p []byte) (int, error) {
	if s.kind != KindTCP {
		return 0, errorx.ErrUnsupportedProtocol
	}
	if len(p) == 0 {
		return 0, nil
	}
	if !s.isAsync() {
		if !s.SendAll(p) {
			return 0, errorx.ErrSockClosed
		}
		return len(p), nil
	}
	switch n := s.Send(p); {
	case n == Later:
		return 0, errorx.ErrLater
	case n == 0:
		return 0, errorx.ErrSockClosed
	case n < len(p):
		return n, io.ErrShortWrite
	default:
		return n, nil
	}
}
