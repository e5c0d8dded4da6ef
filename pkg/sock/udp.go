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
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/netkit-go/netkit/internal/socket"
	errorx "github.com/netkit-go/netkit/pkg/errors"
)

// NewUDP opens an IPv4 UDP socket bound to port on all interfaces, port 0
// picks an ephemeral port. Broadcast is allowed.
func NewUDP(port int, opts ...Option) (s *Sock, err error) {
	if port < 0 || port > 0xffff {
		return nil, errorx.ErrInvalidPort
	}
	options := loadOptions(opts...)

	fd, err := socket.Socket(unix.AF_INET, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = unix.Close(fd)
		}
	}()

	if err = socket.SetBroadcast(fd, true); err != nil {
		return
	}
	if err = os.NewSyscallError("bind", unix.Bind(fd, &unix.SockaddrInet4{Port: port})); err != nil {
		return
	}

	s = newSock(fd, KindUDP, options)
	s.localIP, s.localPort = socket.LocalAddr(fd)
	return s, nil
}

// isIgnorable tells whether a datagram error is expected under normal network
// conditions, mostly ICMP feedback about an earlier datagram.
func isIgnorable(err error) bool {
	switch err {
	case unix.ECONNREFUSED, unix.ECONNRESET, unix.EMSGSIZE, unix.EHOSTUNREACH,
		unix.ENETUNREACH, unix.ENOBUFS, unix.EUSERS, unix.ENETRESET:
		return true
	}
	return false
}

// SendTo sends b as one datagram to ip:port. It returns len(b) on success,
// Later if an asynchronous socket would block and 0 on failure. An ignorable
// failure leaves the socket usable and is flagged by IgnoredSendError, any other
// failure disconnects the socket.
func (s *Sock) SendTo(ip net.IP, port int, b []byte) int {
	s.mu.Lock()
	ok, async := s.kind == KindUDP && !s.disconnected, s.asyncMode
	s.mu.Unlock()
	if !ok {
		return 0
	}
	ip4 := ip.To4()
	if ip4 == nil || port <= 0 || port > 0xffff {
		s.opts.Logger.Debugf("sendto on %s: invalid destination %v port %d", s, ip, port)
		return 0
	}

	sa := &unix.SockaddrInet4{Port: port}
	copy(sa.Addr[:], ip4)
	err := s.withFd(func(fd int) (err error) {
		for {
			if err = unix.Sendto(fd, b, 0, sa); err != unix.EINTR {
				return
			}
		}
	})
	switch {
	case err == nil:
		s.countSend(len(b))
		s.mu.Lock()
		s.ignoreSendErr = false
		s.mu.Unlock()
		if async {
			s.setWriteBlocked(false)
		}
		return len(b)
	case err == unix.EAGAIN && async:
		s.setWriteBlocked(true)
		return Later
	case isIgnorable(err):
		s.mu.Lock()
		s.ignoreSendErr = true
		s.mu.Unlock()
		return 0
	}
	s.opts.Logger.Debugf("sendto on %s failed, disconnecting: %v", s, err)
	s.Disconnect()
	return 0
}

// RecvFrom receives one datagram into b and returns its size and source. It
// returns Later if an asynchronous socket has nothing to read and 0 on failure,
// with the same ignorable/fatal split as SendTo, flagged by IgnoredRecvError.
func (s *Sock) RecvFrom(b []byte) (n int, ip net.IP, port int) {
	s.mu.Lock()
	ok, async := s.kind == KindUDP && !s.disconnected, s.asyncMode
	s.mu.Unlock()
	if !ok || len(b) == 0 {
		return 0, nil, 0
	}

	var from unix.Sockaddr
	err := s.withFd(func(fd int) (err error) {
		for {
			if n, from, err = unix.Recvfrom(fd, b, 0); err != unix.EINTR {
				return
			}
		}
	})
	switch {
	case err == nil && from == nil:
		// Woken by a shutdown, no datagram was received.
		return 0, nil, 0
	case err == nil:
		s.countRecv(n)
		s.mu.Lock()
		s.ignoreRecvErr = false
		s.mu.Unlock()
		ip, port = socket.SockaddrToIP(from)
		return n, ip, port
	case err == unix.EAGAIN && async:
		return Later, nil, 0
	case err == unix.EAGAIN, isIgnorable(err):
		s.mu.Lock()
		s.ignoreRecvErr = true
		s.mu.Unlock()
		return 0, nil, 0
	}
	s.opts.Logger.Debugf("recvfrom on %s failed, disconnecting: %v", s, err)
	s.Disconnect()
	return 0, nil, 0
}
