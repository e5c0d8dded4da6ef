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

package socket

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestSockaddrConversions(t *testing.T) {
	sa := IPToSockaddr(net.ParseIP("192.168.1.7"), 8080, "")
	sa4, ok := sa.(*unix.SockaddrInet4)
	require.True(t, ok)
	assert.Equal(t, [4]byte{192, 168, 1, 7}, sa4.Addr)
	assert.Equal(t, 8080, sa4.Port)

	ip, port := SockaddrToIP(sa)
	assert.Equal(t, net.IPv4len, len(ip))
	assert.True(t, ip.Equal(net.ParseIP("192.168.1.7")))
	assert.Equal(t, 8080, port)

	sa = IPToSockaddr(net.ParseIP("fe80::1"), 53, "7")
	sa6, ok := sa.(*unix.SockaddrInet6)
	require.True(t, ok)
	assert.EqualValues(t, 7, sa6.ZoneId)
	ip, port = SockaddrToIP(sa)
	assert.True(t, ip.Equal(net.ParseIP("fe80::1")))
	assert.Equal(t, 53, port)

	// v4-mapped addresses come back in 4-byte form.
	mapped := &unix.SockaddrInet6{Port: 1}
	copy(mapped.Addr[:], net.ParseIP("10.0.0.1").To16())
	ip, _ = SockaddrToIP(mapped)
	assert.Equal(t, net.IPv4len, len(ip))

	_, ok = IPToSockaddr(nil, 1, "").(*unix.SockaddrInet4)
	assert.True(t, ok)
	assert.Nil(t, IPToSockaddr(net.IP{1, 2, 3}, 1, ""))

	ip, port = SockaddrToIP(&unix.SockaddrUnix{Name: "/tmp/x"})
	assert.Nil(t, ip)
	assert.Zero(t, port)
}

func TestFamily(t *testing.T) {
	assert.Equal(t, unix.AF_INET, Family(net.IPv4(127, 0, 0, 1)))
	assert.Equal(t, unix.AF_INET, Family(net.ParseIP("10.1.2.3").To16()))
	assert.Equal(t, unix.AF_INET6, Family(net.IPv6loopback))
}

func TestDtoi(t *testing.T) {
	n, ok := dtoi("42")
	assert.True(t, ok)
	assert.Equal(t, 42, n)
	_, ok = dtoi("")
	assert.False(t, ok)
	_, ok = dtoi("4a")
	assert.False(t, ok)
	_, ok = dtoi("99999999")
	assert.False(t, ok)
}

func TestMaxListenerBacklog(t *testing.T) {
	assert.Positive(t, MaxListenerBacklog)
	assert.LessOrEqual(t, MaxListenerBacklog, 1<<16-1)
}

func TestSocketOptions(t *testing.T) {
	fd, err := Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	require.NoError(t, err)
	defer Close(fd) //nolint:errcheck

	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	require.NoError(t, err)
	assert.NotZero(t, flags&unix.FD_CLOEXEC)

	require.NoError(t, SetNoDelay(fd, true))
	v, err := unix.GetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY)
	require.NoError(t, err)
	assert.NotZero(t, v)

	require.NoError(t, SetReuseAddr(fd, true))
	v, err = unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR)
	require.NoError(t, err)
	assert.NotZero(t, v)

	require.NoError(t, SetLinger(fd, -1))
	l, err := unix.GetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER)
	require.NoError(t, err)
	assert.Zero(t, l.Onoff)

	require.NoError(t, SetNonblock(fd, true))
	fl, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	require.NoError(t, err)
	assert.NotZero(t, fl&unix.O_NONBLOCK)
	require.NoError(t, SetNonblock(fd, false))

	require.NoError(t, SetIOTimeout(fd, 1500*time.Millisecond))
	tv, err := unix.GetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO)
	require.NoError(t, err)
	assert.EqualValues(t, 1, tv.Sec)
	require.NoError(t, SetIOTimeout(fd, 0))
	tv, err = unix.GetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_SNDTIMEO)
	require.NoError(t, err)
	assert.Zero(t, tv.Sec)
	assert.Zero(t, tv.Usec)

	assert.NoError(t, PendingError(fd))
}

func TestAcceptAndLocalAddr(t *testing.T) {
	lfd, err := Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	require.NoError(t, err)
	defer Close(lfd) //nolint:errcheck
	require.NoError(t, unix.Bind(lfd, IPToSockaddr(net.IPv4(127, 0, 0, 1), 0, "")))
	require.NoError(t, unix.Listen(lfd, MaxListenerBacklog))

	ip, port := LocalAddr(lfd)
	assert.True(t, ip.Equal(net.IPv4(127, 0, 0, 1)))
	require.NotZero(t, port)

	c, err := net.Dial("tcp4", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer c.Close()

	nfd, sa, err := Accept(lfd)
	require.NoError(t, err)
	defer Close(nfd) //nolint:errcheck
	rip, rport := SockaddrToIP(sa)
	assert.True(t, rip.Equal(net.IPv4(127, 0, 0, 1)))
	assert.Equal(t, c.LocalAddr().(*net.TCPAddr).Port, rport)

	fl, err := unix.FcntlInt(uintptr(nfd), unix.F_GETFL, 0)
	require.NoError(t, err)
	assert.Zero(t, fl&unix.O_NONBLOCK)
}
