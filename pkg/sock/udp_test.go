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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	errorx "github.com/netkit-go/netkit/pkg/errors"
)

var loopback = net.IPv4(127, 0, 0, 1)

func TestUDPRoundTrip(t *testing.T) {
	a, err := NewUDP(0)
	require.NoError(t, err)
	defer a.Disconnect()
	b, err := NewUDP(0)
	require.NoError(t, err)
	defer b.Disconnect()

	assert.Equal(t, KindUDP, a.Kind())
	assert.False(t, a.IsConnected())
	require.NotZero(t, b.LocalPort())

	assert.Equal(t, 3, a.SendTo(loopback, b.LocalPort(), []byte{1, 2, 3}))
	buf := make([]byte, 16)
	n, ip, port := b.RecvFrom(buf)
	require.Equal(t, 3, n)
	assert.Equal(t, []byte{1, 2, 3}, buf[:n])
	assert.True(t, ip.Equal(loopback))
	assert.Equal(t, a.LocalPort(), port)

	assert.Equal(t, Stats{BytesSent: 3, SendOps: 1}, a.Stats())
	assert.Equal(t, Stats{BytesReceived: 3, RecvOps: 1}, b.Stats())
}

func TestUDPIgnorableSendError(t *testing.T) {
	a, err := NewUDP(0)
	require.NoError(t, err)
	defer a.Disconnect()
	b, err := NewUDP(0)
	require.NoError(t, err)
	defer b.Disconnect()

	// No IPv4 datagram can carry this much, the kernel answers EMSGSIZE.
	assert.Equal(t, 0, a.SendTo(loopback, b.LocalPort(), make([]byte, 70000)))
	assert.True(t, a.IgnoredSendError())
	assert.False(t, a.IsDisconnected())

	assert.Equal(t, 2, a.SendTo(loopback, b.LocalPort(), []byte("ok")))
	assert.False(t, a.IgnoredSendError())

	buf := make([]byte, 16)
	n, _, _ := b.RecvFrom(buf)
	assert.Equal(t, "ok", string(buf[:n]))
}

func TestUDPIgnorableClassification(t *testing.T) {
	assert.True(t, isIgnorable(unix.EMSGSIZE))
	assert.True(t, isIgnorable(unix.ECONNRESET))
	assert.True(t, isIgnorable(unix.ENOBUFS))
	assert.True(t, isIgnorable(unix.EHOSTUNREACH))
	assert.False(t, isIgnorable(unix.EBADF))
	assert.False(t, isIgnorable(nil))
}

func TestUDPAsyncLater(t *testing.T) {
	a, err := NewUDP(0)
	require.NoError(t, err)
	defer a.Disconnect()

	e, err := NewEvent()
	require.NoError(t, err)
	defer e.Release()
	require.NoError(t, e.JoinSocket(a))
	assert.True(t, a.IsAsync())

	n, _, _ := a.RecvFrom(make([]byte, 16))
	assert.Equal(t, Later, n)
	assert.False(t, a.IsDisconnected())

	b, err := NewUDP(0)
	require.NoError(t, err)
	defer b.Disconnect()
	require.Equal(t, 4, b.SendTo(loopback, a.LocalPort(), []byte("ping")))

	e.Wait(time.Second)
	buf := make([]byte, 16)
	n, _, _ = a.RecvFrom(buf)
	assert.Equal(t, "ping", string(buf[:n]))
}

func TestUDPRejectsTCPOperations(t *testing.T) {
	a, err := NewUDP(0)
	require.NoError(t, err)
	defer a.Disconnect()

	assert.Equal(t, 0, a.Send([]byte("x")))
	assert.Equal(t, 0, a.Recv(make([]byte, 1)))
	_, err = a.Read(make([]byte, 1))
	assert.ErrorIs(t, err, errorx.ErrUnsupportedProtocol)
	_, err = a.Accept(false)
	assert.ErrorIs(t, err, errorx.ErrNotListening)
	assert.Equal(t, 0, a.SendTo(net.ParseIP("::1"), 9, []byte("x")))
	assert.False(t, a.IsDisconnected())
}
