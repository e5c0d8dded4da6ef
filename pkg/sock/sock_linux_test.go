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

package sock

import (
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/netkit-go/netkit/internal/socket"
	errorx "github.com/netkit-go/netkit/pkg/errors"
)

func TestConnectTimeout(t *testing.T) {
	fd, err := socket.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	require.NoError(t, err)
	defer unix.Close(fd) //nolint:errcheck
	require.NoError(t, unix.Bind(fd, &unix.SockaddrInet4{Addr: [4]byte{127, 0, 0, 1}}))
	require.NoError(t, unix.Listen(fd, 0))
	_, port := socket.LocalAddr(fd)
	require.NotZero(t, port)

	// Nobody accepts: once the queue is full the kernel drops further SYNs
	// and the handshake never completes.
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	var conns []net.Conn
	defer func() {
		for _, c := range conns {
			_ = c.Close()
		}
	}()
	for i := 0; i < 8; i++ {
		c, err := net.DialTimeout("tcp4", addr, 200*time.Millisecond)
		if err != nil {
			break
		}
		conns = append(conns, c)
	}

	start := time.Now()
	_, err = Connect("127.0.0.1", port, 50*time.Millisecond)
	require.ErrorIs(t, err, errorx.ErrConnectTimeout)
	assert.NotErrorIs(t, err, errorx.ErrConnectFailed)
	assert.Less(t, time.Since(start), time.Second)
}

func TestUDPRecvFromWokenByDisconnect(t *testing.T) {
	u, err := NewUDP(0)
	require.NoError(t, err)

	type result struct {
		n  int
		ip net.IP
	}
	done := make(chan result, 1)
	go func() {
		n, ip, _ := u.RecvFrom(make([]byte, 16))
		done <- result{n, ip}
	}()
	time.Sleep(50 * time.Millisecond)
	u.Disconnect()

	select {
	case r := <-done:
		assert.Zero(t, r.n)
		assert.Nil(t, r.ip)
	case <-time.After(2 * time.Second):
		t.Fatal("RecvFrom still blocked after Disconnect")
	}
	assert.Zero(t, u.Stats().RecvOps)
}

func TestAcceptRacingDisconnectIsCanceled(t *testing.T) {
	for i := 0; i < 50; i++ {
		ln, err := Listen(0, true)
		require.NoError(t, err)

		var wg sync.WaitGroup
		errs := make(chan error, 4)
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := ln.Accept(false)
				errs <- err
			}()
		}
		ln.Disconnect()
		wg.Wait()
		close(errs)
		for err := range errs {
			// Either the accept was woken by the loopback connection or it
			// started after Disconnect, never a plain ErrNotListening.
			assert.ErrorIs(t, err, errorx.ErrAcceptCanceled)
		}
	}
}
