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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errorx "github.com/netkit-go/netkit/pkg/errors"
)

func TestSetCapacity(t *testing.T) {
	ln, err := Listen(0, true)
	require.NoError(t, err)
	defer ln.Disconnect()

	set := NewSet()
	for i := 0; i < MaxSetSize+1; i++ {
		c, err := Connect("127.0.0.1", ln.LocalPort(), time.Second)
		require.NoError(t, err)
		defer c.Disconnect()
		set.Add(c)
	}
	assert.Equal(t, MaxSetSize, set.Len())

	set.Clear()
	assert.Zero(t, set.Len())
}

func TestSetRefusesUnconnectedTCP(t *testing.T) {
	ln, err := Listen(0, true)
	require.NoError(t, err)
	defer ln.Disconnect()

	set := NewSet()
	set.Add(ln)
	set.Add(nil)
	assert.Zero(t, set.Len())

	u, err := NewUDP(0)
	require.NoError(t, err)
	defer u.Disconnect()
	set.Add(u)
	assert.Equal(t, 1, set.Len())
}

func TestSetPollWakesOnData(t *testing.T) {
	client, server := pair(t)

	set := NewSet()
	set.Add(server)
	go func() {
		time.Sleep(50 * time.Millisecond)
		client.SendAll([]byte("x"))
	}()
	start := time.Now()
	set.Poll(5 * time.Second)
	assert.Less(t, time.Since(start), 4*time.Second)
	assert.True(t, server.IsAsync())
	assert.Equal(t, 1, server.Recv(make([]byte, 1)))
	assert.Equal(t, Later, server.Recv(make([]byte, 1)))
}

func TestSetPollSwitchesMembersToAsync(t *testing.T) {
	client, server := pair(t)
	require.False(t, server.IsAsync())

	set := NewSet()
	set.Add(server)
	start := time.Now()
	set.Poll(20 * time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)

	// A timed-out poll leaves the member non-blocking, Recv must not hang.
	assert.True(t, server.IsAsync())
	done := make(chan int, 1)
	go func() {
		done <- server.Recv(make([]byte, 1))
	}()
	select {
	case n := <-done:
		assert.Equal(t, Later, n)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Recv blocked after Poll")
	}

	own := server.joinedOwnEvent()
	require.NotNil(t, own)
	set.Poll(10 * time.Millisecond)
	assert.Same(t, own, server.joinedOwnEvent())

	// The own event goes away with the socket.
	server.Disconnect()
	assert.Nil(t, server.joinedOwnEvent())
	other, _ := pair(t)
	assert.ErrorIs(t, own.JoinSocket(other), errorx.ErrEventReleased)
	assert.True(t, client.IsConnected())
}

func TestSetPollKeepsCallerEvent(t *testing.T) {
	forEachModel(t, func(t *testing.T, e Event) {
		client, server := pair(t)
		require.NoError(t, e.JoinSocket(server))

		set := NewSet()
		set.Add(server)
		go func() {
			time.Sleep(50 * time.Millisecond)
			client.SendAll([]byte("x"))
		}()
		start := time.Now()
		set.Poll(5 * time.Second)
		assert.Less(t, time.Since(start), 4*time.Second)
		assert.Nil(t, server.joinedOwnEvent())
		assert.Equal(t, 1, server.Recv(make([]byte, 1)))
	})
}

func TestSetPollWokenByRelease(t *testing.T) {
	forEachModel(t, func(t *testing.T, e Event) {
		set := NewSet()
		done := make(chan struct{})
		go func() {
			set.Poll(-1, e, e)
			close(done)
		}()
		time.Sleep(50 * time.Millisecond)
		e.Release()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("Poll still blocked after Release")
		}
	})
}

func TestSetPollWakesOnExtraEvent(t *testing.T) {
	forEachModel(t, func(t *testing.T, e Event) {
		_, server := pair(t)

		set := NewSet()
		set.Add(server)
		go func() {
			time.Sleep(50 * time.Millisecond)
			e.Set()
		}()
		start := time.Now()
		set.Poll(5*time.Second, nil, e)
		assert.Less(t, time.Since(start), 4*time.Second)

		// The signal was consumed by the poll.
		start = time.Now()
		set.Poll(100*time.Millisecond, e)
		assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	})
}

func TestSetPollWithoutHandlesSleeps(t *testing.T) {
	set := NewSet()
	start := time.Now()
	set.Poll(100 * time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)

	// A socket closed after joining the set is skipped.
	client, _ := pair(t)
	set.Add(client)
	client.Disconnect()
	start = time.Now()
	set.Poll(50 * time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	// Nothing can end an unbounded wait on an empty set.
	set.Clear()
	set.Poll(-1)
}
