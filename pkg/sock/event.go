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
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/netkit-go/netkit/internal/socket"
)

// Event lets one goroutine sleep until Set is called or a joined socket becomes
// readable, or writable after an asynchronous send would have blocked.
//
// A wake-up does not tell which socket is ready, callers retry their
// non-blocking operations after Wait returns.
type Event interface {
	// JoinSocket switches s to non-blocking mode and watches it from now on.
	// Listening sockets, unconnected TCP sockets and sockets that are already
	// asynchronous are left untouched.
	JoinSocket(s *Sock) error
	// Set wakes up the waiter, signals are coalesced.
	Set()
	// Wait blocks until the event is signaled or timeout elapses, a negative
	// timeout waits forever. It returns false only for a zero timeout when
	// nothing was pending and the platform can tell.
	Wait(timeout time.Duration) bool
	// Release closes the descriptors of the event, it is idempotent.
	Release()

	watchWrite(s *Sock, on bool)
	leave(s *Sock, fd int)
	pollFds() []unix.PollFd
	drain()
	// beginWait keeps the event's descriptors open until endWait.
	beginWait()
	endWait()
}

// NewEvent creates an Event backed by the best notification facility the
// platform offers.
func NewEvent() (Event, error) {
	return newEvent()
}

// joinSocket carries out the checks and mode switch shared by every Event,
// register hooks fd into the event's own facility.
func joinSocket(e Event, s *Sock, register func(fd int) error) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	s.mu.Lock()
	skip := s.asyncMode || s.listening || s.disconnected || (s.kind == KindTCP && !s.connected)
	s.mu.Unlock()
	if skip {
		return nil
	}

	err := s.withFd(func(fd int) error {
		if err := socket.SetNonblock(fd, true); err != nil {
			return err
		}
		if err := register(fd); err != nil {
			_ = socket.SetNonblock(fd, false)
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.asyncMode, s.event = true, e
	s.mu.Unlock()
	return nil
}

// poll is poll(2) with a time.Duration timeout that survives EINTR.
func poll(fds []unix.PollFd, timeout time.Duration) (int, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		n, err := unix.Poll(fds, toMillis(timeout))
		if err != unix.EINTR {
			return n, os.NewSyscallError("poll", err)
		}
		if timeout > 0 {
			if timeout = time.Until(deadline); timeout <= 0 {
				return 0, nil
			}
		}
	}
}

// toMillis rounds up so that a short positive timeout does not turn into a
// non-blocking check, negative means forever.
func toMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	ms := (timeout + time.Millisecond - 1) / time.Millisecond
	if ms > 1<<31-1 {
		return 1<<31 - 1
	}
	return int(ms)
}
