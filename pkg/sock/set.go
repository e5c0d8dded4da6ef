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
	"time"

	"golang.org/x/sys/unix"

	"github.com/netkit-go/netkit/pkg/logging"
)

const (
	// MaxSetSize is the capacity of a Set.
	MaxSetSize = 60

	maxExtraEvents = 2
)

// Set waits for any of up to MaxSetSize sockets to become ready without
// joining them to an Event. It is meant to be refilled on every wait cycle
// and is not safe for concurrent use.
type Set struct {
	socks []*Sock
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{socks: make([]*Sock, 0, MaxSetSize)}
}

// Add puts s into the set. Unconnected TCP sockets are refused and sockets
// beyond MaxSetSize are dropped, both silently.
func (set *Set) Add(s *Sock) {
	if s == nil || len(set.socks) >= MaxSetSize {
		return
	}
	if s.Kind() == KindTCP && !s.IsConnected() {
		return
	}
	set.socks = append(set.socks, s)
}

// Clear empties the set.
func (set *Set) Clear() {
	for i := range set.socks {
		set.socks[i] = nil
	}
	set.socks = set.socks[:0]
}

// Len returns the number of member sockets.
func (set *Set) Len() int {
	return len(set.socks)
}

// Poll blocks until a member socket is readable (or writable after a blocked
// asynchronous send), one of at most two extra events is signaled, or timeout
// elapses; a negative timeout waits forever. Poll never fails: with nothing
// to wait on it sleeps for timeout, and internal errors are only logged.
//
// A member that is still blocking is switched to asynchronous mode on its
// first Poll, joined to an event of its own that lives until the socket is
// disconnected. After Poll returns, operations on members report Later
// instead of blocking.
func (set *Set) Poll(timeout time.Duration, extra ...Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.Debugf("socket set poll recovered: %v", r)
		}
	}()

	if len(extra) > maxExtraEvents {
		extra = extra[:maxExtraEvents]
	}

	for _, s := range set.socks {
		if s.IsAsync() {
			continue
		}
		if err := s.joinOwnEvent(); err != nil {
			logging.Debugf("socket set failed to register %s: %v", s, err)
		}
	}

	var (
		fds    = make([]unix.PollFd, 0, len(set.socks)+len(extra)+1)
		events = make([]Event, 0, len(set.socks)+len(extra))
		direct = make([]*Sock, 0, len(set.socks))
	)
	defer func() {
		for _, e := range events {
			e.endWait()
		}
		for _, s := range direct {
			s.endPoll()
		}
	}()

	watch := func(e Event) {
		for _, w := range events {
			if w == e {
				return
			}
		}
		e.beginWait()
		events = append(events, e)
		fds = append(fds, e.pollFds()...)
	}
	for _, e := range extra {
		if e != nil {
			watch(e)
		}
	}
	var foreign []*Sock
	for _, s := range set.socks {
		if e := s.joinedOwnEvent(); e != nil {
			watch(e)
		} else {
			foreign = append(foreign, s)
		}
	}
	// Members joined to a caller's event are watched on their descriptor.
	// Descriptors are pinned last so that no socket lock is held while the
	// events gather theirs.
	for _, s := range foreign {
		if containsSock(direct, s) {
			continue
		}
		if pfd, ok := s.beginPoll(); ok {
			direct = append(direct, s)
			fds = append(fds, pfd)
		}
	}

	if len(fds) == 0 {
		// Nothing could ever end an unbounded wait.
		if timeout > 0 {
			time.Sleep(timeout)
		}
		return
	}

	if _, err := poll(fds, timeout); err != nil {
		logging.Debugf("socket set poll failed: %v", err)
	}
	for _, e := range events {
		e.drain()
	}
}

func containsSock(socks []*Sock, s *Sock) bool {
	for _, m := range socks {
		if m == s {
			return true
		}
	}
	return false
}
