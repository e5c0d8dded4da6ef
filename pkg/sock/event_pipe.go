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
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/netkit-go/netkit/internal/socket"
	errorx "github.com/netkit-go/netkit/pkg/errors"
)

// maxPendingSignals bounds the bytes Set may leave unread in the wake pipe.
const maxPendingSignals = 100

var wakeByte = []byte{0}

// pipeEvent is the self-pipe flavor of Event: Wait polls every member socket
// together with the read end of a pipe that Set writes to.
type pipeEvent struct {
	// waitMu is held shared across each poll and exclusively while the pipe is closed.
	waitMu sync.RWMutex

	mu       sync.Mutex
	members  []*Sock
	pending  int
	released bool
	rfd, wfd int
}

func newPipeEvent() (*pipeEvent, error) {
	var p [2]int
	syscall.ForkLock.RLock()
	err := unix.Pipe(p[:])
	if err == nil {
		unix.CloseOnExec(p[0])
		unix.CloseOnExec(p[1])
	}
	syscall.ForkLock.RUnlock()
	if err != nil {
		return nil, os.NewSyscallError("pipe", err)
	}
	for _, fd := range p {
		if err = socket.SetNonblock(fd, true); err != nil {
			_ = unix.Close(p[0])
			_ = unix.Close(p[1])
			return nil, err
		}
	}
	return &pipeEvent{rfd: p[0], wfd: p[1]}, nil
}

func (e *pipeEvent) JoinSocket(s *Sock) error {
	e.mu.Lock()
	released := e.released
	e.mu.Unlock()
	if released {
		return errorx.ErrEventReleased
	}
	return joinSocket(e, s, func(int) error {
		e.mu.Lock()
		e.members = append(e.members, s)
		e.mu.Unlock()
		// A wait in progress must pick the new member up.
		e.Set()
		return nil
	})
}

func (e *pipeEvent) Set() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released || e.pending >= maxPendingSignals {
		return
	}
	if _, err := unix.Write(e.wfd, wakeByte); err == nil {
		e.pending++
	}
}

func (e *pipeEvent) Wait(timeout time.Duration) bool {
	e.waitMu.RLock()
	defer e.waitMu.RUnlock()

	fds := e.pollFds()
	if len(fds) == 0 {
		return true
	}
	_, _ = poll(fds, timeout)
	e.drain()
	return true
}

func (e *pipeEvent) Release() {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return
	}
	e.released = true
	e.members = nil
	// Wake the waiters, drain is a no-op from now on so the pipe stays readable.
	_, _ = unix.Write(e.wfd, wakeByte)
	e.mu.Unlock()

	e.waitMu.Lock()
	_ = unix.Close(e.rfd)
	_ = unix.Close(e.wfd)
	e.waitMu.Unlock()
}

func (e *pipeEvent) watchWrite(_ *Sock, on bool) {
	// Writability is read from the member on every wait, a wait already in
	// progress has to rebuild its list.
	if on {
		e.Set()
	}
}

func (e *pipeEvent) leave(s *Sock, _ int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, m := range e.members {
		if m == s {
			e.members = append(e.members[:i], e.members[i+1:]...)
			return
		}
	}
}

// pollFds lists the member sockets and the read end of the pipe.
func (e *pipeEvent) pollFds() []unix.PollFd {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return nil
	}
	members := make([]*Sock, len(e.members))
	copy(members, e.members)
	rfd := e.rfd
	e.mu.Unlock()

	fds := make([]unix.PollFd, 0, len(members)+1)
	for _, s := range members {
		if pfd, ok := s.pollFd(); ok {
			fds = append(fds, pfd)
		}
	}
	return append(fds, unix.PollFd{Fd: int32(rfd), Events: unix.POLLIN})
}

func (e *pipeEvent) drain() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return
	}
	var buf [maxPendingSignals + 1]byte
	for {
		if n, err := unix.Read(e.rfd, buf[:]); n <= 0 || err != nil {
			break
		}
	}
	e.pending = 0
}

func (e *pipeEvent) beginWait() {
	e.waitMu.RLock()
}

func (e *pipeEvent) endWait() {
	e.waitMu.RUnlock()
}
