// Copyright (c) 2019 Andy Pan
// Copyright (c) 2017 Joshua J Baker
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package sock

import (
	"os"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	errorx "github.com/netkit-go/netkit/pkg/errors"
)

const (
	readEvents      = unix.EPOLLIN | unix.EPOLLPRI | unix.EPOLLRDHUP
	readWriteEvents = readEvents | unix.EPOLLOUT

	waitEventsCap = 64
)

// Make the endianness of bytes compatible with more linux OSs under different processor-architectures,
// according to http://man7.org/linux/man-pages/man2/eventfd.2.html.
var (
	one        uint64 = 1
	eventfdOne        = (*(*[8]byte)(unsafe.Pointer(&one)))[:]
)

// epollEvent is the native flavor of Event: joined sockets are registered with
// an epoll instance that also watches an eventfd Set writes to, so the kernel
// keeps the membership.
type epollEvent struct {
	// waitMu is held shared across each epoll_wait and exclusively while the descriptors are closed.
	waitMu sync.RWMutex

	mu       sync.Mutex
	released bool
	epfd     int
	efd      int
}

func newEpollEvent() (*epollEvent, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, os.NewSyscallError("eventfd", err)
	}
	if err = unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, efd, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(efd)}); err != nil {
		_ = unix.Close(efd)
		_ = unix.Close(epfd)
		return nil, os.NewSyscallError("epoll_ctl add", err)
	}
	return &epollEvent{epfd: epfd, efd: efd}, nil
}

func (e *epollEvent) JoinSocket(s *Sock) error {
	return joinSocket(e, s, func(fd int) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.released {
			return errorx.ErrEventReleased
		}
		return os.NewSyscallError("epoll_ctl add",
			unix.EpollCtl(e.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: readEvents, Fd: int32(fd)}))
	})
}

func (e *epollEvent) Set() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return
	}
	// EAGAIN means the counter is saturated, the event is signaled anyway.
	for _, err := unix.Write(e.efd, eventfdOne); err == unix.EINTR; _, err = unix.Write(e.efd, eventfdOne) {
	}
}

func (e *epollEvent) Wait(timeout time.Duration) bool {
	e.waitMu.RLock()
	defer e.waitMu.RUnlock()

	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return true
	}
	epfd := e.epfd
	e.mu.Unlock()

	var events [waitEventsCap]unix.EpollEvent
	n := epollWait(epfd, events[:], timeout)
	if timeout == 0 && n <= 0 {
		return false
	}
	e.drain()
	return true
}

func epollWait(epfd int, events []unix.EpollEvent, timeout time.Duration) int {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		n, err := unix.EpollWait(epfd, events, toMillis(timeout))
		if err != unix.EINTR {
			return n
		}
		if timeout > 0 {
			if timeout = time.Until(deadline); timeout <= 0 {
				return 0
			}
		}
	}
}

func (e *epollEvent) Release() {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return
	}
	e.released = true
	// Wake the waiters, the counter is never drained again.
	_, _ = unix.Write(e.efd, eventfdOne)
	e.mu.Unlock()

	e.waitMu.Lock()
	_ = unix.Close(e.efd)
	_ = unix.Close(e.epfd)
	e.waitMu.Unlock()
}

func (e *epollEvent) watchWrite(s *Sock, on bool) {
	events := uint32(readEvents)
	if on {
		events = readWriteEvents
	}
	_ = s.withFd(func(fd int) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.released {
			return nil
		}
		return unix.EpollCtl(e.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Events: events, Fd: int32(fd)})
	})
}

func (e *epollEvent) leave(_ *Sock, fd int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released || fd < 0 {
		return
	}
	_ = unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// pollFds hands out the epoll descriptor itself, it polls readable whenever
// epoll_wait would report an event.
func (e *epollEvent) pollFds() []unix.PollFd {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return nil
	}
	return []unix.PollFd{{Fd: int32(e.epfd), Events: unix.POLLIN}}
}

func (e *epollEvent) drain() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return
	}
	var buf [8]byte
	_, _ = unix.Read(e.efd, buf[:])
}

func (e *epollEvent) beginWait() {
	e.waitMu.RLock()
}

func (e *epollEvent) endWait() {
	e.waitMu.RUnlock()
}
