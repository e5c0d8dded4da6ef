// Copyright (c) 2020 The Gnet Authors. All rights reserved.
// Copyright (c) 2017 Max Riveiro
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

// Package socket wraps the raw descriptor syscalls that netkit sockets are made of:
// creation with close-on-exec, accept, sockopts and sockaddr conversions.
package socket

import (
	"os"

	"golang.org/x/sys/unix"
)

// MaxListenerBacklog is the backlog handed to listen(2), probed once from the OS.
var MaxListenerBacklog = maxListenerBacklog()

// Socket creates a blocking descriptor with the close-on-exec flag set.
func Socket(family, sotype, proto int) (int, error) {
	fd, err := sysSocket(family, sotype, proto)
	if err != nil {
		return -1, os.NewSyscallError("socket", err)
	}
	return fd, nil
}

// Accept accepts the next incoming connection on fd, the returned descriptor
// is blocking and has close-on-exec set. EINTR is retried.
func Accept(fd int) (nfd int, sa unix.Sockaddr, err error) {
	for {
		nfd, sa, err = sysAccept(fd)
		if err != unix.EINTR {
			return
		}
	}
}

// Close closes fd, EINTR is not retried since the descriptor is released regardless.
func Close(fd int) error {
	return os.NewSyscallError("close", unix.Close(fd))
}
