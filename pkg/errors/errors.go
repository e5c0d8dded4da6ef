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

// Package errors defines common errors for netkit.
package errors

import "errors"

var (
	// ErrConnectTimeout occurs when a TCP connect does not complete within the given timeout.
	ErrConnectTimeout = errors.New("netkit: connect timed out")
	// ErrConnectFailed occurs when none of the resolved addresses accepted the connection.
	ErrConnectFailed = errors.New("netkit: connect failed")
	// ErrLater is reported by non-blocking operations when the OS would block.
	ErrLater = errors.New("netkit: operation would block, try later")
	// ErrNotListening occurs when calling Accept on a socket that is not listening.
	ErrNotListening = errors.New("netkit: socket is not listening")
	// ErrAcceptCanceled occurs when a listening socket is torn down while accepting.
	ErrAcceptCanceled = errors.New("netkit: accept canceled")
	// ErrAcceptSocket occurs when the accept syscall does not yield a new connection properly.
	ErrAcceptSocket = errors.New("netkit: accept a new connection error")
	// ErrSockClosed occurs when operating on a socket that has been disconnected.
	ErrSockClosed = errors.New("netkit: socket is closed")
	// ErrAsyncMode occurs when calling a blocking-only operation on an asynchronous socket.
	ErrAsyncMode = errors.New("netkit: operation is not allowed in async mode")
	// ErrFrameTooLarge occurs when a received frame announces a size above the accepted limit.
	ErrFrameTooLarge = errors.New("netkit: frame is too large")
	// ErrNilHandler occurs when a listener is created without a connection handler.
	ErrNilHandler = errors.New("netkit: nil handler is not allowed")
	// ErrUnsupportedProtocol occurs when the operation does not apply to the socket kind.
	ErrUnsupportedProtocol = errors.New("netkit: operation is not supported by this socket kind")
	// ErrInvalidNetworkAddress occurs when the network address is invalid.
	ErrInvalidNetworkAddress = errors.New("netkit: invalid network address")
	// ErrInvalidPort occurs when a port number is out of the 0-65535 range.
	ErrInvalidPort = errors.New("netkit: invalid port number")
	// ErrEventReleased occurs when joining a socket to a readiness event that has been released.
	ErrEventReleased = errors.New("netkit: readiness event is released")
)
