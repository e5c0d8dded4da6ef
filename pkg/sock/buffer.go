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
	"encoding/binary"

	errorx "github.com/netkit-go/netkit/pkg/errors"
	"github.com/netkit-go/netkit/pkg/pool/bytebuffer"
)

const (
	// DefaultMaxFrameSize caps the payload RecvFrame accepts when no limit is given.
	DefaultMaxFrameSize = 32 << 20

	frameHeaderSize = 4
)

// SendAdd queues b to be written by the next SendNow.
func (s *Sock) SendAdd(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disconnected || s.kind != KindTCP {
		return
	}
	if s.sendBuf == nil {
		s.sendBuf = bytebuffer.Get()
	}
	_, _ = s.sendBuf.Write(b)
}

// SendNow writes everything queued by SendAdd with SendAll.
func (s *Sock) SendNow() bool {
	s.mu.Lock()
	buf := s.sendBuf
	s.sendBuf = nil
	s.mu.Unlock()
	if buf == nil {
		return true
	}
	defer bytebuffer.Put(buf)
	return s.SendAll(buf.B)
}

// SendFrame writes payload behind a 4-byte big-endian length.
func (s *Sock) SendFrame(payload []byte) bool {
	buf := bytebuffer.Get()
	defer bytebuffer.Put(buf)

	var header [frameHeaderSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	_, _ = buf.Write(header[:])
	_, _ = buf.Write(payload)
	return s.SendAll(buf.B)
}

// RecvFrame reads one frame written by SendFrame. A frame announcing more than
// maxSize bytes disconnects the socket, maxSize <= 0 means DefaultMaxFrameSize.
func (s *Sock) RecvFrame(maxSize int) ([]byte, error) {
	if s.isAsync() {
		return nil, errorx.ErrAsyncMode
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}

	var header [frameHeaderSize]byte
	if !s.RecvAll(header[:]) {
		return nil, errorx.ErrSockClosed
	}
	size := binary.BigEndian.Uint32(header[:])
	if uint64(size) > uint64(maxSize) {
		s.opts.Logger.Warnf("frame of %d bytes from %s exceeds the limit of %d", size, s, maxSize)
		s.Disconnect()
		return nil, errorx.ErrFrameTooLarge
	}
	payload := make([]byte, size)
	if !s.RecvAll(payload) {
		return nil, errorx.ErrSockClosed
	}
	return payload, nil
}
