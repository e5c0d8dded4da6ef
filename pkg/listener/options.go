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

package listener

import (
	"time"

	"github.com/netkit-go/netkit/pkg/logging"
	"github.com/netkit-go/netkit/pkg/pool/goroutine"
	"github.com/netkit-go/netkit/pkg/sock"
)

// DefaultRetryInterval is the pause between two failed attempts to bind.
const DefaultRetryInterval = 2 * time.Second

// Option is a function that will set up option.
type Option func(opts *Options)

func loadOptions(options ...Option) *Options {
	opts := new(Options)
	for _, option := range options {
		option(opts)
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetDefaultLogger()
	}
	return opts
}

// Options are set when the listener is created.
type Options struct {
	// RetryInterval is how long the listener waits before binding again after a failure.
	RetryInterval time.Duration

	// LocalOnly binds the loopback address instead of all interfaces.
	LocalOnly bool

	// IPv6 listens on IPv6 instead of IPv4.
	IPv6 bool

	// HostNameLookup resolves the host name of every accepted peer.
	HostNameLookup bool

	// Logger is the customized logger for logging info, if it is not set,
	// then the default logger of package logging is used.
	Logger logging.Logger

	// WorkerPool runs the connection handlers, the listener creates and
	// releases its own pool if it's nil.
	WorkerPool *goroutine.Pool

	// Resolver is handed to the listening socket for host name lookups.
	Resolver sock.Resolver
}

// WithOptions sets up all options.
func WithOptions(options Options) Option {
	return func(opts *Options) {
		*opts = options
	}
}

// WithRetryInterval sets up the pause between bind attempts.
func WithRetryInterval(interval time.Duration) Option {
	return func(opts *Options) {
		opts.RetryInterval = interval
	}
}

// WithLocalOnly restricts the listener to the loopback address.
func WithLocalOnly(localOnly bool) Option {
	return func(opts *Options) {
		opts.LocalOnly = localOnly
	}
}

// WithIPv6 makes the listener use IPv6.
func WithIPv6(ipv6 bool) Option {
	return func(opts *Options) {
		opts.IPv6 = ipv6
	}
}

// WithHostNameLookup enables the reverse lookup of accepted peers.
func WithHostNameLookup(lookup bool) Option {
	return func(opts *Options) {
		opts.HostNameLookup = lookup
	}
}

// WithLogger sets up a customized logger.
func WithLogger(logger logging.Logger) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithWorkerPool sets up the pool running connection handlers.
func WithWorkerPool(pool *goroutine.Pool) Option {
	return func(opts *Options) {
		opts.WorkerPool = pool
	}
}

// WithResolver sets up the name resolution collaborator.
func WithResolver(resolver sock.Resolver) Option {
	return func(opts *Options) {
		opts.Resolver = resolver
	}
}
