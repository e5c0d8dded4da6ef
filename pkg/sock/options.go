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

	"github.com/netkit-go/netkit/pkg/logging"
)

// DefaultLookupTimeout bounds every forward and reverse name lookup.
const DefaultLookupTimeout = 5 * time.Second

// Option is a function that will set up option.
type Option func(opts *Options)

func loadOptions(options ...Option) *Options {
	opts := new(Options)
	for _, option := range options {
		option(opts)
	}
	if opts.Resolver == nil {
		opts.Resolver = DefaultResolver
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetDefaultLogger()
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = DefaultLookupTimeout
	}
	return opts
}

// Options are shared by a socket and every socket it accepts.
type Options struct {
	// Resolver turns host names into addresses and back, net.DefaultResolver is used if it's nil.
	Resolver Resolver

	// Logger is the customized logger for logging info, if it is not set,
	// then the default logger of package logging is used.
	Logger logging.Logger

	// LookupTimeout bounds host name lookups.
	LookupTimeout time.Duration
}

// WithOptions sets up all options.
func WithOptions(options Options) Option {
	return func(opts *Options) {
		*opts = options
	}
}

// WithResolver sets up the name resolution collaborator.
func WithResolver(resolver Resolver) Option {
	return func(opts *Options) {
		opts.Resolver = resolver
	}
}

// WithLogger sets up a customized logger.
func WithLogger(logger logging.Logger) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithLookupTimeout sets up the timeout of host name lookups.
func WithLookupTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.LookupTimeout = timeout
	}
}
