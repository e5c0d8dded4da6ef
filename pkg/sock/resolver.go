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
	"context"
	"fmt"
	"net"
	"sort"
	"strings"

	errorx "github.com/netkit-go/netkit/pkg/errors"
)

// Resolver looks host names up in both directions.
type Resolver interface {
	// LookupIP returns the addresses of host.
	LookupIP(ctx context.Context, host string) ([]net.IP, error)
	// LookupAddr returns the names mapping to ip.
	LookupAddr(ctx context.Context, ip net.IP) ([]string, error)
}

// DefaultResolver resolves through net.DefaultResolver.
var DefaultResolver Resolver = netResolver{net.DefaultResolver}

type netResolver struct {
	r *net.Resolver
}

func (nr netResolver) LookupIP(ctx context.Context, host string) ([]net.IP, error) {
	addrs, err := nr.r.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, 0, len(addrs))
	for _, addr := range addrs {
		ips = append(ips, addr.IP)
	}
	return ips, nil
}

func (nr netResolver) LookupAddr(ctx context.Context, ip net.IP) ([]string, error) {
	return nr.r.LookupAddr(ctx, ip.String())
}

// resolveHost returns the addresses of host with IPv4 ones first, literal
// addresses are returned as they are.
func resolveHost(opts *Options, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), opts.LookupTimeout)
	defer cancel()
	ips, err := opts.Resolver.LookupIP(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errorx.ErrInvalidNetworkAddress, host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("%w: %s", errorx.ErrInvalidNetworkAddress, host)
	}
	sort.SliceStable(ips, func(i, j int) bool {
		return ips[i].To4() != nil && ips[j].To4() == nil
	})
	return ips, nil
}

// reverseLookup never fails, the numeric address stands in for a missing name.
func reverseLookup(opts *Options, ip net.IP) string {
	ctx, cancel := context.WithTimeout(context.Background(), opts.LookupTimeout)
	defer cancel()
	names, err := opts.Resolver.LookupAddr(ctx, ip)
	if err != nil || len(names) == 0 || names[0] == "" {
		return ip.String()
	}
	return strings.TrimSuffix(names[0], ".")
}
