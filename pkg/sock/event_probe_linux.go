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

package sock

import "github.com/netkit-go/netkit/pkg/logging"

func newEvent() (Event, error) {
	e, err := newEpollEvent()
	if err == nil {
		return e, nil
	}
	logging.Warnf("epoll is unavailable, falling back to a self-pipe event: %v", err)
	return newPipeEvent()
}
