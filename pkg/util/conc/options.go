// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package conc

import (
	"time"

	ants "github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/lk2023060901/zeus-amfx/pkg/log"
)

type poolOption struct {
	// preAlloc 表示是否预先分配 worker 队列。
	preAlloc bool
	// nonBlocking 为 true 时，池满后 Submit 立即失败而不是等待。
	nonBlocking bool
	// expiryDuration 为空闲 worker 的回收周期。
	expiryDuration time.Duration
	// disablePurge 为 true 时不回收空闲 worker。
	disablePurge bool
	// maxBlockingTasks 为阻塞模式下允许排队等待的最大任务数，0 表示不限。
	maxBlockingTasks int
	// panicHandler 为 ants 层兜底的 panic 处理函数。
	panicHandler func(any)

	// preHandler 在每个任务执行前调用。
	preHandler func()
}

func (opt *poolOption) antsOptions() []ants.Option {
	var result []ants.Option
	result = append(result, ants.WithPreAlloc(opt.preAlloc))
	result = append(result, ants.WithNonblocking(opt.nonBlocking))
	result = append(result, ants.WithDisablePurge(opt.disablePurge))
	if opt.maxBlockingTasks > 0 {
		result = append(result, ants.WithMaxBlockingTasks(opt.maxBlockingTasks))
	}
	handler := opt.panicHandler
	if handler == nil {
		handler = func(v any) {
			log.Error("Conc pool panicked", zap.Any("panic", v))
		}
	}
	result = append(result, ants.WithPanicHandler(handler))
	if opt.expiryDuration > 0 {
		result = append(result, ants.WithExpiryDuration(opt.expiryDuration))
	}

	return result
}

type PoolOption func(opt *poolOption)

func defaultPoolOption() *poolOption {
	return &poolOption{}
}

func WithPreAlloc(v bool) PoolOption {
	return func(opt *poolOption) {
		opt.preAlloc = v
	}
}

func WithNonBlocking(v bool) PoolOption {
	return func(opt *poolOption) {
		opt.nonBlocking = v
	}
}

func WithDisablePurge(v bool) PoolOption {
	return func(opt *poolOption) {
		opt.disablePurge = v
	}
}

func WithExpiryDuration(d time.Duration) PoolOption {
	return func(opt *poolOption) {
		opt.expiryDuration = d
	}
}

func WithMaxBlockingTasks(n int) PoolOption {
	return func(opt *poolOption) {
		opt.maxBlockingTasks = n
	}
}

func WithPanicHandler(fn func(any)) PoolOption {
	return func(opt *poolOption) {
		opt.panicHandler = fn
	}
}

func WithPreHandler(fn func()) PoolOption {
	return func(opt *poolOption) {
		opt.preHandler = fn
	}
}
