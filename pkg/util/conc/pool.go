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
	"fmt"

	"github.com/cockroachdb/errors"
	ants "github.com/panjf2000/ants/v2"

	"github.com/lk2023060901/zeus-amfx/pkg/util/hardware"
	"github.com/lk2023060901/zeus-amfx/pkg/util/merr"
)

// Pool 基于 ants 的协程池，提交的任务以 Future 形式返回结果。
// 任务内的 panic 会被转换为错误写入 Future，不会打断调用方。
type Pool[T any] struct {
	inner *ants.Pool
	opt   *poolOption
}

// NewPool 创建容量为 cap 的协程池。
func NewPool[T any](cap int, opts ...PoolOption) *Pool[T] {
	opt := defaultPoolOption()
	for _, o := range opts {
		o(opt)
	}

	pool, err := ants.NewPool(cap, opt.antsOptions()...)
	if err != nil {
		panic(err)
	}

	return &Pool[T]{
		inner: pool,
		opt:   opt,
	}
}

// NewDefaultPool 创建容量为 CPU 数的协程池。
func NewDefaultPool[T any](opts ...PoolOption) *Pool[T] {
	return NewPool[T](hardware.GetCPUNum(), opts...)
}

// Submit 提交任务。池已满且为非阻塞模式时，返回的 Future 立即携带
// merr.ErrServiceTooManyRequests。
func (pool *Pool[T]) Submit(method func() (T, error)) *Future[T] {
	future := newFuture[T]()
	err := pool.inner.Submit(func() {
		var (
			res T
			err error
		)
		defer func() {
			if r := recover(); r != nil {
				var zero T
				future.complete(zero, merr.WrapErrServiceInternal(fmt.Sprint(r), "task panicked"))
			}
		}()
		if pool.opt.preHandler != nil {
			pool.opt.preHandler()
		}
		res, err = method()
		future.complete(res, err)
	})
	if err != nil {
		var zero T
		if errors.Is(err, ants.ErrPoolOverload) {
			future.complete(zero, merr.WrapErrTooManyRequests(int32(pool.Cap()), err.Error()))
		} else {
			future.complete(zero, merr.WrapErrServiceInternal(err.Error(), "submit to pool"))
		}
	}

	return future
}

func (pool *Pool[T]) Cap() int {
	return pool.inner.Cap()
}

func (pool *Pool[T]) Running() int {
	return pool.inner.Running()
}

func (pool *Pool[T]) Free() int {
	return pool.inner.Free()
}

// Release 释放池资源，之后不可再提交任务。
func (pool *Pool[T]) Release() {
	pool.inner.Release()
}
