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

// Future 表示提交到 Pool 的任务结果。
type Future[T any] struct {
	ch    chan struct{}
	value T
	err   error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{ch: make(chan struct{})}
}

// Await 阻塞直到任务完成，返回结果与错误。
func (f *Future[T]) Await() (T, error) {
	<-f.ch
	return f.value, f.err
}

// Value 等待并返回结果。
func (f *Future[T]) Value() T {
	<-f.ch
	return f.value
}

// Err 等待并返回错误。
func (f *Future[T]) Err() error {
	<-f.ch
	return f.err
}

// Done 返回任务完成时关闭的 channel。
func (f *Future[T]) Done() <-chan struct{} {
	return f.ch
}

func (f *Future[T]) complete(v T, err error) {
	f.value = v
	f.err = err
	close(f.ch)
}
