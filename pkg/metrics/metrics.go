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
package metrics

import (
	// #nosec
	_ "net/http/pprof"

	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// zeusNamespace 是当前项目所有 Prometheus 指标使用的命名空间。
	zeusNamespace = "zeus"
	amfxSubsystem = "amfx"

	// 以下为当前使用的通用标签名。
	directionLabelName = "direction"
	resultLabelName    = "result"
	errCodeLabelName   = "err_code"
	targetLabelName    = "target"
	statusLabelName    = "status"

	DirectionDecode = "decode"
	DirectionEncode = "encode"

	SuccessLabel = "ok"
	FailLabel    = "fail"
)

var (
	// buckets 为耗时直方图的桶划分，单位为毫秒。
	// 实际桶分布为：
	// [0.0625 0.125 0.25 0.5 1 2 4 8 16 32 64 128 256 512 1024 2048]
	buckets = prometheus.ExponentialBuckets(0.0625, 2, 16)

	// sizeBuckets 为消息大小的桶划分，单位为字节。
	sizeBuckets = prometheus.ExponentialBuckets(64, 4, 10)

	// CodecTotal 统计编解码次数，失败时 err_code 记录 merr 错误码。
	CodecTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: zeusNamespace,
			Subsystem: amfxSubsystem,
			Name:      "codec_total",
			Help:      "count of AMFX decode and encode operations",
		}, []string{directionLabelName, resultLabelName, errCodeLabelName})

	CodecLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: zeusNamespace,
			Subsystem: amfxSubsystem,
			Name:      "codec_latency",
			Help:      "latency of AMFX decode and encode operations in milliseconds",
			Buckets:   buckets,
		}, []string{directionLabelName})

	MessageBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: zeusNamespace,
			Subsystem: amfxSubsystem,
			Name:      "message_bytes",
			Help:      "size of AMFX documents before compression",
			Buckets:   sizeBuckets,
		}, []string{directionLabelName})

	GatewayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: zeusNamespace,
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "count of channel requests by HTTP status",
		}, []string{statusLabelName})

	BodyDispatch = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: zeusNamespace,
			Subsystem: "gateway",
			Name:      "body_dispatch_total",
			Help:      "count of message bodies dispatched to services",
		}, []string{targetLabelName, resultLabelName})

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: zeusNamespace,
			Subsystem: "gateway",
			Name:      "active_sessions",
			Help:      "number of live client sessions",
		})

	metricRegisterer prometheus.Registerer
	metricGatherer   prometheus.Gatherer
)

// GetRegisterer 返回全局 Prometheus Registerer。
// 如果尚未通过 Register 显式设置，则返回 prometheus.DefaultRegisterer。
func GetRegisterer() prometheus.Registerer {
	if metricRegisterer == nil {
		return prometheus.DefaultRegisterer
	}
	return metricRegisterer
}

// Register 注册当前定义的所有指标。
// 通常在进程启动时调用一次。
func Register(r *prometheus.Registry) {
	r.MustRegister(CodecTotal)
	r.MustRegister(CodecLatency)
	r.MustRegister(MessageBytes)
	r.MustRegister(GatewayRequests)
	r.MustRegister(BodyDispatch)
	r.MustRegister(ActiveSessions)
	metricRegisterer = r
	metricGatherer = r
}

// Handler 返回暴露已注册指标的 HTTP Handler。
func Handler() http.Handler {
	if metricGatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(metricGatherer, promhttp.HandlerOpts{})
}
