package rpcserver

import "github.com/prometheus/client_golang/prometheus"

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "requests_total",
		Help: "JSON-RPC requests served, by method, chain id, and JSON-RPC error code (or \"ok\").",
	}, []string{"method", "chainId", "status"})

	responseBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "response_bytes_total",
		Help: "Bytes of JSON-RPC response body written, by method and chain id.",
	}, []string{"method", "chainId"})

	errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "JSON-RPC errors returned, by category.",
	}, []string{"category"})
)

func init() {
	prometheus.MustRegister(requestsTotal, responseBytesTotal, errorsTotal)
}
