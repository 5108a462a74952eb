/*
Package fastbench is an allocation-conscious HTTP/1.1 server for the
plaintext and json micro-benchmark endpoints, with a WebSocket echo mode
and a reverse-proxy mode.

Each connection is parsed by a restartable byte-cursor state machine and
answered straight into a pooled output buffer; the steady-state request path
does not allocate.

Running

	fastbench --mode handler --port 8081
	fastbench -m websocket --websocket-path /ws
	fastbench -m proxy --upstream http://127.0.0.1:9000
	fastbench -m raw -t eventloop --threadcount 8

Configuration is read from defaults, an optional YAML file (-c), FASTBENCH_*
environment variables and flags, in that order.

Modules

  - app: wires a configuration into a running server
  - cmd/fastbench: command line
  - config: configuration and its loading
  - core: listeners, goroutine and event-loop transports, draining
  - core/http: parser, connection state machine, response writer, dispatch
  - core/websocket: handshake and frame echo loop
  - core/proxy: upstream relay
  - core/apps: the responders behind each mode
  - core/framework: net/http baseline with a router and gorilla/websocket
  - core/pools: byte, buffer and connection pools, GC tuning
  - core/poller: epoll and kqueue
  - core/observability: logging and OpenTelemetry metrics
*/
package fastbench
