// Package server provides the HTTP surface of a libsync worker.
//
// # Routing
//
// [BasicRouter] wraps [http.ServeMux] with a middleware stack. [Middleware] is applied so the first one
// registered is the outermost. [Handler] lets a type own its route patterns, including method-qualified
// ServeMux patterns such as "GET /jobs/{id}".
//
// [NewRouter] mounts:
//
//	GET /healthz      store reachability ([HealthHandler])
//	GET /metrics      Prometheus collectors from internal/metrics
//	GET /jobs/{id}    sync job state, percent and stage message ([JobsHandler])
//	GET /callback     OAuth authorization code callback ([OAuthHandler]), when configured
//
// # OAuth Callback
//
// [OAuthHandler] validates the state parameter, exchanges the code for tokens and delivers a single
// [OAuthResult] on its result channel. It is the credential supplier for `libsync auth`; the worker never
// performs the handshake itself.
//
// # Supervision
//
// [Service] adapts an [http.Server] to suture's Serve(ctx) contract so the metrics endpoint restarts
// alongside the sync workers.
package server
