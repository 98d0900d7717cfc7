// Package proxy is the network-interception proxy that sits between the
// application and the network.
//
// A Worker owns one cache version and moves through the lifecycle
// installing → waiting → active, or redundant once a newer version takes
// over. All lifecycle steps, intercepted requests and control messages are
// delivered to Worker.Handle as Events. The Runtime feeds those events from
// a single goroutine, so worker state is never touched concurrently.
//
// Serving policy for intercepted requests:
//   - Non-GET/HEAD requests and requests matching a bypass rule go straight
//     to the network and are never cached.
//   - Asset paths are served cache-first from the static partition.
//   - Everything else is network-first: successful responses are mirrored
//     into the dynamic partition; on network failure the cached copy is
//     served, then the shell document for navigations, then a synthetic 503.
package proxy
