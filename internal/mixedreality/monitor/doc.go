// Package monitor exposes a running session for inspection: debug pages
// on a tsweb debug mux, an event chart, a top-down plane map, a SQL
// console over the recording, and gRPC health reporting.
package monitor
