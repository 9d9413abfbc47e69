// Package observe provides observability primitives for upstream fetch
// operations.
//
// It is a pure instrumentation library: no execution, no transport, no
// I/O beyond exporter setup. The resilient client wires an
// Instrumentation around each fetch; everything degrades to no-ops when
// no Observer is configured.
package observe
