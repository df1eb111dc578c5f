// Package orchestrator is the control-plane core of the streaming server. It
// owns the application registry, the provider/publisher module registry, and
// the origin map, and coordinates them to create and tear down application
// contexts and to satisfy on-demand stream pull requests against configured
// upstream origins.
package orchestrator
