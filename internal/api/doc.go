// Package api exposes the orchestrator over an operator-facing JSON control
// API: application lifecycle, on-demand pulls, origin map reloads, module
// inspection, and health.
package api
