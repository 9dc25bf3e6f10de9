// Package health serves the /health and /metrics endpoints of dmmscan.
package health
