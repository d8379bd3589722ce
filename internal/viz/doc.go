// Package viz renders recorded traces and live dynamics streams in the
// terminal.
//
//   - [PlotSeries]: asciigraph line plot of one trace column
//   - [Watch]: Bubble Tea view of a running dynamics job
//
// # Key Bindings
//
//	q, ctrl+c - quit the live view
package viz
