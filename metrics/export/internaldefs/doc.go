// Package internaldefs holds the metric names and bucket bounds shared by the
// Prometheus and OTel exporters, so both expose identical series.
//
// # What this package must NOT do
//
//   - Import any exporter package.
//   - Perform I/O.
package internaldefs
