// Package internaldefs holds the metric names and bucket bounds shared by the
// exporters, so every exporter publishes identical names.
//
// It performs no I/O and imports no exporter package.
package internaldefs
