// Package telemetry holds the rolling per-channel sample window, the
// fixed-width payload decoder and the synthetic data generator.
package telemetry
