// Package publish delivers named values to the outside world.
//
// A Publisher logs every value and hands it to a Sink. Sinks shipped with the package:
//
//   - Memory: last value and a bounded history per name, for tests and the example.
//   - NATS: one message per value on subject <prefix>.<name>, ':' mapped to '.'.
//   - Redis: SET <name> and optionally PUBLISH on a channel.
//   - Prometheus: gauges labelled by name (and index for reading sequences).
//   - Multi: fan-out to several sinks.
//
// Message payloads for NATS and Redis use a Codec: JSON or canonical CBOR.
package publish
