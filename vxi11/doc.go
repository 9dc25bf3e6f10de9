// Package vxi11 implements the VXI-11 core channel used to reach GPIB instruments
// through LAN gateways (HP E2050A, Agilent E5810A, ...) and LXI instruments.
//
// VXI-11 runs on ONC RPC over TCP. A client first asks the portmapper (port 111) for
// the TCP port of the core program, then opens a link to a device name such as
// "gpib0,22" with create_link. Commands are sent with device_write (the last chunk
// carries the END flag, asserting EOI on the bus) and replies are collected with
// device_read until the END or termination-character reason is reported.
//
// Client side:
//   - Dial / Dialer: open a Link, which implements instrument.Device.
//   - Config: functional options for ports, timeouts and read sizes.
//
// Server side:
//   - Server: a portmapper and a core channel serving the devices of a Backend,
//     used by "dmmscan simulate" and by tests.
//
// Only the core channel is implemented; the abort and interrupt channels are not.
package vxi11
