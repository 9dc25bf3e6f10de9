// Package sim simulates HP 3458A digital multimeters on a GPIB bus.
//
// An Instrument understands the subset of the 3458A command language used by the
// poller: END, ID?, TARM, TRIG, NRDGS, INBUF, MEM, EXTOUT and ERR?. Commands are
// separated by ';' and replies go through an output FIFO that Read drains, so the
// arm-then-read protocol behaves like the real meter: a "TARM SGL" queues NRDGS
// readings, and a Read with an empty FIFO blocks until the timeout elapses.
//
// A Bus groups instruments by device name. It implements instrument.Dialer for
// in-process polling and vxi11.Backend for serving the instruments over VXI-11.
package sim
