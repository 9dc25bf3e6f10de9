// Package session runs one acquisition generation over a fixed, ordered set of
// HP 3458A multimeters.
//
// Setup dials every address in order, sets the I/O timeout, clears the device,
// checks its identity and, once all meters are identified, writes the arm
// configuration. Each Loop triggers every meter, then reads one reading from each
// in the same order and publishes them as <prefix>:I. Close writes the teardown
// configuration to every open meter, continuing past failures, and releases them.
//
// A Session is used for a single generation; after any failure the caller closes
// it and builds a new one.
package session
