// Package supervisor drives acquisition sessions at a fixed period and recovers
// from failures.
//
// Each generation builds a session.Session, sets it up and then runs sample cycles
// on a drift-compensated Schedule, publishing the remaining slack of every tick as
// <prefix>:LTIME. Any error (or panic) closes the session and, after a hold-off,
// starts a fresh generation. Cancelling the context stops the supervisor cleanly
// at the next suspension point; an in-flight instrument read is never interrupted.
package supervisor
