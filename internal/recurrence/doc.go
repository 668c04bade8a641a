// Package recurrence computes when a work order fires next.
//
// Everything here is pure: "now" always comes from an injected Clock, so the
// same clock reading always yields the same answer. A dead order (no further
// occurrence) is reported as ok == false, never as an error.
package recurrence
