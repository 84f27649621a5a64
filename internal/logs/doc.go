// Package logs reads the daemon's log file for `buildd daemon logs`.
//
// Tail returns the last lines with bounded memory; Follow polls from an
// offset and hands every complete new line to a callback until its context
// ends. A rotated file (shorter than the offset) is read again from the start.
package logs
