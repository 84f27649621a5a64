// Package preflight checks the environment a daemon depends on: the build
// engine binary and the runtime, state, and log directories.
//
// The daemon runs the checks at startup and logs failures as warnings; the
// `daemon status` command renders them whether or not a daemon is running.
package preflight
