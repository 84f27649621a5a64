// Package argv recognizes the daemon-control flags inside an otherwise opaque
// build command line.
package argv

import "slices"

// Control flags. Every other argument is forwarded to the build engine verbatim.
const (
	FlagDaemon = "--daemon"
	FlagStop   = "--daemon-stop"
	FlagOutput = "--daemon-output"
	FlagSecond = "--daemon-second"
)

var controlFlags = []string{FlagDaemon, FlagStop, FlagOutput, FlagSecond}

// Control reports which control flags an invocation carried.
type Control struct {
	Start  bool
	Stop   bool
	Output bool
	Second bool
}

// Parse scans args for control flags.
func Parse(args []string) Control {
	var c Control
	for _, arg := range args {
		switch arg {
		case FlagDaemon:
			c.Start = true
		case FlagStop:
			c.Stop = true
		case FlagOutput:
			c.Output = true
		case FlagSecond:
			c.Second = true
		}
	}
	return c
}

// IsControl reports whether arg is one of the daemon-control flags.
func IsControl(arg string) bool {
	return slices.Contains(controlFlags, arg)
}

// Strip returns args without control flags. The input is not modified and the
// result is never nil.
func Strip(args []string) []string {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		if !IsControl(arg) {
			out = append(out, arg)
		}
	}
	return out
}

