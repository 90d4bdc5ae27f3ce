package pipeline

import (
	"regexp"
	"strings"
)

var (
	sgrSeq       = regexp.MustCompile(`\x1b\[[0-9;]*m`)
	sgrAtStart   = regexp.MustCompile(`^\x1b\[[0-9;]*m`)
)

// ApplyANSICarry implements spec §4.2 Step 3. It strips `\r`, prepends
// any carried-over SGR sequence from the previous line if this line
// doesn't already open with one, then rescans the (possibly extended)
// line for SGR sequences to compute the carry for the *next* line: a
// reset (bare `\x1b[0m` or `\x1b[m`) clears the carry, any other SGR
// sequence becomes the new carry, overwriting the previous one.
func ApplyANSICarry(line string, carryIn string) (out string, carryOut string) {
	line = strings.ReplaceAll(line, "\r", "")

	if carryIn != "" && !sgrAtStart.MatchString(line) {
		line = carryIn + line
	}

	carryOut = carryIn
	for _, seq := range sgrSeq.FindAllString(line, -1) {
		if isResetSGR(seq) {
			carryOut = ""
		} else {
			carryOut = seq
		}
	}
	return line, carryOut
}

// isResetSGR reports whether an SGR escape sequence is a reset: the
// parameter list is empty or exactly "0".
func isResetSGR(seq string) bool {
	inner := strings.TrimSuffix(strings.TrimPrefix(seq, "\x1b["), "m")
	return inner == "" || inner == "0"
}
