package netpilot

import "regexp"

// CSI escape sequences as produced by terminal-oriented devices.
var ansiPattern = regexp.MustCompile(`\x1B\[[0-?]*[ -/]*[@-~]`)

// stripANSI removes ANSI escape sequences from data.
func stripANSI(data []byte) []byte {
	return ansiPattern.ReplaceAll(data, nil)
}

// rfindAny scans content[start:end] from the end and returns the index of
// the first byte found in targets, or -1.
func rfindAny(content []byte, targets []byte, start, end int) int {
	if end > len(content) {
		end = len(content)
	}
	for i := end - 1; i >= start; i-- {
		for _, t := range targets {
			if content[i] == t {
				return i
			}
		}
	}
	return -1
}
