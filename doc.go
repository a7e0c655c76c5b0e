// Package netpilot drives interactive command-line sessions on remote
// devices that expose no structured API. A Client wraps an abstract byte
// Channel, discovers the device's shell prompt heuristically, and runs
// commands by writing them and reading until the prompt reappears.
//
// Concrete transports live in the channels/ subpackages and register
// themselves under a protocol name; device-specific behavior such as
// privilege escalation lives in the devices/ subpackages and registers
// under a device-type name. Dispatch resolves both names and wires a
// ready-to-connect Terminal:
//
//	term, err := netpilot.Dispatch("generic", "ssh", netpilot.DispatchOptions{
//		ChannelOptions: netpilot.ChannelOptions{Host: "10.0.0.1", Port: 22, Username: "ops"},
//	})
//
// Importing github.com/netpilot/netpilot/plugins pulls in every builtin
// channel and device.
//
// A Client is a synchronous, single-caller engine: every operation runs to
// completion on the calling goroutine, and timeouts inside the read loop
// are cooperative soft deadlines checked between polls. Callers that share
// one Client across goroutines must serialize access themselves.
package netpilot
