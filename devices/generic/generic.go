// Package generic provides the builtin "generic" device type: the plain
// session engine with no device-specific behavior.
package generic

import "github.com/netpilot/netpilot"

func init() {
	netpilot.RegisterDevice("generic", New)
}

// New builds a plain client. Registered under "generic".
func New(ch netpilot.Channel, opts ...netpilot.ClientOption) (netpilot.Terminal, error) {
	return netpilot.New(ch, opts...), nil
}
