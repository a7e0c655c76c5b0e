// Package plugins registers every builtin channel and device with the
// netpilot registries. Import it for its side effects:
//
//	import _ "github.com/netpilot/netpilot/plugins"
package plugins

import (
	_ "github.com/netpilot/netpilot/channels/local"
	_ "github.com/netpilot/netpilot/channels/ssh"
	_ "github.com/netpilot/netpilot/channels/telnet"
	_ "github.com/netpilot/netpilot/devices/cisco"
	_ "github.com/netpilot/netpilot/devices/generic"
)
