package netpilot

import (
	"sync"

	"github.com/pkg/errors"
)

// TerminalFactory builds a session engine around an already-constructed
// channel. Device packages register one under their device-type name.
type TerminalFactory func(ch Channel, opts ...ClientOption) (Terminal, error)

// ChannelFactory builds a channel for a protocol. Channel packages
// register one under their protocol name.
type ChannelFactory func(protocol string, opts ChannelOptions) (Channel, error)

var (
	registryMu       sync.RWMutex
	deviceRegistry   = make(map[string]TerminalFactory)
	protocolRegistry = make(map[string]ChannelFactory)
)

// RegisterDevice installs a device-type factory in the builtin registry.
// Intended to be called from a device package's init; a duplicate or
// empty name is a programmer error and panics.
func RegisterDevice(name string, factory TerminalFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if name == "" {
		panic("device type name is required")
	}
	if factory == nil {
		panic("device factory is required")
	}
	if _, dup := deviceRegistry[name]; dup {
		panic("device type already registered: " + name)
	}
	deviceRegistry[name] = factory
}

// RegisterProtocol installs a protocol factory in the builtin registry.
// Same contract as RegisterDevice.
func RegisterProtocol(name string, factory ChannelFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if name == "" {
		panic("protocol name is required")
	}
	if factory == nil {
		panic("channel factory is required")
	}
	if _, dup := protocolRegistry[name]; dup {
		panic("protocol already registered: " + name)
	}
	protocolRegistry[name] = factory
}

func builtinDevice(name string) (TerminalFactory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := deviceRegistry[name]
	return f, ok
}

func builtinProtocol(name string) (ChannelFactory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := protocolRegistry[name]
	return f, ok
}

// DispatchOptions carries overrides and construction parameters for one
// Dispatch call. Override map values are either a factory of the matching
// kind or a string naming another builtin registry entry; overrides
// always win over builtins.
type DispatchOptions struct {
	DeviceOverrides   map[string]any
	ProtocolOverrides map[string]any
	ChannelOptions    ChannelOptions
	ClientOptions     []ClientOption
}

// resolveDeviceRef is the single point that turns an override value into
// a device factory.
func resolveDeviceRef(v any) (TerminalFactory, error) {
	switch ref := v.(type) {
	case TerminalFactory:
		return ref, nil
	case func(Channel, ...ClientOption) (Terminal, error):
		return ref, nil
	case string:
		if f, ok := builtinDevice(ref); ok {
			return f, nil
		}
		return nil, &DispatchError{Kind: "device type", Name: ref}
	default:
		return nil, errors.Errorf("unsupported device override of type %T", v)
	}
}

// resolveProtocolRef is the single point that turns an override value
// into a channel factory.
func resolveProtocolRef(v any) (ChannelFactory, error) {
	switch ref := v.(type) {
	case ChannelFactory:
		return ref, nil
	case func(string, ChannelOptions) (Channel, error):
		return ref, nil
	case string:
		if f, ok := builtinProtocol(ref); ok {
			return f, nil
		}
		return nil, &DispatchError{Kind: "protocol", Name: ref}
	default:
		return nil, errors.Errorf("unsupported protocol override of type %T", v)
	}
}

// Dispatch resolves a device type and a protocol to their factories,
// builds the channel, and wraps it in the device's session engine. The
// result is constructed but not yet connected.
//
// Device and protocol are resolved independently, device first, so an
// unknown protocol is reported by name even when the device type
// resolved.
func Dispatch(deviceType, protocol string, opts DispatchOptions) (Terminal, error) {
	var terminalFactory TerminalFactory
	if ref, ok := opts.DeviceOverrides[deviceType]; ok {
		f, err := resolveDeviceRef(ref)
		if err != nil {
			return nil, err
		}
		terminalFactory = f
	} else if f, ok := builtinDevice(deviceType); ok {
		terminalFactory = f
	} else {
		return nil, &DispatchError{Kind: "device type", Name: deviceType}
	}

	var channelFactory ChannelFactory
	if ref, ok := opts.ProtocolOverrides[protocol]; ok {
		f, err := resolveProtocolRef(ref)
		if err != nil {
			return nil, err
		}
		channelFactory = f
	} else if f, ok := builtinProtocol(protocol); ok {
		channelFactory = f
	} else {
		return nil, &DispatchError{Kind: "protocol", Name: protocol}
	}

	ch, err := channelFactory(protocol, opts.ChannelOptions)
	if err != nil {
		return nil, errors.Wrapf(err, "constructing %q channel", protocol)
	}
	return terminalFactory(ch, opts.ClientOptions...)
}
