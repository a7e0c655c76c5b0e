package netpilot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	// Builtin entries for the dispatch tests; the real builtins live in
	// the channels/ and devices/ subpackages.
	RegisterDevice("generic", func(ch Channel, opts ...ClientOption) (Terminal, error) {
		return New(ch, opts...), nil
	})
	RegisterProtocol("scripted", func(protocol string, opts ChannelOptions) (Channel, error) {
		return &scriptedChannel{protocol: protocol}, nil
	})
}

func TestDispatchUnknownProtocol(t *testing.T) {
	_, err := Dispatch("generic", "doesnotexist", DispatchOptions{})

	var derr *DispatchError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "protocol", derr.Kind)
	assert.Equal(t, "doesnotexist", derr.Name)
	assert.Contains(t, err.Error(), `"doesnotexist"`)
}

func TestDispatchDeviceCheckedBeforeProtocol(t *testing.T) {
	_, err := Dispatch("nosuchdevice", "doesnotexist", DispatchOptions{})

	var derr *DispatchError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "device type", derr.Kind)
	assert.Equal(t, "nosuchdevice", derr.Name)
}

func TestDispatchProtocolOverride(t *testing.T) {
	built := false
	factory := ChannelFactory(func(protocol string, opts ChannelOptions) (Channel, error) {
		built = true
		return &scriptedChannel{protocol: protocol}, nil
	})

	term, err := Dispatch("generic", "doesnotexist", DispatchOptions{
		ProtocolOverrides: map[string]any{"doesnotexist": factory},
	})

	require.NoError(t, err)
	require.NotNil(t, term)
	assert.True(t, built, "override factory must be used without consulting builtins")
}

func TestDispatchOverrideWinsOverBuiltin(t *testing.T) {
	used := false
	term, err := Dispatch("generic", "scripted", DispatchOptions{
		ProtocolOverrides: map[string]any{
			"scripted": ChannelFactory(func(protocol string, opts ChannelOptions) (Channel, error) {
				used = true
				return &scriptedChannel{protocol: protocol}, nil
			}),
		},
	})

	require.NoError(t, err)
	require.NotNil(t, term)
	assert.True(t, used)
}

func TestDispatchAliasOverride(t *testing.T) {
	// A string override names another builtin registry entry.
	term, err := Dispatch("custom", "scripted", DispatchOptions{
		DeviceOverrides: map[string]any{"custom": "generic"},
	})

	require.NoError(t, err)
	require.NotNil(t, term)
}

func TestDispatchDanglingAlias(t *testing.T) {
	_, err := Dispatch("custom", "scripted", DispatchOptions{
		DeviceOverrides: map[string]any{"custom": "neverregistered"},
	})

	var derr *DispatchError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "neverregistered", derr.Name)
}

func TestDispatchForwardsClientOptions(t *testing.T) {
	term, err := Dispatch("generic", "scripted", DispatchOptions{
		ClientOptions: []ClientOption{WithPrompt([]byte("custom$"))},
	})
	require.NoError(t, err)

	client, ok := term.(*Client)
	require.True(t, ok)
	assert.Equal(t, []byte("custom$"), client.prompt)
}

func TestRegisterDuplicatePanics(t *testing.T) {
	assert.Panics(t, func() {
		RegisterDevice("generic", func(ch Channel, opts ...ClientOption) (Terminal, error) {
			return New(ch, opts...), nil
		})
	})
}
