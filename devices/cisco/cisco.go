// Package cisco provides the builtin "cisco_ios" device type: the
// session engine plus IOS-style privilege escalation (enable/disable)
// and pager setup.
package cisco

import (
	"context"
	"time"

	"github.com/netpilot/netpilot"
	"github.com/pkg/errors"
)

func init() {
	netpilot.RegisterDevice("cisco_ios", New)
}

// ArgPassword is the ModeArgs key carrying the enable password.
const ArgPassword = "password"

const exchangeTimeout = 10 * time.Second

var (
	passwordPattern   = []byte(`[Pp]assword:? *`)
	privilegedPattern = []byte(`# ?$`)
	userPattern       = []byte(`> ?$`)
)

var (
	_ netpilot.Terminal           = (*Device)(nil)
	_ netpilot.PrivilegeEscalator = (*Device)(nil)
)

// Device is an IOS-style terminal. It supports the "privilege" mode via
// the enable/disable exchange.
type Device struct {
	*netpilot.Client
	timeout time.Duration
}

// New builds a cisco_ios terminal. Registered under "cisco_ios".
func New(ch netpilot.Channel, opts ...netpilot.ClientOption) (netpilot.Terminal, error) {
	d := &Device{timeout: exchangeTimeout}
	opts = append(opts, netpilot.WithConnectHook(func(ctx context.Context) error {
		return d.disablePaging()
	}))
	d.Client = netpilot.New(ch, opts...)
	return d, nil
}

// disablePaging turns the pager off so long command output never parks
// the session on a --More-- prompt.
func (d *Device) disablePaging() error {
	found, _, err := d.RunCommand([]byte("terminal length 0"), netpilot.CommandOptions{
		Read: netpilot.ReadOptions{ReadTimeout: d.timeout},
	})
	if err != nil {
		return errors.Wrap(err, "cisco: disabling pager")
	}
	if !found {
		return errors.New("cisco: pager disable did not return to a prompt")
	}
	return nil
}

// EnterMode supports "privilege"; anything else falls through to the
// base client's unknown-mode behavior.
func (d *Device) EnterMode(name string, args netpilot.ModeArgs) error {
	if name != netpilot.ModePrivilege {
		return d.Client.EnterMode(name, args)
	}
	ok, err := d.EnterPrivilege(args)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("cisco: device refused privilege escalation")
	}
	return nil
}

// ExitMode supports "privilege"; anything else falls through to the base
// client's unknown-mode behavior.
func (d *Device) ExitMode(name string, args netpilot.ModeArgs) error {
	if name != netpilot.ModePrivilege {
		return d.Client.ExitMode(name, args)
	}
	ok, err := d.ExitPrivilege(args)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("cisco: device did not leave privileged state")
	}
	return nil
}

// EnterPrivilege runs the enable exchange: send "enable", answer the
// password challenge, confirm the privileged prompt.
func (d *Device) EnterPrivilege(args netpilot.ModeArgs) (bool, error) {
	if _, err := d.Write([]byte("enable\n")); err != nil {
		return false, errors.Wrap(err, "cisco: requesting enable")
	}
	challenged, _, err := d.ReadUntilPattern(passwordPattern, netpilot.ReadOptions{
		ReadTimeout: d.timeout,
	})
	if err != nil {
		return false, err
	}
	if !challenged {
		return false, errors.New("cisco: no password challenge after enable")
	}
	if _, err := d.Write(append([]byte(args[ArgPassword]), '\n')); err != nil {
		return false, errors.Wrap(err, "cisco: sending enable password")
	}
	elevated, _, err := d.ReadUntilPattern(privilegedPattern, netpilot.ReadOptions{
		ReadTimeout: d.timeout,
	})
	if err != nil {
		return false, err
	}
	return elevated, nil
}

// ExitPrivilege sends "disable" and confirms the user-level prompt.
func (d *Device) ExitPrivilege(args netpilot.ModeArgs) (bool, error) {
	if _, err := d.Write([]byte("disable\n")); err != nil {
		return false, errors.Wrap(err, "cisco: requesting disable")
	}
	lowered, _, err := d.ReadUntilPattern(userPattern, netpilot.ReadOptions{
		ReadTimeout: d.timeout,
	})
	if err != nil {
		return false, err
	}
	return lowered, nil
}
