package netpilot

import (
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ModeArgs carries mode-specific parameters, e.g. a privilege password.
type ModeArgs map[string]string

// ModePrivilege is the conventional name for elevated-privilege mode.
const ModePrivilege = "privilege"

// PrivilegeEscalator is implemented by terminals that support an
// elevated-privilege mode. Callers discover the capability with a type
// assertion rather than probing method sets.
type PrivilegeEscalator interface {
	// EnterPrivilege attempts the escalation and reports whether the
	// device accepted it.
	EnterPrivilege(args ModeArgs) (bool, error)
	// ExitPrivilege leaves the privileged state entered by a prior
	// EnterPrivilege.
	ExitPrivilege(args ModeArgs) (bool, error)
}

// EnterMode on the base Client recognizes no mode at all; device variants
// override it for the capabilities they support.
func (c *Client) EnterMode(name string, args ModeArgs) error {
	c.log.Warn("enter requested for unknown mode", zap.String("mode", name))
	return &UnknownModeError{Name: name}
}

// ExitMode on the base Client recognizes no mode at all.
func (c *Client) ExitMode(name string, args ModeArgs) error {
	c.log.Warn("exit requested for unknown mode", zap.String("mode", name))
	return &UnknownModeError{Name: name}
}

// EnterMode enters the named mode on t and returns the paired exit as a
// guard func. Register it with defer right away: it runs ExitMode with
// the same arguments at most once, on whichever exit path fires first.
func EnterMode(t Terminal, name string, args ModeArgs) (func() error, error) {
	if err := t.EnterMode(name, args); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() error {
		var err error
		once.Do(func() {
			err = t.ExitMode(name, args)
		})
		return err
	}, nil
}

// WithMode runs body inside the named mode, guaranteeing the paired
// ExitMode on every exit path, including a panicking body.
func WithMode(t Terminal, name string, args ModeArgs, body func(Terminal) error) (err error) {
	exit, err := EnterMode(t, name, args)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, exit())
	}()
	return body(t)
}
