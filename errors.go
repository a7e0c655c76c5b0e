package netpilot

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrPromptNotFound is returned by RunCommand when no prompt was supplied
// and discovery failed. The command is never written in that case.
var ErrPromptNotFound = errors.New("failed to find prompt")

// DispatchError reports an identifier Dispatch could not resolve. Kind is
// either "device type" or "protocol".
type DispatchError struct {
	Kind string
	Name string
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("unknown %s: %q", e.Kind, e.Name)
}

// UnknownModeError reports a mode name no installed capability recognizes.
type UnknownModeError struct {
	Name string
}

func (e *UnknownModeError) Error() string {
	return fmt.Sprintf("unknown mode: %q", e.Name)
}
