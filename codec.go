package netpilot

import (
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

// Policy controls how a Codec treats input it cannot represent.
type Policy int

const (
	// PolicyReplace substitutes unrepresentable input with the codec's
	// replacement character.
	PolicyReplace Policy = iota
	// PolicyStrict fails on unrepresentable input.
	PolicyStrict
)

// Codec names a character encoding (IANA charset name, resolved through
// x/text) plus the error policy applied at the text/byte boundary. The
// zero value behaves as utf-8 with PolicyReplace.
type Codec struct {
	Name   string
	Policy Policy
}

func (cd Codec) utf8() bool {
	return cd.Name == "" || strings.EqualFold(cd.Name, "utf-8") || strings.EqualFold(cd.Name, "utf8")
}

func (cd Codec) lookup() (encoding.Encoding, error) {
	enc, err := ianaindex.IANA.Encoding(cd.Name)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving codec %q", cd.Name)
	}
	if enc == nil {
		return nil, errors.Errorf("codec %q has no registered implementation", cd.Name)
	}
	return enc, nil
}

// Encode converts text into the codec's byte representation.
func (cd Codec) Encode(s string) ([]byte, error) {
	if cd.utf8() {
		if cd.Policy == PolicyStrict && !utf8.ValidString(s) {
			return nil, errors.Errorf("input is not valid utf-8")
		}
		return []byte(s), nil
	}
	enc, err := cd.lookup()
	if err != nil {
		return nil, err
	}
	encoder := enc.NewEncoder()
	if cd.Policy == PolicyReplace {
		encoder = encoding.ReplaceUnsupported(encoder)
	}
	out, err := encoder.Bytes([]byte(s))
	if err != nil {
		return nil, errors.Wrapf(err, "encoding with codec %q", cd.Name)
	}
	return out, nil
}

// Decode converts bytes in the codec's representation back into text.
func (cd Codec) Decode(b []byte) (string, error) {
	if cd.utf8() {
		if cd.Policy == PolicyStrict && !utf8.Valid(b) {
			return "", errors.Errorf("input is not valid utf-8")
		}
		return string(b), nil
	}
	enc, err := cd.lookup()
	if err != nil {
		return "", err
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", errors.Wrapf(err, "decoding with codec %q", cd.Name)
	}
	return string(out), nil
}

// Encode converts text to bytes using the session codec, or the override
// when one is supplied. The unset Option resolves against the session's
// configured codec at call time.
func (c *Client) Encode(s string, override Option[Codec]) ([]byte, error) {
	return override.Or(c.codec).Encode(s)
}

// Decode converts bytes to text using the session codec, or the override
// when one is supplied.
func (c *Client) Decode(b []byte, override Option[Codec]) (string, error) {
	return override.Or(c.codec).Decode(b)
}

// DecodeFound decodes only the payload slot of a (found, payload) result
// pair, leaving the flag untouched. Convenience for callers consuming
// ReadUntilPattern or RunCommand results as text.
func (c *Client) DecodeFound(found bool, payload []byte, override Option[Codec]) (bool, string, error) {
	s, err := c.Decode(payload, override)
	return found, s, err
}
