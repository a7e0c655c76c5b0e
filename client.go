package netpilot

import (
	"bytes"
	"context"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ConnState is the connection lifecycle state of a Client.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Defaults applied by New when the corresponding option is not supplied.
var (
	defaultPromptPattern          = []byte(`(?:\$|#|%|>) `)
	defaultReturnSequence         = []byte("\n")
	defaultResponseReturnSequence = []byte("\n\r")
)

const (
	defaultReadInterval = 100 * time.Millisecond
	defaultReadDelay    = time.Second
)

// Terminal is the session-engine surface Dispatch hands back. *Client
// implements it; device variants embed *Client and override the mode
// operations for the capabilities they support.
type Terminal interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Read() ([]byte, error)
	Write(p []byte) (int, error)
	ReadUntilPattern(pattern []byte, opts ReadOptions) (bool, []byte, error)
	FindPrompt(opts FindPromptOptions) ([]byte, bool, error)
	RunCommand(command []byte, opts CommandOptions) (bool, []byte, error)
	EnterMode(name string, args ModeArgs) error
	ExitMode(name string, args ModeArgs) error
}

var _ Terminal = (*Client)(nil)

// Client drives one interactive session over a Channel: it owns the
// buffered pattern-read loop, prompt discovery, and the command execution
// protocol. Not safe for concurrent use; serialization is the caller's
// responsibility.
type Client struct {
	channel Channel
	log     *zap.Logger
	id      string
	state   ConnState

	delayFactor            float64
	codec                  Codec
	returnSequence         []byte
	responseReturnSequence []byte
	prompt                 []byte
	promptPattern          []byte
	promptFlags            string
	normalizeCommands      bool

	onConnect func(ctx context.Context) error
	onCleanup func() error
}

// ClientOption configures a Client at construction time.
type ClientOption func(*Client)

// WithLogger sets the logger. Defaults to a nop logger.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// WithDelayFactor sets the multiplier applied to every sleep inside the
// engine. Values above 1 slow polling down for flaky links.
func WithDelayFactor(f float64) ClientOption {
	return func(c *Client) { c.delayFactor = f }
}

// WithCodec sets the session codec used at the text/byte boundary.
func WithCodec(cd Codec) ClientOption {
	return func(c *Client) { c.codec = cd }
}

// WithReturnSequence sets the bytes appended to outgoing commands and
// written to force a prompt reprint. Defaults to a single line feed.
func WithReturnSequence(seq []byte) ClientOption {
	return func(c *Client) { c.returnSequence = append([]byte(nil), seq...) }
}

// WithResponseReturnSequence sets the byte set the remote side uses to
// delimit lines, used by the prompt-line scanner. Distinct from the
// outgoing return sequence since echoed output conventions differ.
func WithResponseReturnSequence(seq []byte) ClientOption {
	return func(c *Client) { c.responseReturnSequence = append([]byte(nil), seq...) }
}

// WithPrompt pins the session prompt, skipping discovery in RunCommand.
func WithPrompt(prompt []byte) ClientOption {
	return func(c *Client) { c.prompt = append([]byte(nil), prompt...) }
}

// WithPromptPattern sets the prompt regular expression and its inline
// flag letters (e.g. "im").
func WithPromptPattern(pattern []byte, flags string) ClientOption {
	return func(c *Client) {
		c.promptPattern = append([]byte(nil), pattern...)
		c.promptFlags = flags
	}
}

// WithCommandNormalization controls whether RunCommand appends the return
// sequence to commands that lack it. On by default.
func WithCommandNormalization(enabled bool) ClientOption {
	return func(c *Client) { c.normalizeCommands = enabled }
}

// WithConnectHook registers a hook run after the channel connects,
// e.g. to disable paging on network gear.
func WithConnectHook(hook func(ctx context.Context) error) ClientOption {
	return func(c *Client) { c.onConnect = hook }
}

// WithCleanupHook registers a hook run before the channel disconnects.
// Hook failures are logged and never prevent the disconnect itself.
func WithCleanupHook(hook func() error) ClientOption {
	return func(c *Client) { c.onCleanup = hook }
}

// New builds a Client around ch. All text-typed configuration is held as
// bytes from here on; nothing is re-encoded later.
func New(ch Channel, opts ...ClientOption) *Client {
	c := &Client{
		channel:                ch,
		log:                    zap.NewNop(),
		id:                     uuid.NewString(),
		delayFactor:            1.0,
		returnSequence:         defaultReturnSequence,
		responseReturnSequence: defaultResponseReturnSequence,
		promptPattern:          defaultPromptPattern,
		normalizeCommands:      true,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.delayFactor <= 0 {
		c.delayFactor = 1.0
	}
	c.log = c.log.With(
		zap.String("session_id", c.id),
		zap.String("protocol", ch.Protocol()),
	)
	return c
}

// State returns the connection lifecycle state.
func (c *Client) State() ConnState { return c.state }

// Connect establishes the channel, then runs the post-connect hook.
func (c *Client) Connect(ctx context.Context) error {
	c.state = StateConnecting
	c.log.Info("connecting")
	if err := c.channel.Connect(ctx); err != nil {
		c.state = StateDisconnected
		return err
	}
	if c.onConnect != nil {
		if err := c.onConnect(ctx); err != nil {
			c.state = StateDisconnected
			return errors.Wrap(err, "post-connect initialization")
		}
	}
	c.state = StateConnected
	c.log.Info("connected")
	return nil
}

// Disconnect runs the cleanup hook, then always attempts the channel
// disconnect regardless of the hook's outcome. Both failures are logged;
// the combined error is returned for callers that want it, and dropped by
// the Open guard.
func (c *Client) Disconnect() error {
	var errs error
	if c.onCleanup != nil {
		if err := c.onCleanup(); err != nil {
			c.log.Error("cleanup before disconnect failed", zap.Error(err))
			errs = multierr.Append(errs, err)
		}
	}
	if err := c.channel.Disconnect(); err != nil {
		c.log.Error("channel disconnect failed", zap.Error(err))
		errs = multierr.Append(errs, err)
	}
	c.state = StateDisconnected
	return errs
}

// Read passes through to the channel.
func (c *Client) Read() ([]byte, error) {
	return c.channel.Read()
}

// Write passes through to the channel.
func (c *Client) Write(p []byte) (int, error) {
	return c.channel.Write(p)
}

// WriteString encodes s with the session codec (or override) and writes it.
func (c *Client) WriteString(s string, override Option[Codec]) (int, error) {
	p, err := c.Encode(s, override)
	if err != nil {
		return 0, err
	}
	return c.Write(p)
}

// scaled applies the session delay factor to d.
func (c *Client) scaled(d time.Duration) time.Duration {
	return time.Duration(float64(d) * c.delayFactor)
}

// compilePattern builds a byte-oriented regexp from pattern plus inline
// flag letters.
func compilePattern(pattern []byte, flags string) (*regexp.Regexp, error) {
	expr := string(pattern)
	if flags != "" {
		expr = "(?" + flags + ")" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, errors.Wrapf(err, "compiling pattern %q", expr)
	}
	return re, nil
}

// ReadOptions tunes one ReadUntilPattern invocation. Zero values mean
// unbounded (MaxBufferSize, ReadTimeout) or the engine default
// (ReadInterval).
type ReadOptions struct {
	// Flags are inline regexp flag letters applied to the pattern.
	Flags string
	// MaxBufferSize loosely bounds the buffer: the loop stops once the
	// buffer has reached it, but the buffer is never truncated, so it may
	// overshoot by up to one read's worth of bytes.
	MaxBufferSize int
	// ReadTimeout is a cooperative soft deadline checked between polls.
	ReadTimeout time.Duration
	// ReadInterval is the sleep between polls, before delay-factor scaling.
	ReadInterval time.Duration
	// Lookback restricts the pattern search to the trailing N bytes of the
	// buffer. Zero searches the whole buffer.
	Lookback int
}

// ReadUntilPattern polls the channel, appending to a call-scoped buffer,
// until the pattern matches or a bound trips. A missed pattern is a
// normal outcome reported through the flag, not an error: the partial
// buffer is still returned.
func (c *Client) ReadUntilPattern(pattern []byte, opts ReadOptions) (bool, []byte, error) {
	re, err := compilePattern(pattern, opts.Flags)
	if err != nil {
		return false, nil, err
	}
	interval := opts.ReadInterval
	if interval <= 0 {
		interval = defaultReadInterval
	}

	c.log.Debug("searching for pattern", zap.ByteString("pattern", pattern))

	var buffer []byte
	found := false
	start := time.Now()
	for (opts.MaxBufferSize <= 0 || len(buffer) < opts.MaxBufferSize) &&
		(opts.ReadTimeout <= 0 || time.Since(start) < opts.ReadTimeout) {
		chunk, err := c.channel.Read()
		if err != nil {
			return false, buffer, errors.Wrap(err, "reading from channel")
		}
		buffer = append(buffer, chunk...)

		window := buffer
		if opts.Lookback > 0 && opts.Lookback < len(buffer) {
			window = buffer[len(buffer)-opts.Lookback:]
		}
		if re.Match(window) {
			found = true
			break
		}

		time.Sleep(c.scaled(interval))
	}
	return found, buffer, nil
}

// FindPromptOptions tunes one FindPrompt invocation. Nil byte slices and
// the unset Flags option resolve against the session configuration.
type FindPromptOptions struct {
	// ReadDelay is the pause after writing the return sequence, before
	// delay-factor scaling. Zero means one second.
	ReadDelay time.Duration
	// Pattern overrides the session prompt pattern.
	Pattern []byte
	// Flags overrides the session prompt regexp flags.
	Flags Option[string]
	// ReturnSequence overrides the bytes written to force a prompt reprint.
	ReturnSequence []byte
	// ResponseReturnSequence overrides the remote line-terminator set.
	ResponseReturnSequence []byte
	// Read tunes the underlying ReadUntilPattern call.
	Read ReadOptions
}

// FindPrompt nudges the remote side into reprinting its prompt and
// extracts it from the response.
//
// The search is two-phase: first the raw buffer is searched for the
// prompt pattern, then the buffer is scanned backward line by line (line
// boundaries being any byte of the response return sequence) for a line
// the pattern matches in, which is ANSI-stripped, trimmed and returned.
// The phases are deliberately not aligned: a pattern occurrence that only
// matches straddling a line boundary satisfies phase one yet fails phase
// two, and the whole call reports not-found. Callers depend on that
// shape; do not collapse the phases.
func (c *Client) FindPrompt(opts FindPromptOptions) ([]byte, bool, error) {
	pattern := opts.Pattern
	if pattern == nil {
		pattern = c.promptPattern
	}
	flags := opts.Flags.Or(c.promptFlags)
	returnSeq := opts.ReturnSequence
	if returnSeq == nil {
		returnSeq = c.returnSequence
	}
	responseSeq := opts.ResponseReturnSequence
	if responseSeq == nil {
		responseSeq = c.responseReturnSequence
	}
	readDelay := opts.ReadDelay
	if readDelay <= 0 {
		readDelay = defaultReadDelay
	}

	// Force the terminal into reprinting its prompt.
	if _, err := c.Write(returnSeq); err != nil {
		return nil, false, errors.Wrap(err, "writing return sequence")
	}
	time.Sleep(c.scaled(readDelay))

	readOpts := opts.Read
	readOpts.Flags = flags
	found, content, err := c.ReadUntilPattern(pattern, readOpts)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}

	re, err := compilePattern(pattern, flags)
	if err != nil {
		return nil, false, err
	}

	endIndex := len(content)
	for endIndex > 0 {
		// First line of usable content, starting from the end.
		newlineIndex := rfindAny(content, responseSeq, 0, endIndex)
		if newlineIndex == -1 {
			return nil, false, nil
		}
		if re.Match(content[newlineIndex:]) {
			prompt := bytes.TrimSpace(stripANSI(content[newlineIndex:endIndex]))
			c.log.Debug("prompt discovered", zap.ByteString("prompt", prompt))
			return prompt, true, nil
		}
		endIndex = newlineIndex
	}
	return nil, false, nil
}

// normalizeCommand appends the return sequence unless the command already
// ends with it. Idempotent.
func normalizeCommand(command, returnSequence []byte) []byte {
	if bytes.HasSuffix(command, returnSequence) {
		return command
	}
	out := make([]byte, 0, len(command)+len(returnSequence))
	out = append(out, command...)
	return append(out, returnSequence...)
}

// CommandOptions tunes one RunCommand invocation.
type CommandOptions struct {
	// Prompt is the literal prompt terminating the command's output. Nil
	// falls back to the session prompt, then to discovery via FindPrompt.
	Prompt []byte
	// ReturnSequence overrides the terminator appended during
	// normalization.
	ReturnSequence []byte
	// Normalize overrides the session's command-normalization flag.
	Normalize Option[bool]
	// FindPrompt tunes prompt discovery when no prompt is known.
	FindPrompt FindPromptOptions
	// Read tunes the output-collecting ReadUntilPattern call.
	Read ReadOptions
}

// RunCommand writes a command and reads until the literal prompt
// reappears. The returned payload is the output up to the prompt match;
// when the prompt never shows up within the read bounds, the flag is
// false and the payload is the whole partial buffer.
//
// Without a known prompt the command is never sent: discovery runs first
// and its failure surfaces as ErrPromptNotFound.
func (c *Client) RunCommand(command []byte, opts CommandOptions) (bool, []byte, error) {
	prompt := opts.Prompt
	if len(prompt) == 0 {
		prompt = c.prompt
	}
	if len(prompt) == 0 {
		discovered, ok, err := c.FindPrompt(opts.FindPrompt)
		if err != nil {
			return false, nil, err
		}
		if !ok {
			return false, nil, ErrPromptNotFound
		}
		prompt = discovered
	}

	returnSeq := opts.ReturnSequence
	if returnSeq == nil {
		returnSeq = c.returnSequence
	}
	if opts.Normalize.Or(c.normalizeCommands) {
		command = normalizeCommand(command, returnSeq)
	}

	c.log.Debug("running command", zap.ByteString("command", command))
	if _, err := c.Write(command); err != nil {
		return false, nil, errors.Wrap(err, "writing command")
	}

	// Match the specific prompt string literally, not the general prompt
	// pattern.
	literal := regexp.QuoteMeta(string(prompt))
	found, output, err := c.ReadUntilPattern([]byte(literal), opts.Read)
	if err != nil || !found {
		return found, output, err
	}
	if loc := regexp.MustCompile(literal).FindIndex(output); loc != nil {
		output = output[:loc[0]]
	}
	return true, output, nil
}
