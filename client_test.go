package netpilot

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedChannel serves canned reads in order and records every write.
// Once the script is exhausted, reads return empty results, mimicking a
// quiet remote.
type scriptedChannel struct {
	protocol      string
	script        [][]byte
	pos           int
	writes        [][]byte
	connectErr    error
	disconnectErr error
	connects      int
	disconnects   int
}

func (s *scriptedChannel) Connect(ctx context.Context) error {
	s.connects++
	return s.connectErr
}

func (s *scriptedChannel) Disconnect() error {
	s.disconnects++
	return s.disconnectErr
}

func (s *scriptedChannel) Read() ([]byte, error) {
	if s.pos >= len(s.script) {
		return nil, nil
	}
	chunk := s.script[s.pos]
	s.pos++
	return chunk, nil
}

func (s *scriptedChannel) Write(p []byte) (int, error) {
	s.writes = append(s.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (s *scriptedChannel) Protocol() string {
	if s.protocol == "" {
		return "scripted"
	}
	return s.protocol
}

// fastRead keeps poll sleeps negligible in tests.
var fastRead = ReadOptions{ReadInterval: time.Microsecond}

func fastClient(ch Channel, opts ...ClientOption) *Client {
	return New(ch, opts...)
}

func TestReadUntilPatternMaxBufferLooseBound(t *testing.T) {
	chunk := []byte("abcdefgh")
	ch := &scriptedChannel{script: [][]byte{chunk, chunk, chunk, chunk}}
	c := fastClient(ch)

	opts := fastRead
	opts.MaxBufferSize = 20
	found, buf, err := c.ReadUntilPattern([]byte("ZZZ"), opts)

	require.NoError(t, err)
	assert.False(t, found)
	// The loop stops once the buffer reaches the bound but never trims,
	// so the result overshoots by at most one read.
	assert.GreaterOrEqual(t, len(buf), opts.MaxBufferSize)
	assert.LessOrEqual(t, len(buf), opts.MaxBufferSize+len(chunk))
}

func TestReadUntilPatternTimeout(t *testing.T) {
	ch := &scriptedChannel{} // never produces data
	c := fastClient(ch)

	opts := fastRead
	opts.ReadTimeout = 50 * time.Millisecond
	start := time.Now()
	found, buf, err := c.ReadUntilPattern([]byte("never"), opts)

	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, buf)
	assert.Less(t, time.Since(start), time.Second)
}

func TestReadUntilPatternLookback(t *testing.T) {
	ch := &scriptedChannel{script: [][]byte{[]byte("prompt> garbage garbage")}}
	c := fastClient(ch)

	opts := fastRead
	opts.ReadTimeout = 50 * time.Millisecond
	opts.Lookback = 8
	found, _, err := c.ReadUntilPattern([]byte(`prompt> `), opts)

	require.NoError(t, err)
	// The match sits outside the trailing window, so it is not seen.
	assert.False(t, found)
}

func TestReadUntilPatternReadError(t *testing.T) {
	ch := &erroringChannel{err: errors.New("wire fault")}
	c := fastClient(ch)

	_, _, err := c.ReadUntilPattern([]byte("x"), fastRead)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wire fault")
}

type erroringChannel struct {
	scriptedChannel
	err error
}

func (e *erroringChannel) Read() ([]byte, error) { return nil, e.err }

func TestNormalizeCommandIdempotent(t *testing.T) {
	term := []byte("\n")
	once := normalizeCommand([]byte("echo hi"), term)
	assert.Equal(t, []byte("echo hi\n"), once)

	twice := normalizeCommand(once, term)
	assert.Equal(t, []byte("echo hi\n"), twice)
}

func TestFindPrompt(t *testing.T) {
	ch := &scriptedChannel{script: [][]byte{[]byte("\r\n\x1b[0muser@host:~$ ")}}
	c := fastClient(ch)

	prompt, found, err := c.FindPrompt(FindPromptOptions{
		ReadDelay: time.Millisecond,
		Read:      readWithTimeout(200 * time.Millisecond),
	})

	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("user@host:~$"), prompt)
	// The return sequence was written to force the reprint.
	require.Len(t, ch.writes, 1)
	assert.Equal(t, []byte("\n"), ch.writes[0])
}

func TestFindPromptNotFound(t *testing.T) {
	ch := &scriptedChannel{} // quiet remote
	c := fastClient(ch)

	_, found, err := c.FindPrompt(FindPromptOptions{
		ReadDelay: time.Millisecond,
		Read:      readWithTimeout(30 * time.Millisecond),
	})

	require.NoError(t, err)
	assert.False(t, found)
}

// The raw-buffer search and the per-line scan are intentionally not
// aligned: a pattern occurrence that only matches straddling a line
// boundary satisfies the first phase and still yields not-found, and a
// buffer containing no line terminator at all behaves the same way.
func TestFindPromptTwoPhaseMismatch(t *testing.T) {
	t.Run("match straddles a line boundary", func(t *testing.T) {
		ch := &scriptedChannel{script: [][]byte{[]byte("foo\nbar")}}
		c := fastClient(ch)

		prompt, found, err := c.FindPrompt(FindPromptOptions{
			ReadDelay: time.Millisecond,
			Pattern:   []byte("o\nbar"),
			Read:      readWithTimeout(200 * time.Millisecond),
		})

		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, prompt)
	})

	t.Run("buffer holds no line terminator", func(t *testing.T) {
		ch := &scriptedChannel{script: [][]byte{[]byte("user@host:~$ ")}}
		c := fastClient(ch)

		_, found, err := c.FindPrompt(FindPromptOptions{
			ReadDelay: time.Millisecond,
			Read:      readWithTimeout(200 * time.Millisecond),
		})

		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestRunCommandWithKnownPrompt(t *testing.T) {
	ch := &scriptedChannel{script: [][]byte{[]byte("hi\nuser@host:~$ ")}}
	c := fastClient(ch)

	found, output, err := c.RunCommand([]byte("echo hi"), CommandOptions{
		Prompt: []byte("user@host:~$"),
		Read:   readWithTimeout(200 * time.Millisecond),
	})

	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("hi\n"), output)
	require.Len(t, ch.writes, 1)
	assert.Equal(t, []byte("echo hi\n"), ch.writes[0])
}

func TestRunCommandDiscoversPrompt(t *testing.T) {
	ch := &scriptedChannel{script: [][]byte{
		[]byte("\r\nuser@host:~$ "), // prompt discovery
		[]byte("hi\nuser@host:~$ "), // command output
	}}
	c := fastClient(ch)

	found, output, err := c.RunCommand([]byte("echo hi"), CommandOptions{
		FindPrompt: FindPromptOptions{
			ReadDelay: time.Millisecond,
			Read:      readWithTimeout(200 * time.Millisecond),
		},
		Read: readWithTimeout(200 * time.Millisecond),
	})

	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("hi\n"), output)
	require.Len(t, ch.writes, 2)
	assert.Equal(t, []byte("\n"), ch.writes[0])
	assert.Equal(t, []byte("echo hi\n"), ch.writes[1])
}

func TestRunCommandPromptNotFound(t *testing.T) {
	ch := &scriptedChannel{} // quiet remote, discovery can never succeed
	c := fastClient(ch)

	_, _, err := c.RunCommand([]byte("reboot"), CommandOptions{
		FindPrompt: FindPromptOptions{
			ReadDelay: time.Millisecond,
			Read:      readWithTimeout(30 * time.Millisecond),
		},
	})

	require.ErrorIs(t, err, ErrPromptNotFound)
	// Only the discovery nudge went out; the command was never sent.
	require.Len(t, ch.writes, 1)
	assert.Equal(t, []byte("\n"), ch.writes[0])
}

func TestRunCommandWithoutNormalization(t *testing.T) {
	ch := &scriptedChannel{script: [][]byte{[]byte("user@host:~$ ")}}
	c := fastClient(ch, WithCommandNormalization(false))

	_, _, err := c.RunCommand([]byte("echo hi"), CommandOptions{
		Prompt: []byte("user@host:~$"),
		Read:   readWithTimeout(200 * time.Millisecond),
	})

	require.NoError(t, err)
	require.Len(t, ch.writes, 1)
	assert.Equal(t, []byte("echo hi"), ch.writes[0])
}

func TestDisconnectAlwaysReachesChannel(t *testing.T) {
	ch := &scriptedChannel{}
	c := fastClient(ch, WithCleanupHook(func() error {
		return errors.New("cleanup broke")
	}))

	err := c.Disconnect()

	require.Error(t, err)
	assert.Equal(t, 1, ch.disconnects, "channel disconnect must run despite cleanup failure")
	assert.Equal(t, StateDisconnected, c.State())
}

func TestConnectRunsHook(t *testing.T) {
	ch := &scriptedChannel{}
	hooked := false
	c := fastClient(ch, WithConnectHook(func(ctx context.Context) error {
		hooked = true
		return nil
	}))

	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, hooked)
	assert.Equal(t, StateConnected, c.State())
}

func TestOpenGuardSwallowsDisconnectFailure(t *testing.T) {
	ch := &scriptedChannel{disconnectErr: errors.New("teardown fault")}
	c := fastClient(ch)

	release, err := Open(context.Background(), c, nil)
	require.NoError(t, err)
	require.Equal(t, 1, ch.connects)

	// Must not panic or surface the teardown fault.
	release()
	assert.Equal(t, 1, ch.disconnects)
}

func readWithTimeout(d time.Duration) ReadOptions {
	opts := fastRead
	opts.ReadTimeout = d
	return opts
}
