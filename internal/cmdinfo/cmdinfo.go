package cmdinfo

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultMaxOutput is the stdout ceiling applied when MaxOutput is not set.
const DefaultMaxOutput = 10 * 1024 * 1024

// ErrFetch is returned when the producer could not be started.
var ErrFetch = errors.New("fetch failed")

// CmdInfo describes the external producer that prints one batch of records
// on its standard output.
type CmdInfo struct {
	Name        string
	Interpreter string
	Script      string
	Args        []string
	WorkDir     string
	Env         []string
	MaxOutput   int
}

func (c *CmdInfo) command() (string, []string) {
	if c.Interpreter == "" {
		return c.Script, c.Args
	}
	return c.Interpreter, append([]string{c.Script}, c.Args...)
}

// Fetch runs the producer to completion and returns what it printed. Output
// beyond MaxOutput is dropped with a warning. A non-zero exit status is
// logged but only a failure to start the producer is an error.
func (c *CmdInfo) Fetch() ([]byte, error) {
	name, args := c.command()
	cmd := exec.Command(name, args...)
	if c.WorkDir != "" {
		cmd.Dir = c.WorkDir
	}
	if len(c.Env) != 0 {
		cmd.Env = c.Env
	}

	limit := c.MaxOutput
	if limit <= 0 {
		limit = DefaultMaxOutput
	}
	stdout := &cappedBuffer{limit: limit}
	var stderr bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = &stderr

	log.Debug().Str("fetcher", c.Name).Str("cmd", cmd.String()).Msg("running producer")

	startTime := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: starting %s: %v", ErrFetch, name, err)
	}
	err := cmd.Wait()
	elapsed := time.Since(startTime)

	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		log.Warn().Str("fetcher", c.Name).Int("exit code", exitErr.ExitCode()).
			Str("stderr", tail(stderr.String(), 512)).Msg("producer exited with error")
	case err != nil:
		return nil, fmt.Errorf("%w: waiting for %s: %v", ErrFetch, name, err)
	}

	if stdout.dropped > 0 {
		log.Warn().Str("fetcher", c.Name).Int("limit", limit).Int64("dropped", stdout.dropped).
			Msg("producer output too large, truncated")
	}

	out := stdout.buf.Bytes()
	log.Debug().Str("fetcher", c.Name).Int("size", len(out)).
		Float64("elapsed time", elapsed.Seconds()).Msg("producer finished")

	// an empty document means "no data", not a parse error
	if len(out) == 0 {
		return []byte("{}"), nil
	}
	return out, nil
}

// cappedBuffer keeps the first limit bytes and discards the rest while still
// accepting writes, so the producer never blocks on a full pipe.
type cappedBuffer struct {
	buf     bytes.Buffer
	limit   int
	dropped int64
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	if room >= len(p) {
		return b.buf.Write(p)
	}
	if room > 0 {
		b.buf.Write(p[:room])
	} else {
		room = 0
	}
	b.dropped += int64(len(p) - room)
	return len(p), nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
