package copley

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// the drive's ASCII interface is a thin layer over its parameter table.
// "g r0xa0" reads the status register and is answered "v 134217728";
// "s r0xca 1000" writes the target position and is answered "ok";
// anything the drive does not like is answered "e <code>".
//
// The gains and velocity of a mode profile are set with the older composite
// commands the stage firmware also accepts, GAINS(...) and V<x>.  Those
// readbacks echo a label in front of each number.

const (
	// DefaultSuffix terminates every command
	DefaultSuffix = "\r\n"

	ackOK = "ok"
)

// CommandChannel sends one framed command and returns one response line.
// A timeout is reported with an error whose Timeout method returns true.
type CommandChannel interface {
	Send(cmd string) (string, error)
}

// Gains are the five servo loop coefficients of a mode profile, in order:
// position, velocity, acceleration feedforward, gain multiplier, velocity
// feedforward
type Gains [5]float64

func (g Gains) String() string {
	parts := make([]string, len(g))
	for i, v := range g {
		parts[i] = formatFloat(v)
	}
	return strings.Join(parts, ",")
}

// Codec frames commands for the drive and parses its responses.  It is the
// only place wire strings are built.
type Codec struct {
	ch CommandChannel

	// Prefix is prepended to every command, e.g. a node address
	Prefix string

	// Suffix terminates every command
	Suffix string
}

// NewCodec returns a Codec sending over ch
func NewCodec(ch CommandChannel, prefix string) *Codec {
	return &Codec{ch: ch, Prefix: prefix, Suffix: DefaultSuffix}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func (c *Codec) frame(op string, args ...string) string {
	return c.Prefix + strings.Join(append([]string{op}, args...), " ") + c.Suffix
}

// exchange sends cmd and returns the trimmed response.  Rejections by the
// drive are returned as a ProtocolError along with the response.
func (c *Codec) exchange(cmd string) (string, error) {
	resp, err := c.ch.Send(cmd)
	cmdS := strings.TrimSpace(cmd)
	if err != nil {
		var te interface{ Timeout() bool }
		if errors.As(err, &te) && te.Timeout() {
			return "", &ProtocolError{Cmd: cmdS, Err: ErrTimeout}
		}
		return "", &TransportError{Cmd: cmdS, Err: err}
	}
	resp = strings.TrimSpace(resp)
	if code, ok := parseRejection(resp); ok {
		return resp, &ProtocolError{Cmd: cmdS, Resp: resp, Code: code, Err: ErrRejected}
	}
	return resp, nil
}

// parseRejection recognizes "e <code>"
func parseRejection(resp string) (int, bool) {
	if len(resp) < 2 || resp[0] != 'e' {
		return 0, false
	}
	code, err := strconv.Atoi(strings.TrimSpace(resp[1:]))
	if err != nil {
		return 0, false
	}
	return code, true
}

// stripDecoration removes whitespace anywhere and echoed letters in front
func stripDecoration(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimLeftFunc(s, unicode.IsLetter)
}

func malformed(cmd, resp string) error {
	return &ProtocolError{Cmd: strings.TrimSpace(cmd), Resp: resp, Err: ErrMalformedResponse}
}

func (c *Codec) expectAck(cmd string) error {
	resp, err := c.exchange(cmd)
	if err != nil {
		return err
	}
	if resp != "" && !strings.EqualFold(resp, ackOK) {
		return malformed(cmd, resp)
	}
	return nil
}

// WriteRegister sets a drive parameter
func (c *Codec) WriteRegister(r Register, v int64) error {
	return c.expectAck(c.frame("s", r.String(), strconv.FormatInt(v, 10)))
}

// ReadRegister gets a drive parameter
func (c *Codec) ReadRegister(r Register) (int64, error) {
	cmd := c.frame("g", r.String())
	resp, err := c.exchange(cmd)
	if err != nil {
		return 0, err
	}
	i, err := strconv.ParseInt(stripDecoration(resp), 10, 64)
	if err != nil {
		return 0, malformed(cmd, resp)
	}
	return i, nil
}

// Trajectory issues a trajectory command (abort, move, home)
func (c *Codec) Trajectory(t TrajectoryCmd) error {
	return c.expectAck(c.frame("t", strconv.Itoa(int(t))))
}

// Reset reboots the drive.  The drive may go quiet while it restarts, so a
// missing response is not an error.
func (c *Codec) Reset() error {
	err := c.expectAck(c.frame("r"))
	if errors.Is(err, ErrTimeout) {
		return nil
	}
	return err
}

// SetEcho turns the drive's command echo on or off
func (c *Codec) SetEcho(on bool) error {
	n := 0
	if on {
		n = 1
	}
	_, err := c.exchange(c.frame(fmt.Sprintf("W(EX,%d)", n)))
	return err
}

// WriteGains sets all five gains with one composite command
func (c *Codec) WriteGains(g Gains) error {
	_, err := c.exchange(c.frame("GAINS(" + g.String() + ")"))
	return err
}

// ReadGains reads the five gains back, e.g. "PG5 VG10 AF7 GM1.5 VF0"
func (c *Codec) ReadGains() (Gains, error) {
	var g Gains
	cmd := c.frame("GAINS")
	resp, err := c.exchange(cmd)
	if err != nil {
		return g, err
	}
	// a bare echo of the command letter is its own field; drop it
	var fields []string
	for _, f := range strings.FieldsFunc(resp, func(r rune) bool {
		return unicode.IsSpace(r) || r == ','
	}) {
		if f = stripDecoration(f); f != "" {
			fields = append(fields, f)
		}
	}
	if len(fields) != len(g) {
		return g, malformed(cmd, resp)
	}
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return g, malformed(cmd, resp)
		}
		g[i] = v
	}
	return g, nil
}

// WriteVelocity sets the programmed velocity
func (c *Codec) WriteVelocity(v float64) error {
	_, err := c.exchange(c.frame("V" + formatFloat(v)))
	return err
}

// ReadVelocity reads the programmed velocity, e.g. "V0.154"
func (c *Codec) ReadVelocity() (float64, error) {
	cmd := c.frame("V")
	resp, err := c.exchange(cmd)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(stripDecoration(resp), 64)
	if err != nil {
		return 0, malformed(cmd, resp)
	}
	return v, nil
}

// Raw sends s with the codec's framing and returns the response unparsed
func (c *Codec) Raw(s string) (string, error) {
	return c.exchange(c.Prefix + s + c.Suffix)
}
