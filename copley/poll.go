package copley

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff"
)

// errPending is returned by a poll operation whose condition has not arrived
var errPending = errors.New("pending")

// PollPolicy bounds a wait on the drive: at most Limit attempts, Interval
// apart
type PollPolicy struct {
	Interval time.Duration `json:"interval" yaml:"Interval" koanf:"Interval"`
	Limit    int           `json:"limit" yaml:"Limit" koanf:"Limit"`
}

func (p PollPolicy) retries() uint64 {
	if p.Limit < 1 {
		return 0
	}
	return uint64(p.Limit - 1)
}

// poll calls op until it returns nil or a permanent error.  op returns
// errPending while the condition is outstanding; if the budget runs out
// first, ErrTimeout is returned.
func (p PollPolicy) poll(op func() error) error {
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Interval), p.retries())
	err := backoff.Retry(op, b)
	if err == errPending {
		return ErrTimeout
	}
	return err
}

// converge writes, waits Interval for the drive to settle, and checks the
// readback, until the check passes or the budget runs out.  A malformed
// readback counts as a mismatch; any other error ends the loop.
func (p PollPolicy) converge(write func() error, check func() (bool, error)) error {
	op := func() error {
		if err := write(); err != nil {
			return stop(err)
		}
		time.Sleep(p.Interval)
		ok, err := check()
		if errors.Is(err, ErrMalformedResponse) {
			return errPending
		}
		if err != nil {
			return stop(err)
		}
		if !ok {
			return errPending
		}
		return nil
	}
	err := backoff.Retry(op, backoff.WithMaxRetries(&backoff.ZeroBackOff{}, p.retries()))
	if err == errPending {
		return ErrConvergenceTimeout
	}
	return err
}

// stop ends a poll or convergence loop with err
func stop(err error) error {
	return backoff.Permanent(err)
}
