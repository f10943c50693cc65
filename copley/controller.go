package copley

import (
	"errors"
	"fmt"
	"log"
	"time"
)

// State is the state of the axis as the Controller knows it
type State int

const (
	// Uninitialized is the state before Initialize succeeds
	Uninitialized State = iota

	// Idle is ready for motion
	Idle

	// Homing is running a home sequence
	Homing

	// Moving is running a move
	Moving

	// Aborted is a move that the drive reported aborted, or that was stopped.
	// ClearAbort returns to Idle.
	Aborted

	// Faulted is a latching fault, a failed home, or a move that never
	// finished.  ResetFaults returns to Idle.
	Faulted
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Idle:
		return "idle"
	case Homing:
		return "homing"
	case Moving:
		return "moving"
	case Aborted:
		return "aborted"
	case Faulted:
		return "faulted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Controller drives one axis through a Copley-style ASCII drive.
//
// It is not concurrent safe.  One Controller owns its CommandChannel, and
// every method blocks until the drive has finished what was asked.
type Controller struct {
	codec *Codec
	modes *ModeManager
	cfg   Config

	// Logger, if not nil, receives state changes and warnings
	Logger *log.Logger

	state     State
	commanded int64
	lastKnown int64
	latchMask int64
	faults    Snapshot
}

// NewController returns an Uninitialized controller talking over ch
func NewController(ch CommandChannel, cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	profiles := make(map[string]Profile, len(cfg.Profiles))
	for k, v := range cfg.Profiles {
		profiles[k] = v
	}
	cfg.Profiles = profiles
	codec := NewCodec(ch, cfg.Prefix)
	return &Controller{
		codec: codec,
		modes: NewModeManager(codec, profiles, cfg.Settle),
		cfg:   cfg}, nil
}

func (c *Controller) logf(format string, v ...interface{}) {
	if c.Logger != nil {
		c.Logger.Printf(format, v...)
	}
}

func (c *Controller) setState(s State) {
	if s != c.state {
		c.logf("ystage: %s -> %s", c.state, s)
		c.state = s
	}
}

// ready refuses motion unless the axis is Idle
func (c *Controller) ready(op string) error {
	var err error
	switch c.state {
	case Idle:
		return nil
	case Uninitialized:
		err = ErrNotReady
	case Faulted:
		err = ErrFaulted
	case Aborted:
		err = ErrAborted
	default:
		err = ErrBusy
	}
	return &MotionError{Op: op, State: c.state, Err: err}
}

// Initialize resets the drive and configures it for absolute positioning
// with the default trajectory limits and the moving profile
func (c *Controller) Initialize() error {
	switch c.state {
	case Uninitialized, Idle, Aborted:
	default:
		return &MotionError{Op: "initialize", State: c.state, Err: ErrBusy}
	}
	c.setState(Uninitialized)
	c.modes.Invalidate()

	write := func(r Register, v int64) func() error {
		return func() error { return c.codec.WriteRegister(r, v) }
	}
	steps := []struct {
		name string
		fn   func() error
	}{
		{"reset", c.codec.Reset},
		{"reset delay", func() error { time.Sleep(c.cfg.ResetDelay); return nil }},
		{"echo off", func() error { return c.codec.SetEcho(false) }},
		{"desired state", write(RegDesiredState, desiredStateProgrammedPosition)},
		{"profile type", write(RegProfileType, profileAbsoluteTrapezoidal)},
		{"max velocity", write(RegMaxVelocity, c.cfg.DefaultVelocity)},
		{"max acceleration", write(RegMaxAcceleration, c.cfg.DefaultAcceleration)},
		{"max deceleration", write(RegMaxDeceleration, c.cfg.DefaultDeceleration)},
		{"fault mask", func() error {
			m, err := c.codec.ReadRegister(RegFaultMask)
			c.latchMask = m
			return err
		}},
		{"mode", func() error { return c.modes.Apply(ModeMoving) }},
		{"position", func() error {
			p, err := c.codec.ReadRegister(RegActualPosition)
			c.lastKnown, c.commanded = p, p
			return err
		}},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			return &InitError{Step: s.name, Err: err}
		}
	}
	c.setState(Idle)
	return nil
}

func (c *Controller) readSnapshot(kind RegisterKind) (Snapshot, error) {
	raw, err := c.codec.ReadRegister(kind.Register())
	if err != nil {
		return Snapshot{}, err
	}
	return Decode(kind, raw), nil
}

func (c *Controller) enterFault(faults Snapshot) error {
	c.faults = faults
	c.setState(Faulted)
	c.logf("ystage: latching fault %v", faults.Descriptions())
	return &FaultError{Faults: faults}
}

// latchedFault is called when the status register reports a latched fault
func (c *Controller) latchedFault() error {
	faults, err := c.readSnapshot(FaultRegister)
	if err != nil {
		return err
	}
	return c.enterFault(faults)
}

// pollStep reads the status register and returns it, or a FaultError if the
// drive latched a fault
func (c *Controller) pollStep() (Snapshot, error) {
	status, err := c.readSnapshot(StatusRegister)
	if err != nil {
		return status, err
	}
	if status.Has(StatusLatchedFault) {
		return status, c.latchedFault()
	}
	return status, nil
}

// inflight handles an error after the drive was told to move.  The axis is
// in an unknown state, which is treated as a fault.
func (c *Controller) inflight(op string, err error) error {
	c.setState(Faulted)
	var fe *FaultError
	if errors.As(err, &fe) {
		return err
	}
	return &MotionError{Op: op, State: Faulted, Err: err}
}

// start issues a trajectory command.  A rejection means nothing started;
// anything else leaves the drive in an unknown state.
func (c *Controller) start(op string, t TrajectoryCmd) error {
	err := c.codec.Trajectory(t)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrRejected) {
		return &MotionError{Op: op, State: c.state, Err: err}
	}
	return c.inflight(op, err)
}

// Home runs the drive's homing sequence and waits for it to finish
func (c *Controller) Home() error {
	const op = "home"
	if err := c.ready(op); err != nil {
		return err
	}
	if err := c.codec.WriteRegister(RegHomeOffset, c.cfg.HomeOffset); err != nil {
		return &MotionError{Op: op, State: c.state, Err: err}
	}
	if err := c.codec.WriteRegister(RegHomeMethod, c.cfg.HomeMethod); err != nil {
		return &MotionError{Op: op, State: c.state, Err: err}
	}
	if err := c.start(op, TrajectoryHome); err != nil {
		return err
	}
	c.setState(Homing)

	var traj Snapshot
	err := c.cfg.Poll.poll(func() error {
		if _, err := c.pollStep(); err != nil {
			return stop(err)
		}
		var err error
		traj, err = c.readSnapshot(TrajectoryRegister)
		if err != nil {
			return stop(err)
		}
		if traj.Has(TrajectoryAborted) {
			return stop(ErrAborted)
		}
		if traj.Has(TrajectoryHoming) {
			return errPending
		}
		return nil
	})
	if err == ErrAborted {
		c.setState(Aborted)
		return &MotionError{Op: op, State: Aborted, Err: ErrAborted}
	}
	if err != nil {
		return c.inflight(op, err)
	}
	if traj.Has(TrajectoryHomingError) {
		c.faults = traj
		c.setState(Faulted)
		return &MotionError{Op: op, State: Faulted, Err: ErrHomingFailed}
	}
	if !traj.Has(TrajectoryReferenced) {
		c.logf("ystage: homing finished without the referenced bit set")
	}
	pos, err := c.codec.ReadRegister(RegActualPosition)
	if err != nil {
		return c.inflight(op, err)
	}
	c.lastKnown, c.commanded = pos, pos
	c.setState(Idle)
	return nil
}

// MoveTo moves to an absolute position and waits for the move to finish
func (c *Controller) MoveTo(target int64) error {
	const op = "move"
	if err := c.ready(op); err != nil {
		return err
	}
	l := c.cfg.Limits
	if !l.Contains(target) {
		return &MotionError{Op: op, State: c.state,
			Err: fmt.Errorf("%w: %d not in [%d, %d]", ErrOutOfBounds, target, l.MinPosition, l.MaxPosition)}
	}
	if err := c.modes.Apply(ModeMoving); err != nil {
		return err
	}
	if err := c.codec.WriteRegister(RegTargetPosition, target); err != nil {
		return &MotionError{Op: op, State: c.state, Err: err}
	}
	if err := c.start(op, TrajectoryMove); err != nil {
		return err
	}
	c.setState(Moving)

	warned := false
	err := c.cfg.Poll.poll(func() error {
		status, err := c.pollStep()
		if err != nil {
			return stop(err)
		}
		if status.Has(StatusVelocityWindow) && !warned {
			warned = true
			c.logf("ystage: velocity window exceeded moving to %d", target)
		}
		traj, err := c.readSnapshot(TrajectoryRegister)
		if err != nil {
			return stop(err)
		}
		if traj.Has(TrajectoryAborted) {
			return stop(ErrAborted)
		}
		if status.Has(StatusInMotion) {
			return errPending
		}
		return nil
	})
	if err == ErrAborted {
		// the position is unknown until ClearAbort reads it
		c.setState(Aborted)
		return &MotionError{Op: op, State: Aborted, Err: ErrAborted}
	}
	if err != nil {
		return c.inflight(op, err)
	}
	pos, err := c.codec.ReadRegister(RegActualPosition)
	if err != nil {
		return c.inflight(op, err)
	}
	c.lastKnown = pos
	c.commanded = target
	c.setState(Idle)
	return nil
}

// Stop tells the drive to abort the trajectory.  The axis is then treated
// as aborted, and ClearAbort must be called before the next move.
func (c *Controller) Stop() error {
	if c.state == Uninitialized {
		return &MotionError{Op: "stop", State: c.state, Err: ErrNotReady}
	}
	if err := c.codec.Trajectory(TrajectoryAbort); err != nil {
		return &MotionError{Op: "stop", State: c.state, Err: err}
	}
	if c.state != Faulted {
		c.setState(Aborted)
	}
	return nil
}

// Abort sends the trajectory abort command and nothing else.  It is the one
// method that may run while another goroutine is inside MoveTo or Home,
// provided the channel serializes exchanges; the running move then returns
// ErrAborted.
func (c *Controller) Abort() error {
	return c.codec.Trajectory(TrajectoryAbort)
}

// ClearAbort reads the position after an abort and returns to Idle
func (c *Controller) ClearAbort() error {
	if c.state != Aborted {
		return &MotionError{Op: "clear abort", State: c.state, Err: ErrBusy}
	}
	pos, err := c.codec.ReadRegister(RegActualPosition)
	if err != nil {
		return &MotionError{Op: "clear abort", State: c.state, Err: err}
	}
	c.lastKnown = pos
	c.setState(Idle)
	return nil
}

// CheckFaults reads the fault register.  A latching fault moves an
// initialized controller to Faulted.
func (c *Controller) CheckFaults() (Snapshot, error) {
	faults, err := c.readSnapshot(FaultRegister)
	if err != nil {
		return faults, err
	}
	if faults.Raw&c.latchMask != 0 && c.state != Uninitialized {
		c.enterFault(faults)
	}
	return faults, nil
}

// ResetFaults clears the fault register by writing its active bits back.
// A Faulted controller returns to Idle if no latching fault remains.
func (c *Controller) ResetFaults() error {
	const op = "reset faults"
	raw, err := c.codec.ReadRegister(RegFault)
	if err != nil {
		return &MotionError{Op: op, State: c.state, Err: err}
	}
	if raw != 0 {
		if err := c.codec.WriteRegister(RegFault, raw); err != nil {
			return &MotionError{Op: op, State: c.state, Err: err}
		}
	}
	faults, err := c.readSnapshot(FaultRegister)
	if err != nil {
		return &MotionError{Op: op, State: c.state, Err: err}
	}
	if faults.Raw&c.latchMask != 0 {
		if c.state == Uninitialized {
			return &FaultError{Faults: faults}
		}
		return c.enterFault(faults)
	}
	if c.state != Faulted {
		return nil
	}
	pos, err := c.codec.ReadRegister(RegActualPosition)
	if err != nil {
		return &MotionError{Op: op, State: c.state, Err: err}
	}
	c.lastKnown = pos
	c.faults = Snapshot{}
	c.setState(Idle)
	return nil
}

// SetMode applies a mode profile
func (c *Controller) SetMode(name string) error {
	if err := c.ready("set mode"); err != nil {
		return err
	}
	return c.modes.Apply(name)
}

// SetTrajectoryLimits writes the velocity, acceleration and deceleration
// used by subsequent moves
func (c *Controller) SetTrajectoryLimits(vel, acc, dec int64) error {
	const op = "set trajectory limits"
	if err := c.ready(op); err != nil {
		return err
	}
	l := c.cfg.Limits
	checks := []struct {
		name   string
		reg    Register
		v, max int64
	}{
		{"velocity", RegMaxVelocity, vel, l.MaxVelocity},
		{"acceleration", RegMaxAcceleration, acc, l.MaxAcceleration},
		{"deceleration", RegMaxDeceleration, dec, l.MaxDeceleration},
	}
	for _, chk := range checks {
		if chk.v <= 0 || chk.v > chk.max {
			return &MotionError{Op: op, State: c.state,
				Err: fmt.Errorf("%w: %s %d not in (0, %d]", ErrOutOfBounds, chk.name, chk.v, chk.max)}
		}
	}
	for _, chk := range checks {
		if err := c.codec.WriteRegister(chk.reg, chk.v); err != nil {
			return &MotionError{Op: op, State: c.state, Err: err}
		}
	}
	return nil
}

// Position reads the actual position from the drive
func (c *Controller) Position() (int64, error) {
	pos, err := c.codec.ReadRegister(RegActualPosition)
	if err != nil {
		return 0, err
	}
	c.lastKnown = pos
	return pos, nil
}

// Status reads and decodes the status register
func (c *Controller) Status() (Snapshot, error) {
	return c.readSnapshot(StatusRegister)
}

// TrajectoryStatus reads and decodes the trajectory register
func (c *Controller) TrajectoryStatus() (Snapshot, error) {
	return c.readSnapshot(TrajectoryRegister)
}

// Raw sends an arbitrary command with the controller's framing.  It bypasses
// the state machine.
func (c *Controller) Raw(s string) (string, error) {
	return c.codec.Raw(s)
}

// State returns the current state
func (c *Controller) State() State { return c.state }

// MoveAborted returns true if the last move was aborted and not yet cleared
func (c *Controller) MoveAborted() bool { return c.state == Aborted }

// Commanded returns the target of the last completed move or home
func (c *Controller) Commanded() int64 { return c.commanded }

// LastKnown returns the last position read from the drive
func (c *Controller) LastKnown() int64 { return c.lastKnown }

// Faults returns the fault that put the controller in Faulted, if any
func (c *Controller) Faults() Snapshot { return c.faults }

// Mode returns the last mode applied and whether the drive is known to hold
// it
func (c *Controller) Mode() (string, bool) { return c.modes.Mode() }

// Gains returns the gains of the active mode
func (c *Controller) Gains() Gains { return c.modes.Gains() }

// Velocity returns the velocity of the active mode
func (c *Controller) Velocity() float64 { return c.modes.Velocity() }

// Limits returns the axis limits
func (c *Controller) Limits() Limits { return c.cfg.Limits }
