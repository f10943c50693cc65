package copley

import (
	"bytes"
	"errors"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Poll = PollPolicy{Interval: time.Millisecond, Limit: 20}
	cfg.Settle = PollPolicy{Interval: time.Millisecond, Limit: 3}
	cfg.ResetDelay = 0
	return cfg
}

func newTestController(t *testing.T) (*Controller, *MockDrive) {
	t.Helper()
	d := NewMockDrive()
	c, err := NewController(d, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Initialize(); err != nil {
		t.Fatal(err)
	}
	d.ClearCommands()
	return c, d
}

func expectState(t *testing.T, c *Controller, s State) {
	t.Helper()
	if c.State() != s {
		t.Errorf("expected state %s, got %s", s, c.State())
	}
}

func TestNewControllerRejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Limits.MinPosition = cfg.Limits.MaxPosition
	_, err := NewController(NewMockDrive(), cfg)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected invalid config, got %v", err)
	}
}

func TestInitializeProgramsDrive(t *testing.T) {
	d := NewMockDrive()
	d.SetPosition(0)
	c, err := NewController(d, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	expectState(t, c, Uninitialized)
	if err := c.Initialize(); err != nil {
		t.Fatal(err)
	}
	expectState(t, c, Idle)
	checks := map[Register]int64{
		RegDesiredState:    21,
		RegProfileType:     0,
		RegMaxVelocity:     4000,
		RegMaxAcceleration: 4000,
		RegMaxDeceleration: 4000,
	}
	for r, v := range checks {
		if got := d.Register(r); got != v {
			t.Errorf("%s: expected %d, got %d", r, v, got)
		}
	}
	if mode, ok := c.Mode(); !ok || mode != ModeMoving {
		t.Errorf("expected moving mode after initialize, got %q %v", mode, ok)
	}
	cmds := d.Commands()
	if cmds[0] != "r" || cmds[1] != "W(EX,0)" {
		t.Errorf("expected reset then echo off, got %v", cmds[:2])
	}
}

func TestInitializeFailureStaysUninitialized(t *testing.T) {
	d := NewMockDrive()
	d.Silent = true
	c, err := NewController(d, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	err = c.Initialize()
	var ie *InitError
	if !errors.As(err, &ie) {
		t.Fatalf("expected InitError, got %v", err)
	}
	// the reset is allowed to go unanswered; echo off is not
	if ie.Step != "echo off" {
		t.Errorf("expected failure at echo off, got %q", ie.Step)
	}
	expectState(t, c, Uninitialized)
}

func TestMoveBeforeInitializeSendsNothing(t *testing.T) {
	d := NewMockDrive()
	c, _ := NewController(d, testConfig())
	err := c.MoveTo(1000)
	if !errors.Is(err, ErrNotReady) {
		t.Errorf("expected not ready, got %v", err)
	}
	if len(d.Commands()) != 0 {
		t.Errorf("expected no traffic, got %v", d.Commands())
	}
}

func TestMoveOutOfBoundsSendsNothing(t *testing.T) {
	c, d := newTestController(t)
	for _, target := range []int64{8000000, 7500001, -7000001} {
		err := c.MoveTo(target)
		var me *MotionError
		if !errors.As(err, &me) || !errors.Is(err, ErrOutOfBounds) {
			t.Errorf("%d: expected out of bounds, got %v", target, err)
		}
	}
	if len(d.Commands()) != 0 {
		t.Errorf("expected no traffic, got %v", d.Commands())
	}
	expectState(t, c, Idle)
	if c.Commanded() != 0 {
		t.Errorf("commanded position changed to %d", c.Commanded())
	}
}

func TestMoveToLimitIsAccepted(t *testing.T) {
	c, _ := newTestController(t)
	for _, target := range []int64{7500000, -7000000} {
		if err := c.MoveTo(target); err != nil {
			t.Fatalf("%d: %v", target, err)
		}
		if c.Commanded() != target || c.LastKnown() != target {
			t.Errorf("expected commanded and last known %d, got %d %d", target, c.Commanded(), c.LastKnown())
		}
	}
	expectState(t, c, Idle)
}

func TestMoveWireSequence(t *testing.T) {
	c, d := newTestController(t)
	if err := c.MoveTo(1234); err != nil {
		t.Fatal(err)
	}
	cmds := d.Commands()
	if cmds[0] != "s r0xca 1234" || cmds[1] != "t 1" {
		t.Errorf("expected target then trajectory, got %v", cmds[:2])
	}
	if cmds[len(cmds)-1] != "g r0x32" {
		t.Errorf("expected a position read last, got %q", cmds[len(cmds)-1])
	}
}

func TestMoveRestoresMovingMode(t *testing.T) {
	c, d := newTestController(t)
	if err := c.SetMode(ModeImaging); err != nil {
		t.Fatal(err)
	}
	if err := c.MoveTo(10); err != nil {
		t.Fatal(err)
	}
	if mode, _ := c.Mode(); mode != ModeMoving {
		t.Errorf("expected moving mode, got %q", mode)
	}
	if d.DriveVelocity() != 1 {
		t.Errorf("expected the moving velocity on the drive, got %v", d.DriveVelocity())
	}
}

func TestMoveAbort(t *testing.T) {
	c, d := newTestController(t)
	if err := c.MoveTo(1000); err != nil {
		t.Fatal(err)
	}
	d.AbortNextMove = true
	err := c.MoveTo(5000)
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("expected aborted, got %v", err)
	}
	expectState(t, c, Aborted)
	if !c.MoveAborted() {
		t.Error("expected MoveAborted")
	}
	if c.Commanded() != 1000 {
		t.Errorf("expected commanded to stay at 1000, got %d", c.Commanded())
	}

	d.ClearCommands()
	if err := c.MoveTo(6000); !errors.Is(err, ErrAborted) {
		t.Errorf("expected move to be refused until cleared, got %v", err)
	}
	if len(d.Commands()) != 0 {
		t.Errorf("expected no traffic, got %v", d.Commands())
	}

	if err := c.ClearAbort(); err != nil {
		t.Fatal(err)
	}
	expectState(t, c, Idle)
	if c.LastKnown() != 3000 {
		t.Errorf("expected the drive's stopping point 3000, got %d", c.LastKnown())
	}
	if err := c.MoveTo(6000); err != nil {
		t.Fatal(err)
	}
}

func TestMoveTimeoutFaults(t *testing.T) {
	c, d := newTestController(t)
	d.Stall = true
	err := c.MoveTo(1000)
	var me *MotionError
	if !errors.As(err, &me) || !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected motion timeout, got %v", err)
	}
	expectState(t, c, Faulted)

	d.ClearCommands()
	if err := c.MoveTo(10); !errors.Is(err, ErrFaulted) {
		t.Errorf("expected faulted, got %v", err)
	}
	if len(d.Commands()) != 0 {
		t.Errorf("expected no traffic, got %v", d.Commands())
	}

	// no latching fault, so a reset recovers
	d.Stall = false
	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := c.ResetFaults(); err != nil {
		t.Fatal(err)
	}
	expectState(t, c, Idle)
}

func TestLatchedFaultDuringMove(t *testing.T) {
	c, d := newTestController(t)
	d.Stall = true
	d.InjectFault(1 << 9)
	err := c.MoveTo(1000)
	var fe *FaultError
	if !errors.As(err, &fe) || !errors.Is(err, ErrFaulted) {
		t.Fatalf("expected FaultError, got %v", err)
	}
	if !fe.Faults.Has(9) {
		t.Errorf("expected following error, got %v", fe.Faults.Descriptions())
	}
	expectState(t, c, Faulted)
	if !c.Faults().Has(9) {
		t.Error("controller did not keep the fault")
	}

	d.Stall = false
	d.Send("t 0")
	if err := c.ResetFaults(); err != nil {
		t.Fatal(err)
	}
	expectState(t, c, Idle)
	if d.Register(RegFault) != 0 {
		t.Errorf("fault register not cleared: %d", d.Register(RegFault))
	}
}

func TestCheckFaults(t *testing.T) {
	c, d := newTestController(t)
	s, err := c.CheckFaults()
	if err != nil || !s.Empty() {
		t.Fatalf("expected no faults, got %v %v", s.Conditions, err)
	}
	expectState(t, c, Idle)

	// not latching
	d.InjectFault(1 << 16)
	s, err = c.CheckFaults()
	if err != nil || !s.Has(16) {
		t.Fatalf("expected bit 16, got %v %v", s.Conditions, err)
	}
	expectState(t, c, Idle)

	d.InjectFault(1 << 4)
	if _, err = c.CheckFaults(); err != nil {
		t.Fatal(err)
	}
	expectState(t, c, Faulted)
}

func TestResetFaultsKeepsStickyFault(t *testing.T) {
	c, d := newTestController(t)
	d.StickyFaults = 1 << 2
	d.InjectFault(1<<2 | 1<<3)
	if _, err := c.CheckFaults(); err != nil {
		t.Fatal(err)
	}
	expectState(t, c, Faulted)

	err := c.ResetFaults()
	var fe *FaultError
	if !errors.As(err, &fe) || !errors.Is(err, ErrFaulted) {
		t.Fatalf("expected FaultError, got %v", err)
	}
	if diff := cmp.Diff([]uint{2}, fe.Faults.Bits()); diff != "" {
		t.Errorf("remaining faults (-want +got):\n%s", diff)
	}
	expectState(t, c, Faulted)
	if d.Register(RegFault) != 1<<2 {
		t.Errorf("expected only the sticky bit left, got %d", d.Register(RegFault))
	}

	d.ClearCommands()
	if err := c.MoveTo(100); !errors.Is(err, ErrFaulted) {
		t.Errorf("expected faulted, got %v", err)
	}
	if len(d.Commands()) != 0 {
		t.Errorf("expected no traffic, got %v", d.Commands())
	}
}

func TestHome(t *testing.T) {
	c, d := newTestController(t)
	if err := c.MoveTo(5000); err != nil {
		t.Fatal(err)
	}
	d.ClearCommands()
	if err := c.Home(); err != nil {
		t.Fatal(err)
	}
	expectState(t, c, Idle)
	cmds := d.Commands()
	exp := []string{"s r0xc6 1000", "s r0xc2 544", "t 2"}
	for i, e := range exp {
		if cmds[i] != e {
			t.Errorf("command %d: expected %q, got %q", i, e, cmds[i])
		}
	}
	if c.Commanded() != 0 || c.LastKnown() != 0 {
		t.Errorf("expected home at 0, got %d %d", c.Commanded(), c.LastKnown())
	}
	traj, err := c.TrajectoryStatus()
	if err != nil || !traj.Has(TrajectoryReferenced) {
		t.Errorf("expected referenced, got %v %v", traj.Conditions, err)
	}
}

func TestHomeAbort(t *testing.T) {
	c, d := newTestController(t)
	if err := c.MoveTo(5000); err != nil {
		t.Fatal(err)
	}
	d.AbortNextHome = true
	err := c.Home()
	var me *MotionError
	if !errors.As(err, &me) || !errors.Is(err, ErrAborted) {
		t.Fatalf("expected aborted, got %v", err)
	}
	expectState(t, c, Aborted)
	if c.Commanded() != 5000 {
		t.Errorf("expected commanded to stay at 5000, got %d", c.Commanded())
	}
	if err := c.Home(); !errors.Is(err, ErrAborted) {
		t.Errorf("expected home to be refused until cleared, got %v", err)
	}
	if err := c.ClearAbort(); err != nil {
		t.Fatal(err)
	}
	if c.LastKnown() != 2500 {
		t.Errorf("expected the drive's stopping point 2500, got %d", c.LastKnown())
	}
	if err := c.Home(); err != nil {
		t.Fatal(err)
	}
	expectState(t, c, Idle)
}

func TestHomingErrorFaults(t *testing.T) {
	c, d := newTestController(t)
	d.HomingError = true
	err := c.Home()
	if !errors.Is(err, ErrHomingFailed) {
		t.Fatalf("expected homing failed, got %v", err)
	}
	expectState(t, c, Faulted)

	d.ClearCommands()
	if err := c.MoveTo(100); err == nil {
		t.Error("expected move to be refused")
	}
	if len(d.Commands()) != 0 {
		t.Errorf("expected no traffic, got %v", d.Commands())
	}
}

func TestStop(t *testing.T) {
	c, d := newTestController(t)
	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}
	if cmds := d.Commands(); len(cmds) != 1 || cmds[0] != "t 0" {
		t.Errorf("expected t 0, got %v", cmds)
	}
	expectState(t, c, Aborted)
	if err := c.ClearAbort(); err != nil {
		t.Fatal(err)
	}
	expectState(t, c, Idle)
}

func TestClearAbortOnlyWhenAborted(t *testing.T) {
	c, _ := newTestController(t)
	if err := c.ClearAbort(); !errors.Is(err, ErrBusy) {
		t.Errorf("expected busy, got %v", err)
	}
}

func TestSetModeUnknown(t *testing.T) {
	c, d := newTestController(t)
	err := c.SetMode("nope")
	if !errors.Is(err, ErrUnknownMode) {
		t.Errorf("expected unknown mode, got %v", err)
	}
	if len(d.Commands()) != 0 {
		t.Errorf("expected no traffic, got %v", d.Commands())
	}
}

func TestSetTrajectoryLimits(t *testing.T) {
	c, d := newTestController(t)
	if err := c.SetTrajectoryLimits(100, 200, 300); err != nil {
		t.Fatal(err)
	}
	if d.Register(RegMaxVelocity) != 100 || d.Register(RegMaxAcceleration) != 200 || d.Register(RegMaxDeceleration) != 300 {
		t.Error("trajectory limits not written")
	}
	d.ClearCommands()
	if err := c.SetTrajectoryLimits(100, 0, 300); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("expected out of bounds, got %v", err)
	}
	if err := c.SetTrajectoryLimits(4001, 100, 100); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("expected out of bounds, got %v", err)
	}
	if len(d.Commands()) != 0 {
		t.Errorf("expected no traffic, got %v", d.Commands())
	}
}

func TestVelocityWindowIsLogged(t *testing.T) {
	c, d := newTestController(t)
	var buf bytes.Buffer
	c.Logger = log.New(&buf, "", 0)
	d.VelocityWindow = true
	if err := c.MoveTo(100); err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(buf.String(), "velocity window"); n != 1 {
		t.Errorf("expected one velocity window warning, got %d in %q", n, buf.String())
	}
}

func TestTimeoutDuringPollFaults(t *testing.T) {
	c, d := newTestController(t)
	d.Stall = true
	go func() {
		time.Sleep(3 * time.Millisecond)
		d.mu.Lock()
		d.Silent = true
		d.mu.Unlock()
	}()
	err := c.MoveTo(100)
	if err == nil {
		t.Fatal("expected an error")
	}
	expectState(t, c, Faulted)
}

func TestStateString(t *testing.T) {
	if Aborted.String() != "aborted" || State(42).String() != "State(42)" {
		t.Errorf("got %s %s", Aborted, State(42))
	}
}
