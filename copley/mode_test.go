package copley

import (
	"errors"
	"testing"
	"time"
)

var fastSettle = PollPolicy{Interval: time.Millisecond, Limit: 3}

func TestApplyConverges(t *testing.T) {
	d := NewMockDrive()
	m := NewModeManager(NewCodec(d, ""), DefaultProfiles(), fastSettle)
	if err := m.Apply(ModeImaging); err != nil {
		t.Fatal(err)
	}
	exp := DefaultProfiles()[ModeImaging]
	if d.DriveGains() != exp.Gains || d.DriveVelocity() != exp.Velocity {
		t.Errorf("drive holds %v %v, expected %v %v", d.DriveGains(), d.DriveVelocity(), exp.Gains, exp.Velocity)
	}
	name, ok := m.Mode()
	if !ok || name != ModeImaging {
		t.Errorf("expected imaging active, got %q %v", name, ok)
	}
	if m.Gains() != exp.Gains || m.Velocity() != exp.Velocity {
		t.Errorf("manager reports %v %v", m.Gains(), m.Velocity())
	}
}

func TestApplyTwiceTalksOnce(t *testing.T) {
	d := NewMockDrive()
	m := NewModeManager(NewCodec(d, ""), DefaultProfiles(), fastSettle)
	if err := m.Apply(ModeMoving); err != nil {
		t.Fatal(err)
	}
	d.ClearCommands()
	if err := m.Apply(ModeMoving); err != nil {
		t.Fatal(err)
	}
	if n := len(d.Commands()); n != 0 {
		t.Errorf("expected no traffic applying the active mode, got %v", d.Commands())
	}
}

func TestApplyUnknownMode(t *testing.T) {
	d := NewMockDrive()
	m := NewModeManager(NewCodec(d, ""), DefaultProfiles(), fastSettle)
	err := m.Apply("focus")
	var ce *ConfigError
	if !errors.As(err, &ce) || !errors.Is(err, ErrUnknownMode) {
		t.Errorf("expected unknown mode ConfigError, got %v", err)
	}
	if len(d.Commands()) != 0 {
		t.Errorf("expected no traffic for an unknown mode, got %v", d.Commands())
	}
}

func TestApplyStuckGainsTimesOut(t *testing.T) {
	d := NewMockDrive()
	m := NewModeManager(NewCodec(d, ""), DefaultProfiles(), fastSettle)
	if err := m.Apply(ModeMoving); err != nil {
		t.Fatal(err)
	}
	d.StuckGains = true
	d.ClearCommands()
	err := m.Apply(ModeImaging)
	var ce *ConfigError
	if !errors.As(err, &ce) || !errors.Is(err, ErrConvergenceTimeout) {
		t.Fatalf("expected convergence timeout, got %v", err)
	}
	if ce.Param != "gains" {
		t.Errorf("expected the gains to be blamed, got %q", ce.Param)
	}
	// write + readback, Limit times
	if n := len(d.Commands()); n != 2*fastSettle.Limit {
		t.Errorf("expected %d commands, got %d", 2*fastSettle.Limit, n)
	}
	name, ok := m.Mode()
	if ok || name != ModeMoving {
		t.Errorf("expected moving to be kept but unverified, got %q %v", name, ok)
	}
}

func TestFailedApplyForcesNextApplyToTalk(t *testing.T) {
	d := NewMockDrive()
	m := NewModeManager(NewCodec(d, ""), DefaultProfiles(), fastSettle)
	if err := m.Apply(ModeImaging); err != nil {
		t.Fatal(err)
	}
	// the gains take, the velocity never does
	d.StuckVelocity = true
	err := m.Apply(ModeMoving)
	var ce *ConfigError
	if !errors.As(err, &ce) || ce.Param != "velocity" {
		t.Fatalf("expected the velocity to fail to converge, got %v", err)
	}
	if d.DriveGains() != DefaultProfiles()[ModeMoving].Gains {
		t.Fatalf("expected the drive to hold the moving gains, got %v", d.DriveGains())
	}
	if name, ok := m.Mode(); ok || name != ModeImaging {
		t.Errorf("expected imaging kept but unverified, got %q %v", name, ok)
	}

	d.StuckVelocity = false
	d.ClearCommands()
	if err := m.Apply(ModeImaging); err != nil {
		t.Fatal(err)
	}
	if len(d.Commands()) == 0 {
		t.Error("expected the drive to be reprogrammed")
	}
	exp := DefaultProfiles()[ModeImaging]
	if d.DriveGains() != exp.Gains || d.DriveVelocity() != exp.Velocity {
		t.Errorf("drive holds %v %v, expected %v %v", d.DriveGains(), d.DriveVelocity(), exp.Gains, exp.Velocity)
	}
	if name, ok := m.Mode(); !ok || name != ModeImaging {
		t.Errorf("expected imaging verified, got %q %v", name, ok)
	}
}

func TestApplyAfterInvalidateTalks(t *testing.T) {
	d := NewMockDrive()
	m := NewModeManager(NewCodec(d, ""), DefaultProfiles(), fastSettle)
	if err := m.Apply(ModeMoving); err != nil {
		t.Fatal(err)
	}
	m.Invalidate()
	d.ClearCommands()
	if err := m.Apply(ModeMoving); err != nil {
		t.Fatal(err)
	}
	if len(d.Commands()) == 0 {
		t.Error("expected traffic after Invalidate")
	}
}

func TestApplySilentDriveFails(t *testing.T) {
	d := NewMockDrive()
	d.Silent = true
	m := NewModeManager(NewCodec(d, ""), DefaultProfiles(), fastSettle)
	err := m.Apply(ModeMoving)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected timeout, got %v", err)
	}
	if _, ok := m.Mode(); ok {
		t.Error("expected no active mode")
	}
}
