package copley

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// DefaultLatchMask is the fault latch mask a MockDrive powers on with:
// short circuit through over current
const DefaultLatchMask = 0x07fc

type mockTimeout struct{}

func (mockTimeout) Error() string   { return "mock drive: no response" }
func (mockTimeout) Timeout() bool   { return true }
func (mockTimeout) Temporary() bool { return true }

// MockDrive is a CommandChannel that behaves like a drive on the bench.
// Moves and homes finish after MoveTicks reads of the status register.
//
// Set the exported switches before the drive is shared, or between commands.
type MockDrive struct {
	mu sync.Mutex

	regs     map[Register]int64
	gains    Gains
	velocity float64

	remaining int
	homing    bool
	target    int64

	// MoveTicks is the number of status reads a move or home takes
	MoveTicks int

	// AbortNextMove makes the next move stop short with the aborted bit set
	AbortNextMove bool

	// HomingError makes homes finish with the homing error bit set
	HomingError bool

	// StuckGains makes the drive ignore GAINS writes
	StuckGains bool

	// StuckVelocity makes the drive ignore V writes
	StuckVelocity bool

	// StickyFaults are fault bits that writing 1 does not clear
	StickyFaults int64

	// AbortNextHome makes the next home stop short with the aborted bit set
	AbortNextHome bool

	// Stall makes moves and homes never finish
	Stall bool

	// Silent makes every command time out
	Silent bool

	// VelocityWindow sets the velocity window bit while moving
	VelocityWindow bool

	// Sent records every command received, without the terminator
	Sent []string
}

// NewMockDrive returns a mock at its power-on state
func NewMockDrive() *MockDrive {
	m := &MockDrive{MoveTicks: 3}
	m.powerOn()
	return m
}

func (m *MockDrive) powerOn() {
	m.regs = map[Register]int64{
		RegDesiredState:    0,
		RegActualPosition:  0,
		RegStatus:          0,
		RegFault:           0,
		RegFaultMask:       DefaultLatchMask,
		RegHomeMethod:      0,
		RegHomeOffset:      0,
		RegProfileType:     0,
		RegTrajectory:      0,
		RegTargetPosition:  0,
		RegMaxVelocity:     0,
		RegMaxAcceleration: 0,
		RegMaxDeceleration: 0,
	}
	m.gains = Gains{}
	m.velocity = 0
	m.remaining = 0
	m.homing = false
}

// InjectFault latches the given fault bits and sets the status fault bit
func (m *MockDrive) InjectFault(bits int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs[RegFault] |= bits
	if m.regs[RegFault]&m.regs[RegFaultMask] != 0 {
		m.regs[RegStatus] |= 1 << StatusLatchedFault
	}
}

// SetPosition places the axis at pos
func (m *MockDrive) SetPosition(pos int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs[RegActualPosition] = pos
}

// Register returns the value of a parameter
func (m *MockDrive) Register(r Register) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regs[r]
}

// DriveGains returns the gains the drive holds
func (m *MockDrive) DriveGains() Gains {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gains
}

// DriveVelocity returns the velocity the drive holds
func (m *MockDrive) DriveVelocity() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.velocity
}

// Commands returns a copy of the commands received so far
func (m *MockDrive) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Sent))
	copy(out, m.Sent)
	return out
}

// ClearCommands forgets the commands received so far
func (m *MockDrive) ClearCommands() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = nil
}

// Send executes one command and returns the drive's reply
func (m *MockDrive) Send(cmd string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd = strings.TrimSpace(cmd)
	m.Sent = append(m.Sent, cmd)
	if m.Silent {
		return "", mockTimeout{}
	}
	switch {
	case cmd == "r":
		m.powerOn()
		m.regs[RegStatus] |= 1 << 20
		return "ok", nil
	case strings.HasPrefix(cmd, "W(EX,"):
		return "ok", nil
	case cmd == "GAINS":
		g := m.gains
		return fmt.Sprintf("PG%s VG%s AF%s GM%s VF%s",
			formatFloat(g[0]), formatFloat(g[1]), formatFloat(g[2]), formatFloat(g[3]), formatFloat(g[4])), nil
	case strings.HasPrefix(cmd, "GAINS(") && strings.HasSuffix(cmd, ")"):
		return m.writeGains(cmd[len("GAINS(") : len(cmd)-1])
	case cmd == "V":
		return "V" + formatFloat(m.velocity), nil
	case strings.HasPrefix(cmd, "V"):
		v, err := strconv.ParseFloat(cmd[1:], 64)
		if err != nil {
			return "e 33", nil
		}
		if !m.StuckVelocity {
			m.velocity = v
		}
		return "ok", nil
	}

	fields := strings.Fields(cmd)
	switch {
	case len(fields) == 2 && fields[0] == "g":
		r, ok := m.parseRegister(fields[1])
		if !ok {
			return "e 9", nil
		}
		if r == RegStatus {
			m.tick()
		}
		return "v " + strconv.FormatInt(m.regs[r], 10), nil
	case len(fields) == 3 && fields[0] == "s":
		r, ok := m.parseRegister(fields[1])
		if !ok {
			return "e 9", nil
		}
		v, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return "e 33", nil
		}
		return m.write(r, v)
	case len(fields) == 2 && fields[0] == "t":
		return m.trajectory(fields[1])
	}
	return "e 3", nil
}

func (m *MockDrive) parseRegister(s string) (Register, bool) {
	if !strings.HasPrefix(s, "r0x") {
		return 0, false
	}
	u, err := strconv.ParseUint(s[3:], 16, 16)
	if err != nil {
		return 0, false
	}
	r := Register(u)
	_, ok := m.regs[r]
	return r, ok
}

func (m *MockDrive) writeGains(args string) (string, error) {
	parts := strings.Split(args, ",")
	if len(parts) != len(m.gains) {
		return "e 4", nil
	}
	var g Gains
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return "e 33", nil
		}
		g[i] = v
	}
	if !m.StuckGains {
		m.gains = g
	}
	return "ok", nil
}

func (m *MockDrive) write(r Register, v int64) (string, error) {
	switch r {
	case RegStatus, RegTrajectory, RegActualPosition:
		return "e 11", nil
	case RegFault:
		// write 1 to clear
		m.regs[RegFault] &^= v &^ m.StickyFaults
		if m.regs[RegFault]&m.regs[RegFaultMask] == 0 {
			m.regs[RegStatus] &^= 1 << StatusLatchedFault
		}
		return "ok", nil
	}
	m.regs[r] = v
	return "ok", nil
}

const (
	trajMotionBits = 1<<TrajectoryInMotion | 1<<TrajectoryHoming
	statMotionBits = 1<<StatusInMotion | 1<<StatusVelocityWindow
)

func (m *MockDrive) trajectory(arg string) (string, error) {
	switch arg {
	case "0":
		if m.remaining > 0 {
			m.finish(true)
		}
		return "ok", nil
	case "1", "2":
		if m.remaining > 0 {
			return "e 18", nil
		}
		m.regs[RegTrajectory] &^= 1<<TrajectoryAborted | 1<<TrajectoryHomingError
		m.homing = arg == "2"
		if m.homing {
			m.target = 0
			m.regs[RegTrajectory] |= 1<<TrajectoryHoming | 1<<TrajectoryInMotion
		} else {
			m.target = m.regs[RegTargetPosition]
			m.regs[RegTrajectory] |= 1 << TrajectoryInMotion
		}
		m.regs[RegStatus] |= 1 << StatusInMotion
		if m.VelocityWindow {
			m.regs[RegStatus] |= 1 << StatusVelocityWindow
		}
		m.remaining = m.MoveTicks
		if m.remaining < 1 {
			m.remaining = 1
		}
		if !m.homing && m.AbortNextMove {
			m.AbortNextMove = false
			m.finish(true)
		}
		if m.homing && m.AbortNextHome {
			m.AbortNextHome = false
			m.finish(true)
		}
		return "ok", nil
	}
	return "e 33", nil
}

// tick advances a move in progress by one status read
func (m *MockDrive) tick() {
	if m.remaining == 0 || m.Stall {
		return
	}
	m.remaining--
	if m.remaining == 0 {
		m.finish(false)
	}
}

// finish ends the move in progress; an aborted move stops halfway
func (m *MockDrive) finish(aborted bool) {
	m.remaining = 0
	m.regs[RegStatus] &^= statMotionBits
	m.regs[RegTrajectory] &^= trajMotionBits
	pos := m.regs[RegActualPosition]
	switch {
	case aborted:
		m.regs[RegActualPosition] = pos + (m.target-pos)/2
		m.regs[RegTrajectory] |= 1 << TrajectoryAborted
	case m.homing && m.HomingError:
		m.regs[RegTrajectory] |= 1 << TrajectoryHomingError
		m.regs[RegTrajectory] &^= 1 << TrajectoryReferenced
	case m.homing:
		m.regs[RegActualPosition] = 0
		m.regs[RegTrajectory] |= 1 << TrajectoryReferenced
	default:
		m.regs[RegActualPosition] = m.target
	}
	m.homing = false
}
