package copley

import (
	"fmt"
	"math"
)

// ReservedDescription is reported for set bits that have no table entry
const ReservedDescription = "Reserved or undefined."

// status register (r0xa0) bits the controller acts on
const (
	StatusLatchedFault   uint = 22
	StatusInMotion       uint = 27
	StatusVelocityWindow uint = 28
)

// trajectory register (r0xc9) bits the controller acts on
const (
	TrajectoryHomingError uint = 11
	TrajectoryReferenced  uint = 12
	TrajectoryHoming      uint = 13
	TrajectoryAborted     uint = 14
	TrajectoryInMotion    uint = 15
)

// RegisterKind selects the bit table used by Decode
type RegisterKind int

const (
	// StatusRegister is the drive event status, r0xa0
	StatusRegister RegisterKind = iota

	// FaultRegister is the latched fault register, r0xa4
	FaultRegister

	// TrajectoryRegister is the trajectory status, r0xc9.  It carries the
	// homing and move-aborted error bits.
	TrajectoryRegister

	// FaultMaskRegister is the fault latch mask, r0xa7, the extended
	// fault register
	FaultMaskRegister
)

func (k RegisterKind) String() string {
	switch k {
	case StatusRegister:
		return "status"
	case FaultRegister:
		return "fault"
	case TrajectoryRegister:
		return "trajectory"
	case FaultMaskRegister:
		return "fault-mask"
	default:
		return fmt.Sprintf("RegisterKind(%d)", int(k))
	}
}

// Register returns the drive parameter that holds this kind of bitfield
func (k RegisterKind) Register() Register {
	switch k {
	case FaultRegister:
		return RegFault
	case TrajectoryRegister:
		return RegTrajectory
	case FaultMaskRegister:
		return RegFaultMask
	default:
		return RegStatus
	}
}

var (
	statusBits = map[uint]string{
		0:  "Short circuit detected.",
		1:  "Drive over temperature.",
		2:  "Over voltage.",
		3:  "Under voltage.",
		4:  "Motor temperature sensor active.",
		5:  "Feedback error.",
		6:  "Motor phasing error.",
		7:  "Current output limited.",
		8:  "Voltage output limited.",
		9:  "Positive limit switch active.",
		10: "Negative limit switch active.",
		11: "Enable input not active.",
		12: "Drive is disabled by software.",
		13: "Trying to stop motor.",
		14: "Motor brake activated.",
		15: "PWM outputs disabled.",
		16: "Positive software limit condition.",
		17: "Negative software limit condition.",
		18: "Tracking error.",
		19: "Tracking warning.",
		20: "Drive has been reset.",
		21: "Position has wrapped.",
		22: "Drive fault. A drive fault that was configured as latching has occurred.",
		23: "Velocity limit has been reached.",
		24: "Acceleration limit has been reached.",
		25: "Position outside of tracking window.",
		26: "Home switch is active.",
		27: "Trajectory is still running, motor has not yet settled into position.",
		28: "Velocity window. Set if the absolute velocity error exceeds the velocity window value.",
		29: "Phase not yet initialized.",
		30: "Command fault. PWM or other command signal not present.",
	}

	faultBits = map[uint]string{
		0:  "Data flash CRC failure. This fault is considered fatal and cannot be cleared.",
		1:  "Drive internal error. This fault is considered fatal and cannot be cleared.",
		2:  "Short circuit.",
		3:  "Drive over temperature.",
		4:  "Motor over temperature.",
		5:  "Over voltage.",
		6:  "Under voltage.",
		7:  "Feedback fault.",
		8:  "Phasing error.",
		9:  "Following error.",
		10: "Over current (latched).",
		11: "FPGA failure.",
		12: "Command input lost.",
		14: "Safety circuit consistency check failure.",
		15: "Unable to control motor current.",
		16: "Motor wiring disconnected.",
		18: "Safe torque off active.",
	}

	trajectoryBits = map[uint]string{
		9:  "Cam table underflow.",
		11: "Homing error. An error occurred in the last home attempt.",
		12: "Referenced. A homing command has been successfully executed.",
		13: "Homing. The drive is running a home command.",
		14: "Move aborted. Cleared at the start of the next move.",
		15: "In motion. The trajectory generator is presently generating a profile.",
	}

	// the mask shares the fault register's layout
	faultMaskBits = func() map[uint]string {
		m := make(map[uint]string, len(faultBits))
		for bit, descr := range faultBits {
			m[bit] = "Latching: " + descr
		}
		return m
	}()

	// errorCodes maps the code of an "e <code>" reply to its meaning
	errorCodes = map[int]string{
		1:  "Too much data passed with command",
		3:  "Unknown command code",
		4:  "Not enough data was supplied with the command",
		5:  "Too much data was supplied with the command",
		9:  "Unknown parameter ID",
		10: "Data value out of range",
		11: "Attempt to modify read-only parameter",
		14: "Unknown axis state",
		15: "Parameter doesn't exist on requested page",
		16: "Illegal serial port forwarding",
		18: "Illegal attempt to start a move while currently moving",
		19: "Illegal velocity limit for move",
		20: "Illegal acceleration limit for move",
		21: "Illegal deceleration limit for move",
		22: "Illegal jerk limit for move",
		25: "Invalid trajectory mode",
		27: "Command is not allowed while CVM is running",
		31: "Invalid node ID for serial port forwarding",
		32: "CAN Network communications failure",
		33: "ASCII command parsing error",
		36: "Bad axis letter specified",
		46: "Error sending command to encoder",
		48: "Unable to calculate filter",
	}
)

func table(kind RegisterKind) map[uint]string {
	switch kind {
	case FaultRegister:
		return faultBits
	case TrajectoryRegister:
		return trajectoryBits
	case FaultMaskRegister:
		return faultMaskBits
	default:
		return statusBits
	}
}

// DescribeErrorCode returns the meaning of a drive error code
func DescribeErrorCode(code int) string {
	if s, ok := errorCodes[code]; ok {
		return s
	}
	return "UNKNOWN ERROR CODE"
}

// Condition is one set bit of a register and what it means
type Condition struct {
	Bit         uint   `json:"bit"`
	Description string `json:"description"`
}

// Snapshot is a decoded register value
type Snapshot struct {
	Kind       RegisterKind `json:"-"`
	Raw        int64        `json:"raw"`
	Conditions []Condition  `json:"conditions"`
}

// fieldBits returns the bit field a register value carries.  A negative
// value within int32 range is the drive printing a 32-bit register signed;
// anything wider is taken as all 64 bits, so nothing set is dropped.
func fieldBits(raw int64) uint64 {
	if raw < 0 && raw >= math.MinInt32 {
		return uint64(uint32(raw))
	}
	return uint64(raw)
}

// Decode interprets raw as a bit field of the given kind.  Bits are scanned
// from least to most significant; a set bit with no meaning in the table,
// including any above bit 31, decodes to ReservedDescription.
func Decode(kind RegisterKind, raw int64) Snapshot {
	tbl := table(kind)
	bits := fieldBits(raw)
	s := Snapshot{Kind: kind, Raw: raw}
	for bit := uint(0); bit < 64; bit++ {
		if bits&(1<<bit) == 0 {
			continue
		}
		descr, ok := tbl[bit]
		if !ok {
			descr = ReservedDescription
		}
		s.Conditions = append(s.Conditions, Condition{Bit: bit, Description: descr})
	}
	return s
}

// Has returns true if bit is set
func (s Snapshot) Has(bit uint) bool {
	return bit < 64 && fieldBits(s.Raw)&(1<<bit) != 0
}

// Empty returns true if no bit is set
func (s Snapshot) Empty() bool { return len(s.Conditions) == 0 }

// Bits returns the set bit indices, low to high
func (s Snapshot) Bits() []uint {
	out := make([]uint, len(s.Conditions))
	for i, c := range s.Conditions {
		out[i] = c.Bit
	}
	return out
}

// Descriptions returns the meaning of each set bit, low to high
func (s Snapshot) Descriptions() []string {
	out := make([]string, len(s.Conditions))
	for i, c := range s.Conditions {
		out[i] = c.Description
	}
	return out
}
