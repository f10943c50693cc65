package copley

import "fmt"

// Register is the address of a drive parameter, written r0x.. on the wire
type Register uint16

// drive parameters used by this package
const (
	RegDesiredState    Register = 0x24 // 21 = programmed position mode
	RegActualPosition  Register = 0x32
	RegStatus          Register = 0xa0
	RegFault           Register = 0xa4 // latched faults, write 1 to clear
	RegFaultMask       Register = 0xa7 // which faults latch
	RegHomeMethod      Register = 0xc2
	RegHomeOffset      Register = 0xc6
	RegProfileType     Register = 0xc8 // 0 = absolute trapezoidal
	RegTrajectory      Register = 0xc9
	RegTargetPosition  Register = 0xca
	RegMaxVelocity     Register = 0xcb
	RegMaxAcceleration Register = 0xcc
	RegMaxDeceleration Register = 0xcd
)

const (
	desiredStateProgrammedPosition = 21
	profileAbsoluteTrapezoidal     = 0
)

func (r Register) String() string {
	return fmt.Sprintf("r0x%02x", uint16(r))
}

// TrajectoryCmd is the argument of the trajectory ("t") command
type TrajectoryCmd int

const (
	// TrajectoryAbort stops the move in progress
	TrajectoryAbort TrajectoryCmd = 0

	// TrajectoryMove starts a move to the target position register
	TrajectoryMove TrajectoryCmd = 1

	// TrajectoryHome starts the configured homing sequence
	TrajectoryHome TrajectoryCmd = 2
)
