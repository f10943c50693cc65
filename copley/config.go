package copley

import (
	"fmt"
	"time"
)

// mode names
const (
	ModeImaging = "imaging"
	ModeMoving  = "moving"
)

// Limits are the physical bounds of the axis.  Positions are in encoder
// counts, the rest in drive units.
type Limits struct {
	MinPosition     int64 `json:"minPosition" yaml:"MinPosition" koanf:"MinPosition"`
	MaxPosition     int64 `json:"maxPosition" yaml:"MaxPosition" koanf:"MaxPosition"`
	MaxVelocity     int64 `json:"maxVelocity" yaml:"MaxVelocity" koanf:"MaxVelocity"`
	MaxAcceleration int64 `json:"maxAcceleration" yaml:"MaxAcceleration" koanf:"MaxAcceleration"`
	MaxDeceleration int64 `json:"maxDeceleration" yaml:"MaxDeceleration" koanf:"MaxDeceleration"`
}

// Contains returns true if pos lies within [MinPosition, MaxPosition]
func (l Limits) Contains(pos int64) bool {
	return pos >= l.MinPosition && pos <= l.MaxPosition
}

// Profile is the gains and velocity of a mode
type Profile struct {
	Gains    Gains   `json:"gains" yaml:"Gains" koanf:"Gains"`
	Velocity float64 `json:"velocity" yaml:"Velocity" koanf:"Velocity"`
}

// DefaultProfiles returns the imaging and moving profiles of the Y stage
func DefaultProfiles() map[string]Profile {
	return map[string]Profile{
		ModeImaging: {Gains: Gains{5, 10, 5, 2, 0}, Velocity: 0.154},
		ModeMoving:  {Gains: Gains{5, 10, 7, 1.5, 0}, Velocity: 1},
	}
}

// Config holds everything a Controller needs besides its channel
type Config struct {
	Limits   Limits             `yaml:"Limits" koanf:"Limits"`
	Profiles map[string]Profile `yaml:"Profiles" koanf:"Profiles"`

	// Poll paces the wait for motion and homing to finish
	Poll PollPolicy `yaml:"Poll" koanf:"Poll"`

	// Settle paces mode convergence; Interval is the wait between a write
	// and its readback
	Settle PollPolicy `yaml:"Settle" koanf:"Settle"`

	// ResetDelay is the wait after a drive reset before talking to it again
	ResetDelay time.Duration `yaml:"ResetDelay" koanf:"ResetDelay"`

	DefaultVelocity     int64 `yaml:"DefaultVelocity" koanf:"DefaultVelocity"`
	DefaultAcceleration int64 `yaml:"DefaultAcceleration" koanf:"DefaultAcceleration"`
	DefaultDeceleration int64 `yaml:"DefaultDeceleration" koanf:"DefaultDeceleration"`

	HomeOffset int64 `yaml:"HomeOffset" koanf:"HomeOffset"`
	HomeMethod int64 `yaml:"HomeMethod" koanf:"HomeMethod"`

	// Prefix is put in front of every command, e.g. a node address
	Prefix string `yaml:"Prefix" koanf:"Prefix"`
}

// DefaultConfig returns the configuration of the Y stage as shipped
func DefaultConfig() Config {
	return Config{
		Limits: Limits{
			MinPosition:     -7000000,
			MaxPosition:     7500000,
			MaxVelocity:     4000,
			MaxAcceleration: 4000,
			MaxDeceleration: 4000},
		Profiles:            DefaultProfiles(),
		Poll:                PollPolicy{Interval: 100 * time.Millisecond, Limit: 600},
		Settle:              PollPolicy{Interval: 1 * time.Second, Limit: 10},
		ResetDelay:          2 * time.Second,
		DefaultVelocity:     4000,
		DefaultAcceleration: 4000,
		DefaultDeceleration: 4000,
		HomeOffset:          1000,
		HomeMethod:          544}
}

func inRange(name string, v, max int64) error {
	if v <= 0 || v > max {
		return fmt.Errorf("%w: %s %d outside (0, %d]", ErrInvalidConfig, name, v, max)
	}
	return nil
}

// Validate checks the configuration is self consistent
func (c Config) Validate() error {
	l := c.Limits
	if l.MinPosition >= l.MaxPosition {
		return fmt.Errorf("%w: MinPosition %d is not below MaxPosition %d", ErrInvalidConfig, l.MinPosition, l.MaxPosition)
	}
	if l.MaxVelocity <= 0 || l.MaxAcceleration <= 0 || l.MaxDeceleration <= 0 {
		return fmt.Errorf("%w: velocity and acceleration limits must be positive", ErrInvalidConfig)
	}
	if err := inRange("DefaultVelocity", c.DefaultVelocity, l.MaxVelocity); err != nil {
		return err
	}
	if err := inRange("DefaultAcceleration", c.DefaultAcceleration, l.MaxAcceleration); err != nil {
		return err
	}
	if err := inRange("DefaultDeceleration", c.DefaultDeceleration, l.MaxDeceleration); err != nil {
		return err
	}
	if _, ok := c.Profiles[ModeMoving]; !ok {
		return fmt.Errorf("%w: no %q profile", ErrInvalidConfig, ModeMoving)
	}
	for name, p := range c.Profiles {
		if p.Velocity <= 0 || p.Velocity > float64(l.MaxVelocity) {
			return fmt.Errorf("%w: profile %q velocity %g outside (0, %d]", ErrInvalidConfig, name, p.Velocity, l.MaxVelocity)
		}
	}
	if c.Poll.Limit < 1 || c.Settle.Limit < 1 {
		return fmt.Errorf("%w: poll limits must be at least 1", ErrInvalidConfig)
	}
	if c.Poll.Interval < 0 || c.Settle.Interval < 0 || c.ResetDelay < 0 {
		return fmt.Errorf("%w: negative interval", ErrInvalidConfig)
	}
	return nil
}
