package copley

// ModeManager drives the gains and velocity to a named profile and verifies
// the drive took them
type ModeManager struct {
	codec    *Codec
	profiles map[string]Profile
	settle   PollPolicy

	mode     string
	active   bool
	gains    Gains
	velocity float64
}

// NewModeManager returns a ModeManager with no mode active
func NewModeManager(codec *Codec, profiles map[string]Profile, settle PollPolicy) *ModeManager {
	return &ModeManager{codec: codec, profiles: profiles, settle: settle}
}

// Apply makes name the active mode.  It does nothing if name is already
// active and verified.  On failure the previous mode name is kept for
// reporting but marked unverified, since the drive may hold part of the new
// profile; the next Apply of any mode talks to the drive.
func (m *ModeManager) Apply(name string) error {
	if m.active && m.mode == name {
		return nil
	}
	p, ok := m.profiles[name]
	if !ok {
		return &ConfigError{Mode: name, Err: ErrUnknownMode}
	}

	err := m.settle.converge(
		func() error { return m.codec.WriteGains(p.Gains) },
		func() (bool, error) {
			g, err := m.codec.ReadGains()
			return g == p.Gains, err
		})
	if err != nil {
		m.active = false
		return &ConfigError{Mode: name, Param: "gains", Err: err}
	}

	err = m.settle.converge(
		func() error { return m.codec.WriteVelocity(p.Velocity) },
		func() (bool, error) {
			v, err := m.codec.ReadVelocity()
			return v == p.Velocity, err
		})
	if err != nil {
		m.active = false
		return &ConfigError{Mode: name, Param: "velocity", Err: err}
	}

	m.mode = name
	m.active = true
	m.gains = p.Gains
	m.velocity = p.Velocity
	return nil
}

// Mode returns the last mode applied and whether the drive is known to hold
// it
func (m *ModeManager) Mode() (string, bool) {
	return m.mode, m.active
}

// Gains returns the gains of the last mode applied
func (m *ModeManager) Gains() Gains { return m.gains }

// Velocity returns the velocity of the last mode applied
func (m *ModeManager) Velocity() float64 { return m.velocity }

// Profile returns the profile registered under name
func (m *ModeManager) Profile(name string) (Profile, error) {
	p, ok := m.profiles[name]
	if !ok {
		return p, &ConfigError{Mode: name, Err: ErrUnknownMode}
	}
	return p, nil
}

// Invalidate forgets the active mode, so the next Apply talks to the drive.
// A reset of the drive restores its power-on gains.
func (m *ModeManager) Invalidate() {
	m.active = false
	m.mode = ""
}
