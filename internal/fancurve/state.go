package fancurve

import "sync"

// Mode is who controls the fans right now.
type Mode string

const (
	// ModeAuto means the firmware manages fan speed; the controller is idle.
	ModeAuto Mode = "auto"
	// ModeManual is a one-shot commanded percentage with no loop.
	ModeManual Mode = "manual"
	// ModeCurve means the background loop owns fan speed.
	ModeCurve Mode = "curve"
)

// State is the controller-owned fan state. Commanded and reported speeds
// are tracked separately because hardware does not reliably echo commanded
// values; reported may legitimately read 0 under zero-RPM idle. The state
// has its own lock, independent of device access, so UI pollers can read
// it while the loop writes.
type State struct {
	mu sync.Mutex

	mode      Mode
	commanded int
	hasCmd    bool
	reported  int
	temp      int
	curve     Curve
}

// Snapshot is an atomic copy of the state for readers.
type Snapshot struct {
	Mode           Mode  `json:"mode"`
	CommandedSpeed int   `json:"commanded_speed"`
	HasCommanded   bool  `json:"has_commanded"`
	ReportedSpeed  int   `json:"reported_speed"`
	Temperature    int   `json:"temperature"`
	Curve          Curve `json:"curve,omitempty"`
}

func NewState() *State {
	return &State{mode: ModeAuto}
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	curve := make(Curve, len(s.curve))
	copy(curve, s.curve)
	return Snapshot{
		Mode:           s.mode,
		CommandedSpeed: s.commanded,
		HasCommanded:   s.hasCmd,
		ReportedSpeed:  s.reported,
		Temperature:    s.temp,
		Curve:          curve,
	}
}

func (s *State) setMode(mode Mode, curve Curve) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	s.curve = curve
	if mode == ModeAuto {
		s.commanded = 0
		s.hasCmd = false
	}
}

func (s *State) setCommanded(speed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commanded = speed
	s.hasCmd = true
}

func (s *State) commandedSpeed() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commanded, s.hasCmd
}

// SetReported records the hardware-reported speed from the latest poll.
func (s *State) SetReported(speed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reported = speed
}

func (s *State) setTemp(temp int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.temp = temp
}

func (s *State) activeCurve() Curve {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.curve
}

// Mode returns the current control mode.
func (s *State) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}
