package scenario

// Transition is emitted when a session moves to the next phase.
type Transition struct {
	From    string `json:"from"`
	To      string `json:"new_phase"`
	Message string `json:"transition_message"`
}

// FirstPhase is the phase a new session starts in.
func (d Definition) FirstPhase() string {
	return d.Phases[0].Name
}

// PhaseNames lists phases in order.
func (d Definition) PhaseNames() []string {
	names := make([]string, len(d.Phases))
	for i, p := range d.Phases {
		names[i] = p.Name
	}
	return names
}

// PhaseIndex returns the position of name, or -1.
func (d Definition) PhaseIndex(name string) int {
	for i, p := range d.Phases {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// IsTerminal reports whether name is the last phase.
func (d Definition) IsTerminal(name string) bool {
	return d.PhaseIndex(name) == len(d.Phases)-1
}

// Advance checks whether a session in phase current with transcriptLen turns
// should move on. It moves at most one phase.
func (d Definition) Advance(current string, transcriptLen int) (Transition, bool) {
	i := d.PhaseIndex(current)
	if i < 0 || i >= len(d.Phases)-1 {
		return Transition{}, false
	}
	if transcriptLen < d.Phases[i].AdvanceAt {
		return Transition{}, false
	}
	next := d.Phases[i+1].Name
	return Transition{
		From:    current,
		To:      next,
		Message: "Moving to " + next + " phase",
	}, true
}
