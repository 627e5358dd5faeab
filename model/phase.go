package model

import (
	"encoding/json"
	"fmt"
)

// Phase is a cosmetic progress stage shown while one conversion request runs.
// Percentages are fixed per phase and never measured from the backend.
type Phase int

const (
	PhaseReady Phase = iota
	PhaseUploading
	PhaseProcessing
	PhaseGenerating
	PhaseComplete
)

// Phases lists the four in-flight phases in the order they are entered.
var Phases = []Phase{PhaseUploading, PhaseProcessing, PhaseGenerating, PhaseComplete}

var phaseNames = map[Phase]string{
	PhaseReady:      "ready",
	PhaseUploading:  "uploading",
	PhaseProcessing: "processing",
	PhaseGenerating: "generating",
	PhaseComplete:   "complete",
}

var phaseLabels = map[Phase]string{
	PhaseReady:      "Ready",
	PhaseUploading:  "Uploading...",
	PhaseProcessing: "Processing video...",
	PhaseGenerating: "Generating PDF...",
	PhaseComplete:   "Done!",
}

var phasePercents = map[Phase]int{
	PhaseReady:      0,
	PhaseUploading:  10,
	PhaseProcessing: 50,
	PhaseGenerating: 80,
	PhaseComplete:   100,
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return "unknown"
}

// Label is the text shown next to the progress bar.
func (p Phase) Label() string {
	return phaseLabels[p]
}

// Percent is the fixed bar width for the phase.
func (p Phase) Percent() int {
	return phasePercents[p]
}

// Step is the 1-based step indicator for the phase; Ready shares step 1.
func (p Phase) Step() int {
	if p == PhaseReady {
		return 1
	}
	return int(p)
}

func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Phase) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for phase, n := range phaseNames {
		if n == name {
			*p = phase
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", name)
}
