// Package plotlog reconstructs plotting progress from a worker's log.
//
// Workers expose no introspection API; their append-only log is the only
// record of how far a plot has advanced. The parser recognizes a fixed set
// of marker lines and ignores everything else, so additive changes to the
// log format are tolerated.
package plotlog

import (
	"fmt"
	"time"
)

// NumPhases is the number of plot-construction phases.
const NumPhases = 4

// Milestone is a (phase, substep) pair with a total order.
type Milestone struct {
	Phase   int `json:"phase"`
	Substep int `json:"substep"`
}

// Less reports whether m is strictly before o.
func (m Milestone) Less(o Milestone) bool {
	if m.Phase != o.Phase {
		return m.Phase < o.Phase
	}
	return m.Substep < o.Substep
}

func (m Milestone) String() string {
	return fmt.Sprintf("%d:%d", m.Phase, m.Substep)
}

// Progress is the structured view of a worker log.
type Progress struct {
	PlotID string `json:"plot_id,omitempty"`
	K      int    `json:"k,omitempty"`

	// Phase is 1-4, or 0 before the first phase marker.
	Phase   int `json:"phase"`
	Substep int `json:"substep"`

	// PctComplete is an estimate in [0, 100].
	PctComplete float64 `json:"pct_complete"`

	PhaseStarted [NumPhases + 1]time.Time `json:"-"`
	PhaseSeconds [NumPhases + 1]float64   `json:"-"`
	TotalSeconds float64                  `json:"total_seconds,omitempty"`

	// Complete is set once the final plot file has been renamed into place.
	Complete    bool      `json:"complete"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	FinalPath   string    `json:"final_path,omitempty"`

	// Offset is the number of log bytes consumed so far.
	Offset int64 `json:"offset"`
}

// Milestone returns the current (phase, substep).
func (p Progress) Milestone() Milestone {
	return Milestone{Phase: p.Phase, Substep: p.Substep}
}

// phaseSpan is the share of total plotting time each phase takes, in percent,
// and the number of substeps it reports.
var phaseSpan = [NumPhases + 1]struct {
	start, width float64
	substeps     int
}{
	{0, 0, 1},
	{0, 42, 7},
	{42, 19, 6},
	{61, 37, 6},
	{98, 2, 3},
}

func estimatePct(phase, substep int, complete bool) float64 {
	if complete {
		return 100
	}
	if phase < 1 || phase > NumPhases {
		return 0
	}
	span := phaseSpan[phase]
	frac := float64(substep) / float64(span.substeps)
	if frac > 1 {
		frac = 1
	}
	return span.start + span.width*frac
}
