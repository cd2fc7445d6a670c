package plotlog

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// stampLayout is the ctime-style timestamp the plotter appends to some lines.
const stampLayout = "Mon Jan _2 15:04:05 2006"

var (
	reID          = regexp.MustCompile(`^ID: ([0-9a-fA-F]+)`)
	rePlotSize    = regexp.MustCompile(`^Plot size is: (\d+)`)
	reStartPhase  = regexp.MustCompile(`^Starting phase (\d)/4`)
	reP1Table     = regexp.MustCompile(`^Computing table (\d)`)
	reP2Table     = regexp.MustCompile(`^Backpropagating on table (\d)`)
	reP3Tables    = regexp.MustCompile(`^Compressing tables (\d) and (\d)`)
	reP4WriteC1   = regexp.MustCompile(`^Starting to write C1 and C3 tables`)
	reP4WriteC2   = regexp.MustCompile(`^Writing C2 table`)
	reP4FinalSize = regexp.MustCompile(`^Final File size`)
	rePhaseTime   = regexp.MustCompile(`^Time for phase (\d) = ([\d.]+) seconds`)
	reTotalTime   = regexp.MustCompile(`^Total time = ([\d.]+) seconds`)
	reFinalFile   = regexp.MustCompile(`^(?:Renamed|Copied) final file from "(.+)" to "(.+)"`)
	reStamp       = regexp.MustCompile(`(\w{3} \w{3} [ \d]\d \d{2}:\d{2}:\d{2} \d{4})\s*$`)
)

// Parser accumulates Progress one log line at a time.
//
// Phase and substep never move backwards: a marker that would rewind them
// is ignored.
type Parser struct {
	p         Progress
	lastStamp time.Time
	loc       *time.Location
}

func NewParser() *Parser {
	return &Parser{loc: time.Local}
}

// Progress returns the current snapshot.
func (ps *Parser) Progress() Progress {
	return ps.p
}

// Feed consumes a single line (without its trailing newline).
func (ps *Parser) Feed(line string) {
	line = strings.TrimRight(line, "\r")
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}

	if m := reStamp.FindStringSubmatch(trimmed); m != nil {
		if ts, err := time.ParseInLocation(stampLayout, m[1], ps.loc); err == nil {
			ps.lastStamp = ts
		}
	}

	switch {
	case reID.MatchString(trimmed):
		if ps.p.PlotID == "" {
			ps.p.PlotID = strings.ToLower(reID.FindStringSubmatch(trimmed)[1])
		}
	case rePlotSize.MatchString(trimmed):
		ps.p.K = atoi(rePlotSize.FindStringSubmatch(trimmed)[1])
	case reStartPhase.MatchString(trimmed):
		phase := atoi(reStartPhase.FindStringSubmatch(trimmed)[1])
		if ps.advancePhase(phase) {
			ps.p.PhaseStarted[phase] = ps.lastStamp
		}
	case reP1Table.MatchString(trimmed):
		ps.advanceSubstep(1, atoi(reP1Table.FindStringSubmatch(trimmed)[1]))
	case reP2Table.MatchString(trimmed):
		ps.advanceSubstep(2, 8-atoi(reP2Table.FindStringSubmatch(trimmed)[1]))
	case reP3Tables.MatchString(trimmed):
		ps.advanceSubstep(3, atoi(reP3Tables.FindStringSubmatch(trimmed)[1]))
	case reP4WriteC1.MatchString(trimmed):
		ps.advanceSubstep(4, 1)
	case reP4WriteC2.MatchString(trimmed):
		ps.advanceSubstep(4, 2)
	case reP4FinalSize.MatchString(trimmed):
		ps.advanceSubstep(4, 3)
	case rePhaseTime.MatchString(trimmed):
		m := rePhaseTime.FindStringSubmatch(trimmed)
		if phase := atoi(m[1]); phase >= 1 && phase <= NumPhases {
			ps.p.PhaseSeconds[phase] = atof(m[2])
		}
	case reTotalTime.MatchString(trimmed):
		ps.p.TotalSeconds = atof(reTotalTime.FindStringSubmatch(trimmed)[1])
	case reFinalFile.MatchString(trimmed):
		m := reFinalFile.FindStringSubmatch(trimmed)
		ps.p.FinalPath = m[2]
		if strings.HasPrefix(trimmed, "Renamed") {
			ps.p.Complete = true
			ps.p.CompletedAt = ps.lastStamp
		}
	}

	ps.updatePct()
}

// advancePhase moves to phase if it is ahead of the current one.
func (ps *Parser) advancePhase(phase int) bool {
	if phase < 1 || phase > NumPhases || phase <= ps.p.Phase {
		return false
	}
	ps.p.Phase = phase
	ps.p.Substep = 0
	return true
}

// advanceSubstep records a substep marker for phase. Markers for an earlier
// phase, or an earlier substep of the current phase, are dropped.
func (ps *Parser) advanceSubstep(phase, substep int) {
	if phase > ps.p.Phase {
		// Marker arrived without its phase header; treat it as implying the phase.
		if !ps.advancePhase(phase) {
			return
		}
	}
	if phase != ps.p.Phase || substep <= ps.p.Substep {
		return
	}
	ps.p.Substep = substep
}

func (ps *Parser) updatePct() {
	pct := estimatePct(ps.p.Phase, ps.p.Substep, ps.p.Complete)
	if pct > ps.p.PctComplete {
		ps.p.PctComplete = pct
	}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atof(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
