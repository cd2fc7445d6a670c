package job

import (
	"errors"
	"fmt"
	"strings"
)

// AllJobs is the wildcard selector.
const AllJobs = "all"

var (
	// ErrNoMatch indicates a selector matched no job.
	ErrNoMatch = errors.New("no job matches")

	// ErrAmbiguous indicates a selector matched more than one job.
	ErrAmbiguous = errors.New("job id prefix is ambiguous")
)

// AmbiguousError lists every plot ID a prefix matched.
type AmbiguousError struct {
	Prefix  string
	PlotIDs []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("%q matched %d jobs: %s", e.Prefix, len(e.PlotIDs), strings.Join(e.PlotIDs, ", "))
}

func (e *AmbiguousError) Unwrap() error {
	return ErrAmbiguous
}

// Select resolves a partial plot ID to exactly one job.
//
// The prefix "all" returns jobs unchanged. Otherwise the match is a
// case-sensitive prefix match on PlotID; zero matches return ErrNoMatch and
// several return an *AmbiguousError. Ambiguity is never resolved by picking
// one of the matches.
func Select(jobs []*Job, prefix string) ([]*Job, error) {
	if prefix == AllJobs {
		return jobs, nil
	}
	if prefix == "" {
		return nil, fmt.Errorf("%w: empty id prefix", ErrNoMatch)
	}

	var matched []*Job
	for _, j := range jobs {
		if strings.HasPrefix(j.PlotID, prefix) {
			matched = append(matched, j)
		}
	}
	switch len(matched) {
	case 0:
		return nil, fmt.Errorf("%w: %q", ErrNoMatch, prefix)
	case 1:
		return matched, nil
	default:
		ids := make([]string, 0, len(matched))
		for _, j := range matched {
			ids = append(ids, j.PlotID)
		}
		return nil, &AmbiguousError{Prefix: prefix, PlotIDs: ids}
	}
}

// SelectAll resolves several prefixes. Resolution is all-or-nothing: the
// first prefix that fails aborts with its error and no jobs are returned.
// Jobs selected by more than one prefix appear once.
func SelectAll(jobs []*Job, prefixes []string) ([]*Job, error) {
	if len(prefixes) == 0 {
		return nil, fmt.Errorf("%w: no id prefix given", ErrNoMatch)
	}
	seen := make(map[*Job]bool)
	var out []*Job
	for _, p := range prefixes {
		sel, err := Select(jobs, p)
		if err != nil {
			return nil, err
		}
		for _, j := range sel {
			if !seen[j] {
				seen[j] = true
				out = append(out, j)
			}
		}
	}
	return out, nil
}
