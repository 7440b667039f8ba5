package coordinator

import (
	"fmt"
	"sort"
	"strings"
)

// KeyAll is the entity under which aggregate groups report their failure
const KeyAll = "all"

// Report maps a group label to the failing entities of that group.
// An empty report means every task succeeded.
type Report map[string]map[string]error

// Failures builds a Report from results. Labels listed in aggregate produce
// one outcome for the whole category and report under KeyAll; every other
// group reports per task key.
func Failures(results Results, aggregate ...string) Report {
	isAggregate := make(map[string]bool, len(aggregate))
	for _, l := range aggregate {
		isAggregate[l] = true
	}

	report := Report{}
	for label, outcomes := range results {
		for _, o := range outcomes {
			if o.Err == nil {
				continue
			}
			key := o.Key
			if isAggregate[label] {
				key = KeyAll
			}
			report.Add(label, key, o.Err)
		}
	}
	return report
}

// Add records err for entity key of group label. A second error for the
// same entity keeps the first one.
func (r Report) Add(label, key string, err error) {
	if err == nil {
		return
	}
	if r[label] == nil {
		r[label] = make(map[string]error)
	}
	if _, exists := r[label][key]; !exists {
		r[label][key] = err
	}
}

// Empty reports whether no failure was recorded
func (r Report) Empty() bool {
	return len(r) == 0
}

// Count returns the number of failing entities across all groups
func (r Report) Count() int {
	n := 0
	for _, entities := range r {
		n += len(entities)
	}
	return n
}

// String renders the report as sorted "label/key: error" lines
func (r Report) String() string {
	var lines []string
	for label, entities := range r {
		for key, err := range entities {
			lines = append(lines, fmt.Sprintf("%s/%s: %v", label, key, err))
		}
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}
