package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrPrereqCycle is returned when the prerequisite declarations form a
	// cycle; the whole batch fails up front.
	ErrPrereqCycle = errors.New("prerequisite cycle")

	// ErrUnknownPrereq is returned when a job names a prerequisite outside
	// its batch
	ErrUnknownPrereq = errors.New("unknown prerequisite")
)

// checkGraph validates that every prerequisite names a job in the batch and
// that the resulting directed graph is acyclic.
func checkGraph(jobs []*Job) error {
	byName := make(map[string]*Job, len(jobs))
	for _, job := range jobs {
		byName[job.Name()] = job
	}

	for _, job := range jobs {
		for _, prereq := range job.Prereqs {
			if _, ok := byName[prereq]; !ok {
				return fmt.Errorf("%w: job %q requires %q which is not part of this batch", ErrUnknownPrereq, job.Name(), prereq)
			}
		}
	}

	const (
		white = iota
		grey
		black
	)
	colors := make(map[string]int, len(jobs))

	var visit func(name string, trail []string) error
	visit = func(name string, trail []string) error {
		switch colors[name] {
		case black:
			return nil
		case grey:
			return fmt.Errorf("%w: %v", ErrPrereqCycle, append(trail, name))
		}
		colors[name] = grey
		for _, prereq := range byName[name].Prereqs {
			if err := visit(prereq, append(trail, name)); err != nil {
				return err
			}
		}
		colors[name] = black
		return nil
	}

	for _, job := range jobs {
		if err := visit(job.Name(), nil); err != nil {
			return err
		}
	}
	return nil
}
