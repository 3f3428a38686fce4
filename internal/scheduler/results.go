package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
)

// ResultEntry is one per-test record of a results file written by an
// external queue run.
type ResultEntry struct {
	Status  string          `json:"STATUS"`
	Color   json.RawMessage `json:"COLOR"` // string or pair
	Timing  float64         `json:"TIMING"`
	Caveats []string        `json:"CAVEATS"`
	Output  string          `json:"OUTPUT"`
}

// ResultsFile is the persisted layout: test directory -> plugin class name
// -> test name -> entry.
type ResultsFile map[string]map[string]map[string]ResultEntry

// LoadResultsFile parses a results JSON file
func LoadResultsFile(path string) (ResultsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var results ResultsFile
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("unable to parse results file %s: %w", path, err)
	}
	return results, nil
}

// Lookup returns the per-test entries for a directory and plugin, or nil
func (r ResultsFile) Lookup(testDir, plugin string) map[string]ResultEntry {
	group, ok := r[testDir]
	if !ok {
		return nil
	}
	return group[plugin]
}
