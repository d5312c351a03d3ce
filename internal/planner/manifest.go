package planner

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"qencode/internal/fileutil"
)

// Manifest records the plan a split was made from. It is written with
// Complete unset before segmenting and rewritten with Complete set once the
// chunks on disk have been checked against the plan.
type Manifest struct {
	Source   string `json:"source"`
	Total    int    `json:"total"`
	Cuts     []int  `json:"cuts"`
	Chunks   int    `json:"chunks"`
	Complete bool   `json:"complete"`
}

// ManifestFor returns the incomplete manifest of plan.
func ManifestFor(plan Plan) Manifest {
	return Manifest{
		Source: plan.Source,
		Total:  plan.Total,
		Cuts:   slices.Clone(plan.Cuts),
		Chunks: plan.Chunks(),
	}
}

// ReadManifest loads a split manifest.
func ReadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse split manifest %s: %w", path, err)
	}
	return m, nil
}

// WriteManifest saves m atomically.
func WriteManifest(path string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return fileutil.WriteFileAtomic(path, append(data, '\n'), 0o644)
}

// check reports how chunks differ from the manifest, or nil when they match.
func (m Manifest) check(chunks []Chunk) error {
	if len(chunks) != m.Chunks {
		return fmt.Errorf("split produced %d chunks, planned %d", len(chunks), m.Chunks)
	}
	if total := TotalFrames(chunks); total != m.Total {
		return fmt.Errorf("split chunks hold %d frames, source has %d", total, m.Total)
	}
	return nil
}
