package planner

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"qencode/internal/fileutil"
)

// ReadScenes parses a saved cut list. Cuts may be separated by commas,
// whitespace, or newlines.
func ReadScenes(path string) ([]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	fields := strings.FieldsFunc(string(data), func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\r' || r == '\t'
	})
	cuts := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("parse scenes file %s: %q is not a frame number", path, f)
		}
		cuts = append(cuts, n)
	}
	return cuts, nil
}

// WriteScenes saves cuts as a single comma-separated line.
func WriteScenes(path string, cuts []int) error {
	parts := make([]string, len(cuts))
	for i, c := range cuts {
		parts[i] = strconv.Itoa(c)
	}
	return fileutil.WriteFileAtomic(path, []byte(strings.Join(parts, ",")+"\n"), 0o644)
}
