package workdir

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	splitDir  = "split"
	encodeDir = "encode"
	probeDir  = "probes"

	// ChunkExt is the container used for source chunks.
	ChunkExt = ".mkv"
	// EncodedExt is the container the encoders write.
	EncodedExt = ".ivf"
)

// Layout resolves paths inside a job's temp directory.
type Layout struct {
	Root string
}

// New returns the layout rooted at root.
func New(root string) Layout {
	return Layout{Root: filepath.Clean(root)}
}

func (l Layout) SplitDir() string   { return filepath.Join(l.Root, splitDir) }
func (l Layout) EncodeDir() string  { return filepath.Join(l.Root, encodeDir) }
func (l Layout) LedgerPath() string { return filepath.Join(l.Root, "done.json") }
func (l Layout) AudioPath() string  { return filepath.Join(l.Root, "audio.mkv") }
func (l Layout) ScenesPath() string { return filepath.Join(l.Root, "scenes.txt") }
func (l Layout) ConcatPath() string { return filepath.Join(l.Root, "concat.txt") }
func (l Layout) LogPath() string    { return filepath.Join(l.Root, "log.log") }

// SplitManifestPath is the record of the last split. split/ is only trusted
// on resume when it is marked complete.
func (l Layout) SplitManifestPath() string { return filepath.Join(l.Root, "split.json") }

// SplitPattern is the segment muxer output template.
func (l Layout) SplitPattern() string { return filepath.Join(l.SplitDir(), "%04d"+ChunkExt) }

// ChunkName formats a zero-based chunk index the way the segment muxer does.
func ChunkName(index int) string { return fmt.Sprintf("%04d", index) }

// SourceChunk is the split file for name.
func (l Layout) SourceChunk(name string) string {
	return filepath.Join(l.SplitDir(), name+ChunkExt)
}

// EncodedChunk is the encoder output for name.
func (l Layout) EncodedChunk(name string) string {
	return filepath.Join(l.EncodeDir(), name+EncodedExt)
}

// StatsFile is the first-pass statistics file for name.
func (l Layout) StatsFile(name string) string {
	return filepath.Join(l.EncodeDir(), name+".fpf")
}

// ProbeDir holds quality probes for name.
func (l Layout) ProbeDir(name string) string {
	return filepath.Join(l.Root, probeDir, name)
}

// SplitChunks lists the chunk names present in split/, sorted ascending.
func (l Layout) SplitChunks() ([]string, error) {
	entries, err := os.ReadDir(l.SplitDir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ChunkExt {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ChunkExt))
	}
	sort.Strings(names)
	return names, nil
}
