package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
)

const (
	segmentExtension = ".log"
	deletedExtension = ".deleted"
)

// segmentFiles names the files of one journal inside its directory.
type segmentFiles struct {
	dir  string
	name string
	seq  atomic.Int64
}

func newSegmentFiles(dir, name string) *segmentFiles {
	return &segmentFiles{dir: dir, name: name}
}

// segmentPath returns <dir>/<name>-<id>.log.
func (f *segmentFiles) segmentPath(id int64) string {
	return filepath.Join(f.dir, fmt.Sprintf("%s-%d%s", f.name, id, segmentExtension))
}

// deletedPath returns a unique <dir>/<name>-<id>.log.<seq>.deleted, so a
// segment id reused after a reset never collides with a pending deletion.
func (f *segmentFiles) deletedPath(id int64) string {
	return fmt.Sprintf("%s.%d%s", f.segmentPath(id), f.seq.Add(1), deletedExtension)
}

// parseSegmentID returns the id encoded in a segment file name belonging to
// this journal.
func (f *segmentFiles) parseSegmentID(fileName string) (int64, bool) {
	prefix := f.name + "-"
	if !strings.HasPrefix(fileName, prefix) || !strings.HasSuffix(fileName, segmentExtension) {
		return 0, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(fileName, prefix), segmentExtension)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (f *segmentFiles) isDeletedFile(fileName string) bool {
	return strings.HasPrefix(fileName, f.name+"-") && strings.HasSuffix(fileName, deletedExtension)
}

// SegmentFile is a segment file found in a journal directory.
type SegmentFile struct {
	ID   int64
	Path string
}

// ListSegmentFiles returns the segment files of the named journal in dir,
// ordered by id. Files pending deletion are not included.
func ListSegmentFiles(dir, name string) ([]SegmentFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list journal directory: %w", err)
	}

	names := newSegmentFiles(dir, name)
	var files []SegmentFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if id, ok := names.parseSegmentID(entry.Name()); ok {
			files = append(files, SegmentFile{ID: id, Path: filepath.Join(dir, entry.Name())})
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })
	return files, nil
}
