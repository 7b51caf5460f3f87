package persist

import (
	"path/filepath"

	"github.com/roasbeef/dap-relay/adapter"
)

// breakpointsFile is the on-disk document for one project's breakpoints.
type breakpointsFile struct {
	ProjectRoot string                                `json:"project_root"`
	Breakpoints map[string][]adapter.SourceBreakpoint `json:"breakpoints"`
}

// BreakpointStore persists per-project breakpoints, one JSON file per
// project keyed by the project-root path hash. An empty breakpoint map is
// represented by the absence of the file.
type BreakpointStore struct {
	baseDir string
}

// NewBreakpointStore creates a store rooted at baseDir.
func NewBreakpointStore(baseDir string) *BreakpointStore {
	return &BreakpointStore{baseDir: baseDir}
}

func (s *BreakpointStore) path(projectRoot string) string {
	return filepath.Join(s.baseDir, ProjectID(projectRoot)+".json")
}

// Load returns all breakpoints for a project, keyed by source path. A
// missing file loads as an empty map.
func (s *BreakpointStore) Load(projectRoot string) (map[string][]adapter.SourceBreakpoint, error) {
	var doc breakpointsFile
	found, err := readJSON(s.path(projectRoot), &doc)
	if err != nil {
		return nil, err
	}
	if !found || doc.Breakpoints == nil {
		return map[string][]adapter.SourceBreakpoint{}, nil
	}
	return doc.Breakpoints, nil
}

// Save replaces the project's breakpoint document. Files with no
// breakpoints are filtered out; if nothing remains the document is
// deleted so no stale empty files accumulate.
func (s *BreakpointStore) Save(projectRoot string,
	breakpoints map[string][]adapter.SourceBreakpoint) error {

	filtered := make(map[string][]adapter.SourceBreakpoint)
	for path, bps := range breakpoints {
		if len(bps) > 0 {
			filtered[path] = bps
		}
	}

	if len(filtered) == 0 {
		deleteFile(s.path(projectRoot))
		return nil
	}

	return atomicWrite(s.path(projectRoot), breakpointsFile{
		ProjectRoot: projectRoot,
		Breakpoints: filtered,
	})
}

// UpdateFile replaces the breakpoints of a single source file within the
// project document, reading and rewriting the whole document.
func (s *BreakpointStore) UpdateFile(projectRoot, sourcePath string,
	breakpoints []adapter.SourceBreakpoint) error {

	all, err := s.Load(projectRoot)
	if err != nil {
		return err
	}

	if len(breakpoints) > 0 {
		all[sourcePath] = breakpoints
	} else {
		delete(all, sourcePath)
	}

	return s.Save(projectRoot, all)
}

// Clear removes the project's breakpoint document.
func (s *BreakpointStore) Clear(projectRoot string) {
	deleteFile(s.path(projectRoot))
}
