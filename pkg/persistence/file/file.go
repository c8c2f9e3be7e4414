// Package file provides file-based persistence: one JSON document per
// workflow and execution, plus an append-only JSONL log per execution.
// Suited to single-process deployments and tests.
package file

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	dirMode  = 0750
	fileMode = 0600
)

// Persistence implements the persistence.Persistence interface on the
// local file system.
type Persistence struct {
	root string

	// logMu serializes log appends so concurrent executions cannot
	// interleave partial lines in the same file.
	logMu sync.Mutex
}

// NewPersistence creates a file store rooted at the given directory. A
// "file://" URL prefix is accepted and stripped.
func NewPersistence(root string) (*Persistence, error) {
	cleanRoot := strings.TrimPrefix(root, "file://")

	for _, dir := range []string{"workflows", "executions", "logs"} {
		if err := os.MkdirAll(filepath.Join(cleanRoot, dir), dirMode); err != nil {
			return nil, err
		}
	}

	return &Persistence{root: cleanRoot}, nil
}

// Close performs any necessary cleanup. For file-based persistence, there
// is nothing to clean up.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory still exists.
func (p *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(p.root); err != nil {
		return err
	}

	return nil
}

func (p *Persistence) workflowPath(id string) string {
	return filepath.Clean(filepath.Join(p.root, "workflows", id+".json"))
}

func (p *Persistence) executionPath(id string) string {
	return filepath.Clean(filepath.Join(p.root, "executions", id+".json"))
}

func (p *Persistence) logPath(executionID string) string {
	return filepath.Clean(filepath.Join(p.root, "logs", executionID+".jsonl"))
}
