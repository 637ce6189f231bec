package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"mt5-session-bot/internal/logger"
)

// FileDecider reads the decision from a JSON drop file the analysis
// collaborator writes alongside the channel files. The file is consumed on
// read so a stale decision is never replayed into a later session; no file
// means no decision, which validates down to WAIT.
type FileDecider struct {
	path string
}

func NewFileDecider(path string) *FileDecider {
	return &FileDecider{path: path}
}

func (d *FileDecider) Decide(_ context.Context, _ map[string]string, _ string) (*RawDecision, error) {
	raw, err := os.ReadFile(d.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read decision file: %w", err)
	}

	var decision RawDecision
	if err := json.Unmarshal(raw, &decision); err != nil {
		return nil, fmt.Errorf("failed to parse decision file: %w", err)
	}

	if err := os.Remove(d.path); err != nil {
		logger.S().Warnf("Failed to consume decision file %s: %v", d.path, err)
	}
	return &decision, nil
}
