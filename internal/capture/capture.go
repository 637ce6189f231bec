// Package capture abstracts the market-context collaborator. The orchestrator
// only needs a mapping of timeframe name to artifact reference; an empty
// mapping means the capture failed and the session must abort.
package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mt5-session-bot/internal/logger"
)

// Provider produces one artifact per required timeframe. Implementations
// signal failure by returning an empty map together with the error; the
// caller treats emptiness as a hard session failure either way.
type Provider interface {
	CaptureContext(pair string, timeframes []string) (map[string]string, error)
}

// DirProvider resolves artifacts from a directory an external capture process
// drops files into: for each timeframe it picks the newest regular file whose
// name contains the timeframe token. Retries are bounded; the last failure
// reason is reported, never swallowed.
type DirProvider struct {
	Dir        string
	MaxRetries int
	RetryDelay time.Duration
	// MinSize drops truncated files the external process is still writing.
	MinSize int64
}

func NewDirProvider(dir string, maxRetries int) *DirProvider {
	return &DirProvider{
		Dir:        dir,
		MaxRetries: maxRetries,
		RetryDelay: 2 * time.Second,
		MinSize:    1,
	}
}

// CaptureContext scans the directory up to MaxRetries times until every
// timeframe has an artifact. A partial set after the last attempt is a
// failure: the decision source must never see an incomplete context.
func (p *DirProvider) CaptureContext(pair string, timeframes []string) (map[string]string, error) {
	attempts := p.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(p.RetryDelay)
		}
		found, err := p.scan(pair, timeframes)
		if err != nil {
			lastErr = err
			logger.S().Warnf("Capture attempt %d/%d failed: %v", i+1, attempts, err)
			continue
		}
		if len(found) == len(timeframes) {
			return found, nil
		}
		lastErr = fmt.Errorf("found %d of %d timeframes", len(found), len(timeframes))
		logger.S().Warnf("Capture attempt %d/%d incomplete: %v", i+1, attempts, lastErr)
	}
	return map[string]string{}, fmt.Errorf("capture failed after %d attempts: %w", attempts, lastErr)
}

func (p *DirProvider) scan(pair string, timeframes []string) (map[string]string, error) {
	entries, err := os.ReadDir(p.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture directory %s: %w", p.Dir, err)
	}

	found := make(map[string]string)
	newest := make(map[string]time.Time)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.Size() < p.MinSize {
			continue
		}
		name := strings.ToUpper(e.Name())
		if pair != "" && !strings.Contains(name, strings.ToUpper(pair)) {
			continue
		}
		for _, tf := range timeframes {
			if !strings.Contains(name, strings.ToUpper(tf)) {
				continue
			}
			if info.ModTime().After(newest[tf]) {
				newest[tf] = info.ModTime()
				found[tf] = filepath.Join(p.Dir, e.Name())
			}
		}
	}
	return found, nil
}

// StaticProvider returns a fixed artifact set. Used in tests and dry runs.
type StaticProvider struct {
	Artifacts map[string]string
}

func (p *StaticProvider) CaptureContext(string, []string) (map[string]string, error) {
	if len(p.Artifacts) == 0 {
		return map[string]string{}, fmt.Errorf("no artifacts configured")
	}
	out := make(map[string]string, len(p.Artifacts))
	for k, v := range p.Artifacts {
		out[k] = v
	}
	return out, nil
}
