// Package channel implements the file-based protocol shared with the
// execution terminal: a command file we write (single ASCII digit) and a
// status file the terminal writes (pipe-separated record). The terminal side
// is not under our control, so reads tolerate stale, absent and strangely
// encoded files and report them as sentinel statuses instead of errors.
package channel

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"mt5-session-bot/internal/logger"
	"mt5-session-bot/internal/models"
)

// settleDelay gives the terminal's file watcher time to pick up a freshly
// written command before we move on.
const settleDelay = 100 * time.Millisecond

// decoders is tried in order when the status file is not plain ASCII. The
// terminal has been observed writing Latin-1 and Windows-1252 under Wine.
var decoders = []struct {
	name string
	dec  *encoding.Decoder
}{
	{"latin1", charmap.ISO8859_1.NewDecoder()},
	{"cp1252", charmap.Windows1252.NewDecoder()},
}

// Channel is one command/status file pair.
type Channel struct {
	commandFile string
	statusFile  string
	settle      time.Duration
}

func NewChannel(commandFile, statusFile string) *Channel {
	return &Channel{
		commandFile: commandFile,
		statusFile:  statusFile,
		settle:      settleDelay,
	}
}

// EnsureFiles creates the channel directory, an empty command file and a
// neutral seed status record, so both sides find the files they expect on
// first contact. Existing files are left alone.
func (c *Channel) EnsureFiles() error {
	for _, path := range []string{c.commandFile, c.statusFile} {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("failed to create channel directory for %s: %w", path, err)
		}
	}

	if _, err := os.Stat(c.commandFile); os.IsNotExist(err) {
		if err := os.WriteFile(c.commandFile, []byte(""), 0644); err != nil {
			return fmt.Errorf("failed to create command file: %w", err)
		}
		logger.S().Infof("Created command file %s", c.commandFile)
	}

	if _, err := os.Stat(c.statusFile); os.IsNotExist(err) {
		if err := os.WriteFile(c.statusFile, []byte(SeedStatus()), 0644); err != nil {
			return fmt.Errorf("failed to create status file: %w", err)
		}
		logger.S().Infof("Created status file %s", c.statusFile)
	}
	return nil
}

// SeedStatus is the neutral record a fresh status file starts with.
func SeedStatus() string {
	return fmt.Sprintf("%s|0|0|0|0|%s|System starting", models.StatusWaiting, time.Now().Format("20060102"))
}

// SendCommand writes the command's single-character wire code, replacing any
// previous content, then waits a settle delay so the terminal's poll catches
// the new value before the caller proceeds.
func (c *Channel) SendCommand(cmd models.Command) error {
	code := cmd.Code()
	if code == "" {
		return fmt.Errorf("unknown command %q", cmd)
	}
	if err := os.WriteFile(c.commandFile, []byte(code), 0644); err != nil {
		return fmt.Errorf("failed to write command file: %w", err)
	}
	logger.S().Infof("Command sent to terminal: %s", cmd)
	time.Sleep(c.settle)
	return nil
}

// ReadStatus reads and decodes the terminal status file. It never returns an
// error: failures surface as sentinel records the caller can poll through.
func (c *Channel) ReadStatus() *models.StatusRecord {
	raw, err := os.ReadFile(c.statusFile)
	if os.IsNotExist(err) {
		return &models.StatusRecord{Status: models.StatusFileNotFound, Message: "status file does not exist"}
	}
	if err != nil {
		logger.S().Warnf("Failed to read status file: %v", err)
		return &models.StatusRecord{Status: models.StatusUnreadable, Message: err.Error()}
	}

	content, ok := decodeASCII(raw)
	if !ok {
		return &models.StatusRecord{Status: models.StatusUnreadable, Message: "file contains unreadable data"}
	}

	return parseStatus(content)
}

// decodeASCII turns raw bytes into a clean ASCII string. Plain ASCII passes
// through; otherwise each decoder is tried in order and its output accepted
// only when it comes out pure ASCII after trimming. The terminal protocol is
// ASCII by contract, so anything else is noise from the wrong codepage.
func decodeASCII(raw []byte) (string, bool) {
	if s := strings.TrimSpace(string(raw)); s != "" && isASCII(s) {
		return s, true
	}
	for _, d := range decoders {
		out, err := d.dec.Bytes(raw)
		if err != nil {
			continue
		}
		if s := strings.TrimSpace(string(out)); s != "" && isASCII(s) {
			return s, true
		}
	}
	return "", false
}

func isASCII(s string) bool {
	for _, r := range s {
		if r >= 128 {
			return false
		}
	}
	return true
}

// parseStatus splits a pipe-separated record. Fewer than six fields is a
// malformed write (the terminal was likely mid-write); numeric fields that
// fail to parse degrade to zero rather than killing the poll.
func parseStatus(content string) *models.StatusRecord {
	parts := strings.Split(content, "|")
	if len(parts) < 6 {
		return &models.StatusRecord{
			Status:  models.StatusParseError,
			Message: fmt.Sprintf("invalid format: %s", content),
			Raw:     content,
		}
	}

	rec := &models.StatusRecord{
		Status:     strings.TrimSpace(parts[0]),
		Ticket:     parseTicket(parts[1]),
		Entry:      parseFloat(parts[2]),
		StopLoss:   parseFloat(parts[3]),
		TakeProfit: parseFloat(parts[4]),
		Timestamp:  parts[5],
		Raw:        content,
	}
	if len(parts) > 6 {
		rec.Message = parts[6]
	}
	return rec
}

func parseTicket(s string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

// CheckCommandWritable probes the command file for writability without
// disturbing its content.
func (c *Channel) CheckCommandWritable() error {
	f, err := os.OpenFile(c.commandFile, os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	return f.Close()
}

// CommandFile returns the command file path. The health monitor watches its
// directory.
func (c *Channel) CommandFile() string { return c.commandFile }

// StatusFile returns the status file path.
func (c *Channel) StatusFile() string { return c.statusFile }
