package models

import (
	"fmt"
	"time"
)

// Config holds every runtime parameter of the session bot.
type Config struct {
	Pair       string   `json:"pair"`       // instrument symbol, e.g. "EURUSD"
	Timeframes []string `json:"timeframes"` // chart timeframes required per session, e.g. ["H4","H1","M15"]

	DailySessionTime      string       `json:"daily_session_time"`       // wall-clock trigger for the daily session, "HH:MM"
	MonitoringIntervalMin int          `json:"monitoring_interval_min"`  // monitoring re-entry tick, minutes
	StatusPollIntervalSec int          `json:"status_poll_interval_sec"` // status file poll interval while a trade is open
	TradingHours          TradingHours `json:"trading_hours"`

	CommandFile    string `json:"command_file"`  // written by us, read by the execution terminal
	StatusFile     string `json:"status_file"`   // written by the terminal, read by us
	DecisionFile   string `json:"decision_file"` // JSON drop file written by the decision collaborator
	ScreenshotsDir string `json:"screenshots_dir"`

	MemoryFile string `json:"memory_file"`
	BackupDir  string `json:"backup_dir"`
	MaxBackups int    `json:"max_backups"`

	JournalFile string `json:"journal_file"`
	JournalCap  int    `json:"journal_cap"`

	StateDBPath string `json:"state_db_path"` // badger directory for the trade-state repository

	HealthCheckIntervalSec int `json:"health_check_interval_sec"`

	CaptureMaxRetries int `json:"capture_max_retries"`

	ServerListenAddr string `json:"server_listen_addr"` // empty disables the status server

	LogConfig LogConfig `json:"log"`
}

// TradingHours bounds the monitoring window, "HH:MM" local time.
type TradingHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// LogConfig mirrors the logger setup: level, output target and rotation policy.
type LogConfig struct {
	Level      string `json:"level"`       // "debug", "info", "warn", "error"
	Output     string `json:"output"`      // "console", "file", "both"
	File       string `json:"file"`        // log file path
	MaxSize    int    `json:"max_size"`    // max size of a single log file (MB)
	MaxBackups int    `json:"max_backups"` // max number of rotated files kept
	MaxAge     int    `json:"max_age"`     // max age of rotated files (days)
	Compress   bool   `json:"compress"`    // compress rotated files
}

// DefaultConfig returns the compiled-in defaults. A loaded config file is
// merged on top of these, so a partial file is always usable.
func DefaultConfig() *Config {
	return &Config{
		Pair:                  "EURUSD",
		Timeframes:            []string{"H4", "H1", "M15"},
		DailySessionTime:      "13:00",
		MonitoringIntervalMin: 15,
		StatusPollIntervalSec: 5,
		TradingHours: TradingHours{
			Start: "14:00",
			End:   "17:00",
		},
		CommandFile:            "mt5/trading_commands.txt",
		StatusFile:             "mt5/trade_status.txt",
		DecisionFile:           "mt5/trading_decision.json",
		ScreenshotsDir:         "trading_screenshots",
		MemoryFile:             "trading_memory.json",
		BackupDir:              "backups",
		MaxBackups:             10,
		JournalFile:            "decision_journal.json",
		JournalCap:             100,
		StateDBPath:            "state_db",
		HealthCheckIntervalSec: 60,
		CaptureMaxRetries:      3,
		ServerListenAddr:       "",
		LogConfig: LogConfig{
			Level:  "info",
			Output: "console",
		},
	}
}

// ValidationError reports a rejected lesson input. It is returned before any
// mutation of the store happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// Lesson is one recorded trading insight.
type Lesson struct {
	ID        string    `json:"id"`   // "L<sequence>", strictly increasing
	Date      string    `json:"date"` // calendar day, "2006-01-02"
	Pair      string    `json:"pair"` // normalized upper-case
	Type      string    `json:"type"`
	Context   string    `json:"context"`
	Rule      string    `json:"rule"`
	Result    string    `json:"result"` // free text, may embed a signed pip quantity
	Relevance int       `json:"relevance"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MemoryData is the persisted aggregate behind the lesson store.
type MemoryData struct {
	Lessons      []Lesson       `json:"lessons"`
	LastLessonID int            `json:"last_lesson_id"`
	Metadata     MemoryMetadata `json:"metadata"`
}

// MemoryMetadata tracks store-level bookkeeping. LessonCount must always
// equal len(Lessons); load-time validation enforces it.
type MemoryMetadata struct {
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	LessonCount int       `json:"lesson_count"`
}
