package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"mt5-session-bot/internal/bot"
	"mt5-session-bot/internal/capture"
	"mt5-session-bot/internal/channel"
	"mt5-session-bot/internal/config"
	"mt5-session-bot/internal/health"
	"mt5-session-bot/internal/journal"
	"mt5-session-bot/internal/logger"
	"mt5-session-bot/internal/memory"
	"mt5-session-bot/internal/models"
	"mt5-session-bot/internal/oracle"
	"mt5-session-bot/internal/persistence"
	"mt5-session-bot/internal/reporter"
	"mt5-session-bot/internal/server"
	"mt5-session-bot/internal/statemanager"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the config file")
	mode := flag.String("mode", "run", "running mode: run, session, report or export")
	out := flag.String("out", "", "output path for export mode (default: timestamped file in the backup directory)")
	flag.Parse()

	// A default logger first, so config loading itself can log; reinitialized
	// below with the loaded config.
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil {
		logger.S().Info("No .env file found, reading from system environment.")
	} else {
		logger.S().Info("Loaded environment from .env file.")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("Failed to load config: %v", err)
	}

	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	switch *mode {
	case "run":
		runMode(cfg, false)
	case "session":
		runMode(cfg, true)
	case "report":
		reportMode(cfg)
	case "export":
		exportMode(cfg, *out)
	default:
		logger.S().Fatalf("Unknown mode %q. Choose run, session, report or export.", *mode)
	}
}

// runMode starts the full orchestrator. With sessionNow set, one manual
// session is triggered right after startup (the scheduler keeps running
// either way).
func runMode(cfg *models.Config, sessionNow bool) {
	ch := channel.NewChannel(cfg.CommandFile, cfg.StatusFile)
	if err := ch.EnsureFiles(); err != nil {
		logger.S().Fatalf("Failed to prepare channel files: %v", err)
	}

	store := memory.NewStore(cfg.MemoryFile, cfg.BackupDir, cfg.MaxBackups)
	jn := journal.NewJournal(cfg.JournalFile, cfg.JournalCap)

	repo, err := persistence.NewBadgerRepository(cfg.StateDBPath)
	if err != nil {
		logger.S().Fatalf("Failed to open state repository: %v", err)
	}
	defer repo.Close()

	initialState, err := repo.LoadState()
	if err != nil {
		logger.S().Fatalf("Failed to load persisted state: %v", err)
	}
	if initialState != nil && initialState.CurrentTrade != nil {
		logger.S().Infof("Persisted %s trade ticket %d found, monitoring will resume.",
			initialState.CurrentTrade.Direction, initialState.CurrentTrade.Ticket)
	}

	sm := statemanager.NewStateManager(initialState, repo, logger.S().Desugar())
	sm.Start()
	defer sm.Stop()

	prov := capture.NewDirProvider(cfg.ScreenshotsDir, cfg.CaptureMaxRetries)
	decider := oracle.NewFileDecider(cfg.DecisionFile)

	b := bot.NewSessionBot(cfg, ch, store, jn, sm, prov, decider)

	monitor := health.NewMonitor(cfg, ch, store, sm, b.Phase)
	monitor.Start()
	defer monitor.Stop()

	srv := server.NewServer(cfg.ServerListenAddr, monitor, sm, b.Phase)
	b.SetPhaseHook(srv.BroadcastPhase)
	srv.Start()
	defer srv.Stop()

	if err := b.Start(); err != nil {
		logger.S().Fatalf("Failed to start session bot: %v", err)
	}
	defer b.Stop()

	if sessionNow {
		b.RunSessionNow()
	}

	// Block until a shutdown signal. An open trade is left for the next run
	// to resume; nothing is force-closed on exit.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	logger.S().Infof("Received %s, shutting down.", sig)
}

func reportMode(cfg *models.Config) {
	store := memory.NewStore(cfg.MemoryFile, cfg.BackupDir, cfg.MaxBackups)
	jn := journal.NewJournal(cfg.JournalFile, cfg.JournalCap)
	reporter.GenerateReport(store, jn, os.Stdout)
}

func exportMode(cfg *models.Config, out string) {
	store := memory.NewStore(cfg.MemoryFile, cfg.BackupDir, cfg.MaxBackups)
	path, err := store.ExportCSV(out)
	if err != nil {
		logger.S().Fatalf("Export failed: %v", err)
	}
	logger.S().Infof("Exported %d lessons to %s", store.Count(), path)
}
