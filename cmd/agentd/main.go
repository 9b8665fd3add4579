// Command agentd is the edge capture agent's entrypoint: it loads
// NodeConfig, wires the logging, storage, supervisor, and portal layers
// together, and blocks on the OS signal bridge until told to stop.
// Grounded on the teacher's cmd/bridge/main.go (Bridge struct wiring
// config/orchestrator/webServer/updateChecker/systemMonitor/log together,
// Version/GitCommit ldflags, signal-driven shutdown).
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sai-cam/agentd/internal/agentconfig"
	"github.com/sai-cam/agentd/internal/agentlog"
	"github.com/sai-cam/agentd/internal/osops"
	"github.com/sai-cam/agentd/internal/portal"
	"github.com/sai-cam/agentd/internal/supervisor"
	"github.com/sai-cam/agentd/internal/updatestate"
)

// Version is set at build time via -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = flag.String("config", "/etc/sai-cam/config.yaml", "path to the node config file")
		logLevel   = flag.String("log-level", "", "override the configured log level (DEBUG, INFO, WARNING, ERROR)")
		localSave  = flag.Bool("local-save", false, "disable uploads; keep capturing and storing locally")
		portalAddr = flag.String("portal-addr", ":8080", "address the ControlPortal HTTP server listens on")
		staticDir  = flag.String("static-dir", "./portal", "directory the ControlPortal serves static dashboard assets from")
		sockPath   = flag.String("health-socket", "/run/sai-cam/agentd.sock", "path to the HealthSocket unix domain socket")
		updatePath = flag.String("update-state", "/var/lib/sai-cam/update_state.json", "path to the UpdateState JSON file")
		dryRun     = flag.Bool("dry-run", false, "load and validate config, then exit")
	)
	flag.Parse()

	cfg, err := agentconfig.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentd: %v\n", err)
		return 1
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	if *dryRun {
		fmt.Println("config OK")
		return 0
	}

	logger, levelVar, closeLog, err := agentlog.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentd: init logging: %v\n", err)
		return 1
	}
	defer closeLog()

	logger.Info("agentd starting", "version", Version, "device_id", cfg.Device.ID, "config", *configPath)

	sup, err := supervisor.New(cfg, *configPath, *sockPath, supervisor.Options{
		Version:   Version,
		LocalSave: *localSave,
	}, logger)
	if err != nil {
		logger.Error("init supervisor failed", "error", err)
		return 1
	}
	sup.SetLogLevelFunc(func(level string) error {
		return agentlog.SetLevel(levelVar, level)
	})

	var apInterface string
	if cfg.Network != nil {
		apInterface = cfg.Network.APInterface
	}
	ops := osops.New(apInterface)

	srv := portal.New(portal.Deps{
		NodeID:           cfg.Device.ID,
		Version:          Version,
		StartedAt:        time.Now(),
		Config:           sup.Config,
		ConfigPath:       *configPath,
		HealthSocketPath: *sockPath,
		LatestImage: func(cameraID string) ([]byte, string, error) {
			return sup.LatestImage(cameraID)
		},
		StorageStats: func() any {
			return sup.StorageStats()
		},
		UpdateInfo: func() (any, bool) {
			if cfg.Updates == nil {
				return nil, false
			}
			info, err := updatestate.GetUpdateInfo(*updatePath, Version)
			if err != nil {
				return nil, false
			}
			return info, true
		},
		RecentLogs: func(n int) []portal.LogLine {
			return mergedLogLines([]logSource{
				{path: filepath.Join(cfg.Logging.LogDir, cfg.Logging.LogFile), tag: "agent"},
				{path: filepath.Join(filepath.Dir(*updatePath), "update.log"), tag: "update"},
			}, n)
		},
		SetLogLevel: func(level string) error {
			return agentlog.SetLevel(levelVar, level)
		},
		TriggerReload: sup.Reload,
		WifiAP: func(enable bool) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return ops.SetWifiAP(ctx, enable)
		},
		TriggerUpdate: func() error {
			return updatestate.Write(*updatePath, func(s *updatestate.State) {
				s.Status = "pending"
			})
		},
		UpdateInProgress: func() bool {
			s, err := updatestate.Read(*updatePath)
			return err == nil && s.Status == "in_progress"
		},
		RestartService: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return ops.RestartService(ctx, "sai-cam-agentd")
		},
		RebootHost: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return ops.RebootHost(ctx)
		},
		WriteFleetConfigKey: func(key, value string) error {
			return portal.WriteDottedConfigKey(*configPath, key, value)
		},
		Logger: logger,
	}, *staticDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reloadCh := make(chan os.Signal, 1)
	signal.Notify(reloadCh, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-reloadCh:
				if err := sup.Reload(); err != nil {
					logger.Error("reload failed", "error", err)
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- sup.Run(ctx) }()

	go func() {
		if err := srv.Start(*portalAddr); err != nil {
			logger.Error("portal server stopped", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("portal shutdown error", "error", err)
	}

	if err := <-errCh; err != nil {
		logger.Error("supervisor exited with error", "error", err)
		return 1
	}
	logger.Info("agentd stopped cleanly")
	return 0
}

// logSource names one log file and the "source" tag RecentLogs attaches
// to every line it contributes (spec.md §4.7: "camera and update logs").
type logSource struct {
	path string
	tag  string
}

// mergedLogLines tails each source independently, tags every line, and
// keeps only the last n overall. The update log belongs to the external
// update procedure (spec.md §4.8 never has the core write to it) and may
// simply not exist yet on a node that has never run an update.
func mergedLogLines(sources []logSource, n int) []portal.LogLine {
	var lines []portal.LogLine
	for _, src := range sources {
		for _, l := range tailLines(src.path, n) {
			lines = append(lines, portal.LogLine{Source: src.tag, Line: l})
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

// tailLines returns up to the last n lines of the file at path, or nil if
// it doesn't exist or can't be read. It reads the whole file: agentd's log
// files are lumberjack-rotated to a bounded size, so this never means
// scanning an unbounded amount of data.
func tailLines(path string, n int) []string {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	return lines
}
