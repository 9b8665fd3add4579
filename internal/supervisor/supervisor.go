// Package supervisor implements CaptureService (spec.md §4.5): the
// top-level per-node coordinator that owns the set of CameraInstances, the
// failed-camera retry queue, the upload worker, the health bus, and the
// IPC listener. Grounded on the teacher's internal/scheduler.Orchestrator
// (capture-worker map, upload worker, resource limiter, single
// cancellation context) generalized from aviationwx-bridge's fixed camera
// set to sai-cam's init-failure/retry/restart lifecycle, and on
// golang.org/x/sync/errgroup for worker-group coordination per
// SPEC_FULL.md's DOMAIN STACK.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sai-cam/agentd/internal/adapter"
	"github.com/sai-cam/agentd/internal/agentclock"
	"github.com/sai-cam/agentd/internal/agentconfig"
	"github.com/sai-cam/agentd/internal/camstate"
	"github.com/sai-cam/agentd/internal/capture"
	"github.com/sai-cam/agentd/internal/health"
	"github.com/sai-cam/agentd/internal/healthsock"
	"github.com/sai-cam/agentd/internal/storage"
	"github.com/sai-cam/agentd/internal/upload"
)

// uploadQueueCapacity mirrors the original implementation's fixed-size
// upload queue (src/camera_service.py: Queue(maxsize=1000)): once full,
// a CameraInstance's enqueue blocks (its select also watches the
// supervisor context), naturally throttling capture under a backlog.
const uploadQueueCapacity = 1000

// Options carries the process-level choices made on the command line
// (spec.md §6 CLI surface) that Run needs but that don't belong in
// NodeConfig.
type Options struct {
	Version   string
	LocalSave bool // --local-save: disable uploads, keep storing
}

// cameraEntry bundles one live CameraInstance with the pieces Run needs to
// stop and restart it independently.
type cameraEntry struct {
	instance *capture.Instance
	tracker  *camstate.Tracker
	adapter  adapter.Adapter
	cfg      agentconfig.Camera
	ctx      context.Context
	cancel   context.CancelFunc
	alive    *boolFlag
	done     chan struct{}
}

// failedEntry is spec.md §3's FailedCameraEntry: a camera with no live
// CameraInstance because construction or initial connect failed.
type failedEntry struct {
	cfg         agentconfig.Camera
	attempts    int
	nextRetryAt time.Time
}

// Supervisor is CaptureService: it owns the CameraInstance set, the
// failed-camera map, the upload queue, and the health bus, per spec.md §3's
// ownership rules.
type Supervisor struct {
	cfgPath string
	opts    Options
	logger  *slog.Logger
	clock   agentclock.Clock
	limiter *agentclock.RateLimiter

	identity capture.NodeIdentity
	storageM *storage.Manager
	sampler  health.Sampler

	mu        sync.Mutex
	cfg       *agentconfig.NodeConfig
	cameras   map[string]*cameraEntry
	failed    map[string]*failedEntry
	uploadCli *upload.Client

	uploadCh   chan upload.Item
	uploadOff  *boolFlag
	healthSock *healthsock.Server
	sockPath   string

	countersMu sync.Mutex
	counters   health.Counters

	startedAt time.Time

	runCancel   context.CancelFunc
	setLogLevel func(string) error
}

// boolFlag is a tiny atomic-bool wrapper used for the handful of
// supervisor-wide flags (camera liveness, upload-disabled) that are read
// far more often than written.
type boolFlag struct {
	mu sync.RWMutex
	v  bool
}

func (f *boolFlag) Get() bool  { f.mu.RLock(); defer f.mu.RUnlock(); return f.v }
func (f *boolFlag) Set(v bool) { f.mu.Lock(); f.v = v; f.mu.Unlock() }

// New builds a Supervisor from a loaded NodeConfig. It does not start any
// workers; call Run for that.
func New(cfg *agentconfig.NodeConfig, cfgPath, sockPath string, opts Options, logger *slog.Logger) (*Supervisor, error) {
	mgr, err := storage.New(storage.Config{
		BasePath:           cfg.Storage.BasePath,
		MaxSizeGB:          cfg.Storage.MaxSizeGB,
		CleanupThresholdGB: cfg.Storage.CleanupThresholdGB,
		RetentionDays:      cfg.Storage.RetentionDays,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("supervisor: init storage: %w", err)
	}

	uploadCli, err := upload.New(upload.Config{
		URL:        cfg.Server.URL,
		AuthToken:  cfg.Server.AuthToken,
		SSLVerify:  cfg.Server.SSLVerify,
		CertPath:   cfg.Server.CertPath,
		TimeoutSec: cfg.Server.TimeoutSec,
	})
	if err != nil {
		return nil, fmt.Errorf("supervisor: init upload client: %w", err)
	}

	now := time.Now()
	s := &Supervisor{
		cfgPath:   cfgPath,
		opts:      opts,
		logger:    logger,
		clock:     agentclock.New(),
		limiter:   agentclock.NewRateLimiter(5*time.Minute, agentclock.New()),
		storageM:  mgr,
		sampler:   health.Sampler{DiskPath: cfg.Storage.BasePath, NTPServer: cfg.Monitoring.NTPServer},
		cfg:       cfg,
		cameras:   make(map[string]*cameraEntry),
		failed:    make(map[string]*failedEntry),
		uploadCli: uploadCli,
		uploadCh:  make(chan upload.Item, uploadQueueCapacity),
		uploadOff: &boolFlag{},
		sockPath:  sockPath,
		startedAt: now,
		identity: capture.NodeIdentity{
			DeviceID:    cfg.Device.ID,
			Location:    cfg.Device.Location,
			Description: cfg.Device.Description,
			Version:     opts.Version,
			StartedAt:   now,
		},
	}
	s.uploadOff.Set(opts.LocalSave)
	return s, nil
}

// SetLogLevelFunc wires the process's live slog.LevelVar setter into the
// supervisor so Reload can apply logging.level the same way the
// ControlPortal's /api/log_level route does (spec.md §4.5, §4.7).
func (s *Supervisor) SetLogLevelFunc(f func(string) error) {
	s.setLogLevel = f
}

// Run builds every configured camera, launches all workers (per-camera
// capture loops, the upload worker, the health monitor, the storage
// cleanup loop, the failed-camera retry loop, and the IPC listener), and
// blocks until ctx is cancelled. It always returns nil: per spec.md §4.5,
// no single worker's failure is allowed to kill the process, and Run's own
// errgroup only ever returns via the context being cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.runCancel = cancel
	defer cancel()

	s.buildInitialCameras(runCtx)

	sock, err := healthsock.Listen(s.sockPath, healthsock.Handlers{
		Health:        func() health.Snapshot { return s.Snapshot() },
		ForceCapture:  s.ForceCapture,
		RestartCamera: s.RestartCamera,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("supervisor: listen health socket: %w", err)
	}
	s.healthSock = sock

	g, gctx := errgroup.WithContext(runCtx)
	stopCh := make(chan struct{})
	go func() {
		<-gctx.Done()
		close(stopCh)
	}()

	g.Go(func() error { s.healthSock.Serve(stopCh); return nil })
	g.Go(func() error { s.uploadWorker(gctx); return nil })
	g.Go(func() error { s.storageM.RunPeriodic(stopCh); return nil })
	g.Go(func() error { s.retryLoop(gctx); return nil })
	g.Go(func() error { s.healthMonitorLoop(gctx); return nil })
	g.Go(func() error { s.watchdogLoop(gctx); return nil })

	<-runCtx.Done()
	s.shutdown()
	_ = g.Wait()
	return nil
}

// Stop cancels Run's context, triggering the graceful shutdown sequence.
func (s *Supervisor) Stop() {
	if s.runCancel != nil {
		s.runCancel()
	}
}

// shutdown stops every CameraInstance and releases the IPC socket, per
// spec.md §5's termination-signal flow.
func (s *Supervisor) shutdown() {
	s.mu.Lock()
	entries := make([]*cameraEntry, 0, len(s.cameras))
	for _, e := range s.cameras {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	for _, e := range entries {
		e.instance.Stop()
		e.cancel()
		<-e.done
	}

	if s.healthSock != nil {
		_ = s.healthSock.Close()
	}
}

// buildInitialCameras attempts to initialize every configured camera.
// Failures are moved into the failed-camera map with attempts=1 and a
// scheduled retry rather than aborting startup (spec.md §4.5).
func (s *Supervisor) buildInitialCameras(ctx context.Context) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	for _, cam := range cfg.Cameras {
		entry, err := s.tryInitializeCamera(ctx, cam)
		if err != nil {
			s.logger.Warn("camera init failed, queued for retry", "camera_id", cam.ID, "error", err)
			s.mu.Lock()
			s.failed[cam.ID] = &failedEntry{
				cfg:         cam,
				attempts:    1,
				nextRetryAt: s.clock.Now().Add(retryInterval(cam.CaptureIntervalSeconds, 1)),
			}
			s.mu.Unlock()
			continue
		}
		s.mu.Lock()
		s.cameras[cam.ID] = entry
		s.mu.Unlock()
		s.spawnCamera(entry)
	}
}

// tryInitializeCamera builds the adapter and StateTracker for cam and runs
// Setup once. It never registers the resulting entry in s.cameras/s.failed
// itself; callers decide which map it belongs in.
func (s *Supervisor) tryInitializeCamera(ctx context.Context, cam agentconfig.Camera) (*cameraEntry, error) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	initWait := time.Duration(cfg.Advanced.CameraInitWaitSec * float64(time.Second))
	a, err := adapter.New(cam, initWait, cfg.Advanced.FFmpegDebug, s.logger)
	if err != nil {
		return nil, err
	}

	setupCtx, setupCancel := context.WithTimeout(ctx, 30*time.Second)
	defer setupCancel()
	if err := a.Setup(setupCtx); err != nil {
		a.Cleanup()
		return nil, err
	}

	tracker := camstate.New(cam.ID, time.Duration(cam.CaptureIntervalSeconds)*time.Second, s.clock, s.limiter, s.logger)

	camCtx, camCancel := context.WithCancel(ctx)
	instance := capture.New(capture.Config{
		Camera:         cam,
		Adapter:        a,
		Tracker:        tracker,
		Storage:        s.storageM,
		UploadQueue:    s.uploadCh,
		Sampler:        s.sampler,
		Identity:       s.identity,
		Clock:          s.clock,
		Logger:         s.logger,
		PollInterval:   time.Duration(cfg.Advanced.PollingIntervalSec * float64(time.Second)),
		ReconnectDelay: time.Duration(cfg.Advanced.ReconnectDelaySec * float64(time.Second)),
	})

	return &cameraEntry{
		instance: instance,
		tracker:  tracker,
		adapter:  a,
		cfg:      cam,
		ctx:      camCtx,
		cancel:   camCancel,
		alive:    &boolFlag{},
		done:     make(chan struct{}),
	}, nil
}

// spawnCamera launches entry's capture loop in its own goroutine. It is
// not part of the supervisor's errgroup: a single camera's Run never
// returns an error, and tracking per-camera liveness happens through
// entry.alive / entry.done instead, per spec.md §5's "no lock hierarchies
// between components".
func (s *Supervisor) spawnCamera(entry *cameraEntry) {
	entry.alive.Set(true)
	go func() {
		defer close(entry.done)
		defer entry.alive.Set(false)
		entry.instance.Run(entry.ctx)
	}()
}

func retryInterval(captureIntervalSeconds, attempts int) time.Duration {
	mult := 1 << uint(attempts-1)
	if mult > 12 {
		mult = 12
	}
	return time.Duration(captureIntervalSeconds) * time.Second * time.Duration(mult)
}
