// Package agentconfig loads and validates the NodeConfig (spec.md §3, §6).
package agentconfig

// NodeConfig is the root configuration document, loaded once at start and
// reloadable on SIGHUP for the whitelisted subset in §4.5.
type NodeConfig struct {
	Device     Device      `yaml:"device"`
	Cameras    []Camera    `yaml:"cameras"`
	Storage    Storage     `yaml:"storage"`
	Server     Server      `yaml:"server"`
	Monitoring Monitoring  `yaml:"monitoring"`
	Advanced   Advanced    `yaml:"advanced"`
	Logging    Logging     `yaml:"logging"`
	Network    *Network    `yaml:"network,omitempty"`
	Fleet      *Fleet      `yaml:"fleet,omitempty"`
	Updates    *Updates    `yaml:"updates,omitempty"`
}

// Device identifies this node.
type Device struct {
	ID          string `yaml:"id"`
	Location    string `yaml:"location"`
	Description string `yaml:"description"`
}

// CameraKind enumerates the three adapter contracts spec.md §4.2 defines.
type CameraKind string

const (
	KindDirect CameraKind = "direct"
	KindStream CameraKind = "stream"
	KindONVIF  CameraKind = "onvif"
)

// Camera is one configured camera. Kind-specific fields are grouped into
// pointers so only the relevant block need be populated.
type Camera struct {
	ID                     string     `yaml:"id"`
	Kind                   CameraKind `yaml:"kind"`
	CaptureIntervalSeconds int        `yaml:"capture_interval_seconds"`
	Resolution             Resolution `yaml:"resolution"`
	FPS                    int        `yaml:"fps"`
	Position               string     `yaml:"position"`

	Direct *DirectCamera `yaml:"direct,omitempty"`
	Stream *StreamCamera `yaml:"stream,omitempty"`
	ONVIF  *ONVIFCamera  `yaml:"onvif,omitempty"`
}

// Resolution is a configured width/height hint passed to adapters.
type Resolution struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// DirectCamera configures a locally-attached video device.
type DirectCamera struct {
	DevicePath    string `yaml:"device_path,omitempty"`
	DeviceIndex   *int   `yaml:"device_index,omitempty"`
	Brightness    *int   `yaml:"brightness,omitempty"`
	Contrast      *int   `yaml:"contrast,omitempty"`
	Saturation    *int   `yaml:"saturation,omitempty"`
	AutoExposure  *bool  `yaml:"auto_exposure,omitempty"`
}

// StreamCamera configures an RTSP stream.
type StreamCamera struct {
	StreamURL  string `yaml:"stream_url"`
	BufferSize int    `yaml:"buffer_size,omitempty"`
}

// ONVIFCamera configures an ONVIF snapshot-over-HTTP source.
type ONVIFCamera struct {
	Address           string `yaml:"address"`
	Port              int    `yaml:"port"`
	Username          string `yaml:"username"`
	Password          string `yaml:"password"`
	WSDLDir           string `yaml:"wsdl_dir,omitempty"`
	RequestTimeoutSec int    `yaml:"request_timeout_seconds,omitempty"`
}

// Storage configures StorageManager's local persistence and eviction policy.
type Storage struct {
	BasePath           string  `yaml:"base_path"`
	MaxSizeGB          float64 `yaml:"max_size_gb"`
	CleanupThresholdGB float64 `yaml:"cleanup_threshold_gb"`
	RetentionDays      int     `yaml:"retention_days"`
}

// Server configures the ingest endpoint the upload worker delivers to.
type Server struct {
	URL        string `yaml:"url"`
	AuthToken  string `yaml:"auth_token"`
	SSLVerify  bool   `yaml:"ssl_verify"`
	CertPath   string `yaml:"cert_path,omitempty"`
	TimeoutSec int    `yaml:"timeout"`
}

// Monitoring configures health-monitor thresholds.
type Monitoring struct {
	HealthCheckIntervalSec int     `yaml:"health_check_interval"`
	MaxCPUPercent          float64 `yaml:"max_cpu_percent"`
	MaxMemoryPercent       float64 `yaml:"max_memory_percent"`
	RestartOnFailure       bool    `yaml:"restart_on_failure"`

	// NTPServer, if set, makes the health-monitor loop cross-check the
	// local clock against it and publish clock_drift_seconds/ntp_healthy
	// in the system snapshot (SPEC_FULL.md DOMAIN STACK enrichment; not a
	// spec.md-mandated field, so an empty value simply skips the check).
	NTPServer string `yaml:"ntp_server,omitempty"`
}

// Advanced holds tuning knobs shared across cameras.
type Advanced struct {
	PollingIntervalSec  float64 `yaml:"polling_interval"`
	ReconnectDelaySec   float64 `yaml:"reconnect_delay"`
	ReconnectAttempts   int     `yaml:"reconnect_attempts"`
	CameraInitWaitSec   float64 `yaml:"camera_init_wait"`
	FFmpegDebug         bool    `yaml:"ffmpeg_debug"`
}

// Logging configures the agentlog factory.
type Logging struct {
	Level         string `yaml:"level"`
	LogDir        string `yaml:"log_dir"`
	LogFile       string `yaml:"log_file"`
	MaxSizeBytes  int64  `yaml:"max_size_bytes"`
	BackupCount   int    `yaml:"backup_count"`
}

// Network configures the WiFi-AP-toggle integration point (external
// collaborator; the core only shells out per §4.7).
type Network struct {
	APInterface string `yaml:"ap_interface,omitempty"`
}

// Fleet configures the bearer-secured /api/fleet/* routes.
type Fleet struct {
	Token              string   `yaml:"token"`
	AllowedConfigKeys  []string `yaml:"allowed_config_keys"`
}

// Updates configures the optional self-update channel.
type Updates struct {
	Enabled bool   `yaml:"enabled"`
	Channel string `yaml:"channel"`
}

// ReloadableFields lists the dotted paths spec.md §4.5 whitelists for live
// application on SIGHUP. Anything not listed here requires a restart.
var ReloadableFields = []string{
	"logging.level",
	"monitoring.health_check_interval",
	"monitoring.max_cpu_percent",
	"monitoring.max_memory_percent",
	"monitoring.restart_on_failure",
	"server.url",
	"server.auth_token",
	"server.timeout",
	"server.ssl_verify",
	"advanced.polling_interval",
	"advanced.reconnect_delay",
	"advanced.reconnect_attempts",
}
