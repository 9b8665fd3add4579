package adapter

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/sai-cam/agentd/internal/agentconfig"
)

// New builds the Adapter implementation for cam.Kind, the small factory
// keyed by kind spec.md §9 calls for in place of the source's duck-typed
// polymorphism. logger may be nil; every adapter treats a nil logger as
// "don't log" the same way capture.Instance does.
func New(cam agentconfig.Camera, initWait time.Duration, ffmpegDebug bool, logger *slog.Logger) (Adapter, error) {
	switch cam.Kind {
	case agentconfig.KindDirect:
		return NewDirectAdapter(cam, initWait, ffmpegDebug, logger)
	case agentconfig.KindStream:
		return NewStreamAdapter(cam, initWait, ffmpegDebug, logger)
	case agentconfig.KindONVIF:
		return NewONVIFAdapter(cam, initWait, logger)
	default:
		return nil, fmt.Errorf("camera %s: unknown kind %q", cam.ID, cam.Kind)
	}
}
