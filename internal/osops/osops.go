// Package osops shells out to the handful of OS-level facilities spec.md
// §1 names as external collaborators the core only drives through a
// narrow interface: the network manager's WiFi AP toggle, systemd's
// service lifecycle, and a scheduled host reboot. Grounded on the
// adapter package's ffmpegRunner abstraction over exec.CommandContext —
// same shape, different external program.
package osops

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// Runner abstracts process execution so callers can substitute a fake in
// tests, matching adapter.ffmpegRunner's contract.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// execRunner shells out for real via os/exec.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s %v: %w: %s", name, args, err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// Ops bundles the OS-level operations the ControlPortal's fleet and
// network routes need. APInterface is the network interface name
// network.ap_interface configures; it's passed to nmcli as the
// connection name toggled up/down.
type Ops struct {
	runner      Runner
	apInterface string
}

// New builds Ops with a real process runner.
func New(apInterface string) *Ops {
	return &Ops{runner: execRunner{}, apInterface: apInterface}
}

// SetWifiAP enables or disables the AP-mode connection profile via
// nmcli, spec.md §4.7's "/api/wifi_ap/{enable,disable}".
func (o *Ops) SetWifiAP(ctx context.Context, enable bool) error {
	if o.apInterface == "" {
		return fmt.Errorf("osops: no ap_interface configured")
	}
	action := "down"
	if enable {
		action = "up"
	}
	_, err := o.runner.Run(ctx, "nmcli", "connection", action, o.apInterface)
	return err
}

// RestartService asks systemd to restart this unit, spec.md §4.7's
// "/api/fleet/service/restart". The unit name is conventionally the
// binary name; systemd itself decides how a self-restart request looks
// to the running process (typically SIGTERM followed by a respawn).
func (o *Ops) RestartService(ctx context.Context, unit string) error {
	_, err := o.runner.Run(ctx, "systemctl", "restart", unit)
	return err
}

// RebootHost schedules a reboot one minute out, spec.md §4.7's "schedules
// a host reboot with a 1-minute delay" — enough time for the HTTP
// response to flush and the fleet controller to receive its 202 before
// the node actually goes down.
func (o *Ops) RebootHost(ctx context.Context) error {
	_, err := o.runner.Run(ctx, "shutdown", "-r", "+1")
	return err
}

// shutdownGrace documents the delay shutdown -r +1 encodes, for callers
// that want to log an ETA alongside the 202 response.
const shutdownGrace = time.Minute
