package adapter

import (
	"strings"
	"testing"

	"github.com/sai-cam/agentd/internal/agentconfig"
)

func TestResolveWSDLDirHonorsConfiguredPath(t *testing.T) {
	dir := t.TempDir()
	cam := agentconfig.Camera{
		ID:   "cam3",
		Kind: agentconfig.KindONVIF,
		ONVIF: &agentconfig.ONVIFCamera{
			Address: "10.0.0.3",
			WSDLDir: dir,
		},
	}
	a, err := NewONVIFAdapter(cam, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.resolveWSDLDir(); err != nil {
		t.Fatalf("resolveWSDLDir() error = %v", err)
	}
	if a.wsdlDir != dir {
		t.Errorf("wsdlDir = %q, want %q", a.wsdlDir, dir)
	}
}

func TestResolveWSDLDirNamesEveryPathSearched(t *testing.T) {
	saved := onvifWSDLCandidates
	onvifWSDLCandidates = []string{"/does/not/exist/a", "/does/not/exist/b"}
	defer func() { onvifWSDLCandidates = saved }()

	cam := agentconfig.Camera{
		ID:    "cam3",
		Kind:  agentconfig.KindONVIF,
		ONVIF: &agentconfig.ONVIFCamera{Address: "10.0.0.3"},
	}
	a, err := NewONVIFAdapter(cam, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	err = a.resolveWSDLDir()
	if err == nil {
		t.Fatal("resolveWSDLDir() expected error when no candidate exists")
	}
	for _, p := range onvifWSDLCandidates {
		if !strings.Contains(err.Error(), p) {
			t.Errorf("error %q does not name searched path %q", err.Error(), p)
		}
	}
}

func TestNewONVIFAdapterRequiresAddress(t *testing.T) {
	cam := agentconfig.Camera{ID: "cam3", Kind: agentconfig.KindONVIF, ONVIF: &agentconfig.ONVIFCamera{}}
	if _, err := NewONVIFAdapter(cam, 0, nil); err == nil {
		t.Fatal("expected error when onvif.address is empty")
	}
}
