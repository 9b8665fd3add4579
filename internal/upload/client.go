// Package upload delivers UploadItems to the ingest endpoint over HTTP
// multipart, grounded on the teacher's internal/upload FTP/SFTP client:
// same retry-is-the-caller's-job shape (a transient failure just means the
// item stays pending), same bearer/TLS config surface, but the wire
// protocol is multipart/form-data over HTTPS rather than FTPS/SFTP.
package upload

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"time"
)

// Item is one unit of work handed from a CameraInstance to the upload
// worker: bytes plus the sidecar metadata and the key they're filed under.
type Item struct {
	Key            string
	Bytes          []byte
	Metadata       []byte // pre-marshaled JSON, written verbatim as metadata.json
	SourceCameraID string
}

// Config configures the ingest endpoint, mirroring NodeConfig.Server.
type Config struct {
	URL        string
	AuthToken  string
	SSLVerify  bool
	CertPath   string
	TimeoutSec int
}

// Client posts Items to a fixed ingest endpoint. It carries no retry state
// of its own: Deliver reports success or failure and the caller (the
// upload worker) decides whether to keep the item pending.
type Client struct {
	httpClient *http.Client
	cfg        Config
}

// New builds a Client. When SSLVerify is false, certificate verification
// is disabled — an explicit, logged-by-the-caller opt-out for self-signed
// ingest endpoints in constrained deployments, never a default.
func New(cfg Config) (*Client, error) {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	tlsConfig := &tls.Config{InsecureSkipVerify: !cfg.SSLVerify}
	if cfg.CertPath != "" {
		pool, err := loadCertPool(cfg.CertPath)
		if err != nil {
			return nil, fmt.Errorf("upload: load cert_path %s: %w", cfg.CertPath, err)
		}
		tlsConfig.RootCAs = pool
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
		},
		cfg: cfg,
	}, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}

// Deliver POSTs item as a two-part multipart body: "image" (the JPEG
// bytes) and "metadata" (metadata.json). A 2xx response is success;
// anything else, including a transport error, is reported so the item
// stays pending for the next pass.
func (c *Client) Deliver(ctx context.Context, item Item) error {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	imgPart, err := w.CreateFormFile("image", item.Key)
	if err != nil {
		return fmt.Errorf("upload: build image part: %w", err)
	}
	if _, err := imgPart.Write(item.Bytes); err != nil {
		return fmt.Errorf("upload: write image part: %w", err)
	}

	metaHeader := make(map[string][]string)
	metaHeader["Content-Disposition"] = []string{`form-data; name="metadata"; filename="metadata.json"`}
	metaHeader["Content-Type"] = []string{"application/json"}
	metaPart, err := w.CreatePart(metaHeader)
	if err != nil {
		return fmt.Errorf("upload: build metadata part: %w", err)
	}
	if _, err := metaPart.Write(item.Metadata); err != nil {
		return fmt.Errorf("upload: write metadata part: %w", err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("upload: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, &body)
	if err != nil {
		return fmt.Errorf("upload: build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload: %s: %w", item.Key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upload: %s: ingest returned %d", item.Key, resp.StatusCode)
	}
	return nil
}

// Reconfigure swaps the endpoint settings live, used by the supervisor's
// SIGHUP handler for the server.{url,auth_token,timeout,ssl_verify}
// reloadable fields. A changed ssl_verify installs a fresh transport and
// closes the old one's idle connections; cert_path stays as New loaded it.
func (c *Client) Reconfigure(cfg Config) {
	c.cfg.URL = cfg.URL
	c.cfg.AuthToken = cfg.AuthToken
	c.cfg.TimeoutSec = cfg.TimeoutSec
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c.httpClient.Timeout = timeout
	if t, ok := c.httpClient.Transport.(*http.Transport); ok && cfg.SSLVerify != c.cfg.SSLVerify {
		tlsConfig := t.TLSClientConfig.Clone()
		tlsConfig.InsecureSkipVerify = !cfg.SSLVerify
		c.httpClient.Transport = &http.Transport{TLSClientConfig: tlsConfig}
		t.CloseIdleConnections()
	}
	c.cfg.SSLVerify = cfg.SSLVerify
}
