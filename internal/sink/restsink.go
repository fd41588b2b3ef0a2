package sink

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/pspoerri/dicomizer/internal/dzerr"
)

// RESTSinkConfig configures a RESTSink (spec.md §6 DICOM REST sink
// parameters: "orthanc, username, password, proxy, timeout, verify-peers,
// ca-certificates").
type RESTSinkConfig struct {
	BaseURL        string
	Username       string
	Password       string
	Proxy          string
	Timeout        time.Duration
	VerifyPeers    bool
	CACertificates string
	Log            *slog.Logger
}

// RESTSink uploads each instance to an Orthanc-compatible DICOM REST server
// via POST /instances, logging the parent series on the first upload
// (spec.md §6).
type RESTSink struct {
	cfg    RESTSinkConfig
	client *http.Client

	mu     sync.Mutex
	logged bool
}

type instanceResponse struct {
	ID           string `json:"ID"`
	ParentSeries string `json:"ParentSeries"`
}

// NewRESTSink builds the HTTP client from cfg (TLS verification, CA bundle,
// proxy, timeout) and returns a ready-to-use sink.
func NewRESTSink(cfg RESTSinkConfig) (*RESTSink, error) {
	transport := &http.Transport{}

	tlsConfig := &tls.Config{InsecureSkipVerify: !cfg.VerifyPeers}
	if cfg.CACertificates != "" {
		pem, err := os.ReadFile(cfg.CACertificates)
		if err != nil {
			return nil, dzerr.Wrap(dzerr.KindUnknownResource, "sink", err, "reading CA bundle %s", cfg.CACertificates)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, dzerr.New(dzerr.KindBadFileFormat, "sink", "no usable certificates in %s", cfg.CACertificates)
		}
		tlsConfig.RootCAs = pool
	}
	transport.TLSClientConfig = tlsConfig

	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, dzerr.Wrap(dzerr.KindParameterOutOfRange, "sink", err, "parsing proxy URL")
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &RESTSink{
		cfg:    cfg,
		client: &http.Client{Transport: transport, Timeout: timeout},
	}, nil
}

// WriteInstance implements writer.Sink: POST the instance bytes to
// /instances and, on the very first successful upload, GET the created
// instance back to log its parent series identifier.
func (s *RESTSink) WriteInstance(data []byte) error {
	req, err := http.NewRequest(http.MethodPost, s.cfg.BaseURL+"/instances", bytes.NewReader(data))
	if err != nil {
		return dzerr.Wrap(dzerr.KindInternal, "sink", err, "building upload request")
	}
	req.Header.Set("Content-Type", "application/dicom")
	if s.cfg.Username != "" {
		req.SetBasicAuth(s.cfg.Username, s.cfg.Password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return dzerr.Wrap(dzerr.KindNetworkProtocol, "sink", err, "uploading instance")
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return dzerr.Wrap(dzerr.KindNetworkProtocol, "sink", err, "reading upload response")
	}
	if resp.StatusCode >= 400 {
		return dzerr.New(dzerr.KindNetworkProtocol, "sink", "upload failed: HTTP %d: %s", resp.StatusCode, body)
	}

	var created instanceResponse
	if err := json.Unmarshal(body, &created); err != nil {
		return dzerr.Wrap(dzerr.KindNetworkProtocol, "sink", err, "parsing upload response")
	}

	s.mu.Lock()
	first := !s.logged
	s.logged = true
	s.mu.Unlock()
	if first {
		s.logParentSeries(created.ID)
	}
	return nil
}

func (s *RESTSink) logParentSeries(instanceID string) {
	if s.cfg.Log == nil || instanceID == "" {
		return
	}
	req, err := http.NewRequest(http.MethodGet, s.cfg.BaseURL+"/instances/"+instanceID, nil)
	if err != nil {
		return
	}
	if s.cfg.Username != "" {
		req.SetBasicAuth(s.cfg.Username, s.cfg.Password)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		s.cfg.Log.Warn("fetching instance metadata for parent series log failed", "error", err)
		return
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return
	}
	var info instanceResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return
	}
	s.cfg.Log.Info("uploaded instance", "instanceId", instanceID, "parentSeries", info.ParentSeries)
}
