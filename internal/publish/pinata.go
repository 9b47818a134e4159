package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"refiner/internal/metrics"
)

const (
	DefaultPinataEndpoint = "https://api.pinata.cloud"
	DefaultGatewayURL     = "https://gateway.pinata.cloud/ipfs"
)

// PinataOptions configures the Pinata pinning sink.
type PinataOptions struct {
	APIKey    string
	APISecret string
	// Endpoint is the API base URL. Defaults to DefaultPinataEndpoint.
	Endpoint string
	// GatewayURL prefixes the database CID in Receipt.URL. Defaults to DefaultGatewayURL.
	GatewayURL string
	// MaxAttempts per upload; 429 and 5xx responses are retried. Defaults to 3.
	MaxAttempts int
	// BaseBackoff is the first retry delay, doubled per attempt. Defaults to 500ms.
	BaseBackoff time.Duration
	Client      *http.Client

	sleep func(ctx context.Context, d time.Duration) bool
}

// Pinata pins artifacts to IPFS through the Pinata API.
type Pinata struct {
	opts PinataOptions
}

// NewPinata validates credentials and fills defaults.
func NewPinata(opts PinataOptions) (*Pinata, error) {
	if strings.TrimSpace(opts.APIKey) == "" || strings.TrimSpace(opts.APISecret) == "" {
		return nil, errors.New("publish: pinata api key and secret are required")
	}
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultPinataEndpoint
	}
	if opts.GatewayURL == "" {
		opts.GatewayURL = DefaultGatewayURL
	}
	opts.Endpoint = strings.TrimRight(opts.Endpoint, "/")
	opts.GatewayURL = strings.TrimRight(opts.GatewayURL, "/")
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 500 * time.Millisecond
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 5 * time.Minute}
	}
	if opts.sleep == nil {
		opts.sleep = sleepContext
	}
	return &Pinata{opts: opts}, nil
}

func (p *Pinata) Name() string { return "pinata" }

// Publish pins the schema document, then the database file. Receipt.URL is
// "<gateway>/<database cid>".
func (p *Pinata) Publish(ctx context.Context, a Artifacts) (Receipt, error) {
	var r Receipt

	schemaCID, err := p.pinJSON(ctx, a.SchemaJSON)
	if err != nil {
		return r, fmt.Errorf("publish: pin schema: %w", err)
	}
	r.SchemaCID = schemaCID

	dbCID, err := p.pinFile(ctx, a.DatabasePath)
	if err != nil {
		return r, fmt.Errorf("publish: pin database: %w", err)
	}
	r.DatabaseCID = dbCID
	r.URL = p.opts.GatewayURL + "/" + dbCID
	return r, nil
}

type pinResponse struct {
	IpfsHash string `json:"IpfsHash"`
}

func (p *Pinata) pinJSON(ctx context.Context, doc []byte) (string, error) {
	if !json.Valid(doc) {
		return "", errors.New("schema document is not valid JSON")
	}
	body := func() (io.Reader, string, error) {
		return bytes.NewReader(doc), "application/json", nil
	}
	return p.pin(ctx, "/pinning/pinJSONToIPFS", body)
}

func (p *Pinata) pinFile(ctx context.Context, path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	body := func() (io.Reader, string, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, "", err
		}
		pr, pw := io.Pipe()
		mw := multipart.NewWriter(pw)
		go func() {
			defer f.Close()
			part, err := mw.CreateFormFile("file", filepath.Base(path))
			if err == nil {
				_, err = io.Copy(part, f)
			}
			if err == nil {
				err = mw.Close()
			}
			pw.CloseWithError(err)
		}()
		return pr, mw.FormDataContentType(), nil
	}
	return p.pin(ctx, "/pinning/pinFileToIPFS", body)
}

// pin POSTs the body produced by newBody to path, retrying 429/5xx and transport errors.
// newBody is called once per attempt.
func (p *Pinata) pin(ctx context.Context, path string, newBody func() (io.Reader, string, error)) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= p.opts.MaxAttempts; attempt++ {
		cid, status, err := p.once(ctx, path, newBody)
		if err == nil {
			return cid, nil
		}
		lastErr = err
		if !retryable(status) || attempt == p.opts.MaxAttempts {
			break
		}
		if !p.opts.sleep(ctx, p.opts.BaseBackoff<<(attempt-1)) {
			return "", ctx.Err()
		}
	}
	return "", lastErr
}

func (p *Pinata) once(ctx context.Context, path string, newBody func() (io.Reader, string, error)) (string, int, error) {
	body, contentType, err := newBody()
	if err != nil {
		return "", -1, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.opts.Endpoint+path, body)
	if err != nil {
		closeBody(body)
		return "", -1, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("pinata_api_key", p.opts.APIKey)
	req.Header.Set("pinata_secret_api_key", p.opts.APISecret)

	start := time.Now()
	resp, err := p.opts.Client.Do(req)
	if err != nil {
		closeBody(body)
		metrics.RecordHTTP("pinata", 0, time.Since(start), err)
		return "", 0, err
	}
	defer resp.Body.Close()
	metrics.RecordHTTP("pinata", resp.StatusCode, time.Since(start), nil)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", resp.StatusCode, fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out pinResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", resp.StatusCode, fmt.Errorf("%s: decode response: %w", path, err)
	}
	if out.IpfsHash == "" {
		return "", resp.StatusCode, fmt.Errorf("%s: response has no IpfsHash", path)
	}
	return out.IpfsHash, resp.StatusCode, nil
}

// closeBody releases a body the transport never consumed, which also unblocks the
// multipart writer goroutine of pinFile.
func closeBody(body io.Reader) {
	if rc, ok := body.(io.Closer); ok {
		_ = rc.Close()
	}
}

// retryable reports whether a failed attempt should be retried. 0 is a transport error;
// -1 is a local failure that will not improve on retry.
func retryable(status int) bool {
	return status == 0 || status == http.StatusTooManyRequests || status >= 500
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
