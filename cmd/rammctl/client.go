package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"ramm/cmd/internal/secret"
	"ramm/config"
)

const maxResponseBytes = 4 << 20

// apiError is the decoded error body returned by rammd.
type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("rammd returned %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("rammd returned %d: %s", e.Status, e.Message)
}

type client struct {
	endpoint string
	http     *http.Client
	token    *secret.Source
}

func newClient(cfg *config.Config) (*client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.CAFile != "" || cfg.InsecureSkipVerify {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: cfg.InsecureSkipVerify} //nolint:gosec
		if cfg.CAFile != "" {
			pem, err := os.ReadFile(cfg.CAFile)
			if err != nil {
				return nil, fmt.Errorf("read CA file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("CA file %s contains no certificates", cfg.CAFile)
			}
			tlsConfig.RootCAs = pool
		}
		transport.TLSClientConfig = tlsConfig
	}
	return &client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		http:     &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second, Transport: transport},
		token:    secret.NewSource(cfg.TokenEnv, "rammd token"),
	}, nil
}

type request struct {
	method  string
	path    string
	body    any
	auth    bool
	headers map[string]string
}

// do sends the request. A successful response is copied into out when it is
// an io.Writer and decoded as JSON into out otherwise.
func (c *client) do(ctx context.Context, req request, out any) (http.Header, error) {
	var payload io.Reader
	if req.body != nil {
		raw, err := json.Marshal(req.body)
		if err != nil {
			return nil, err
		}
		payload = bytes.NewReader(raw)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.endpoint+req.path, payload)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.headers {
		if v != "" {
			httpReq.Header.Set(k, v)
		}
	}
	if req.auth {
		token, err := c.token.Get()
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.method, c.endpoint+req.path, err)
	}
	defer resp.Body.Close()
	if sink, ok := out.(io.Writer); ok && resp.StatusCode < http.StatusBadRequest {
		if _, err := io.Copy(sink, resp.Body); err != nil {
			return resp.Header, fmt.Errorf("read response: %w", err)
		}
		return resp.Header, nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.Header, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &apiError{Status: resp.StatusCode}
		var decoded struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(body, &decoded) == nil && decoded.Error != "" {
			apiErr.Message = decoded.Error
			apiErr.Code = decoded.Code
		} else {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return resp.Header, apiErr
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return resp.Header, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.Header, nil
}
