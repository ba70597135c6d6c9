// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package session provides the shared HTTP client builder and the
// authenticated-request wrapper for the Proton API, including the
// at-most-once session-refresh invariant.
package session

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

// MaxBodyBytes bounds every response body read, to cap memory use
// regardless of server behavior.
const MaxBodyBytes = 10 * 1024 * 1024

// ClientOptions configures NewHTTPClient.
type ClientOptions struct {
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	UserAgent      string
	DefaultHeaders map[string]string
	Proxy          *Proxy
	// InsecureHTTP disables the HTTPS-only policy. Test-only.
	InsecureHTTP bool
}

// ProxyProtocol names the transport a Proxy speaks.
type ProxyProtocol string

const (
	ProxyHTTP   ProxyProtocol = "http"
	ProxySOCKS5 ProxyProtocol = "socks5"
)

// Proxy describes an outbound proxy, optionally authenticated.
type Proxy struct {
	Protocol ProxyProtocol
	Host     string
	Port     int
	Username string
	Password string
}

// headerRoundTripper injects a fixed set of default headers (the
// User-Agent plus any caller-supplied defaults) on every outgoing request,
// authenticated or not, unless the request already sets that header.
type headerRoundTripper struct {
	next    http.RoundTripper
	headers map[string]string
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	for k, v := range h.headers {
		if cloned.Header.Get(k) == "" {
			cloned.Header.Set(k, v)
		}
	}
	return h.next.RoundTrip(cloned)
}

// httpsOnlyRoundTripper rejects any request whose scheme is not https,
// per the client's default HTTPS-only policy.
type httpsOnlyRoundTripper struct {
	next http.RoundTripper
}

func (h *httpsOnlyRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return nil, fmt.Errorf("session: refusing non-HTTPS request to %s", req.URL)
	}
	return h.next.RoundTrip(req)
}

// NewHTTPClient builds an *http.Client per the options: connect/request
// timeouts, an optional HTTP or SOCKS5 proxy, a default HTTPS-only policy,
// and a fixed User-Agent header (plus any caller-supplied defaults).
// X-Pm-Appversion is not added here; Client sets it on each request.
func NewHTTPClient(opts ClientOptions) (*http.Client, error) {
	dialer := &net.Dialer{Timeout: opts.ConnectTimeout}

	transport := &http.Transport{
		DialContext:     dialer.DialContext,
		TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
	}

	if opts.Proxy != nil {
		if err := applyProxy(transport, dialer, *opts.Proxy); err != nil {
			return nil, fmt.Errorf("configure proxy: %w", err)
		}
	}

	var rt http.RoundTripper = transport
	if !opts.InsecureHTTP {
		rt = &httpsOnlyRoundTripper{next: rt}
	}

	headers := map[string]string{}
	for k, v := range opts.DefaultHeaders {
		headers[k] = v
	}
	if opts.UserAgent != "" {
		headers["User-Agent"] = opts.UserAgent
	}
	rt = &headerRoundTripper{next: rt, headers: headers}

	return &http.Client{
		Transport: rt,
		Timeout:   opts.RequestTimeout,
	}, nil
}

func applyProxy(transport *http.Transport, dialer *net.Dialer, p Proxy) error {
	switch p.Protocol {
	case ProxyHTTP:
		u := &url.URL{
			Scheme: "http",
			Host:   fmt.Sprintf("%s:%d", p.Host, p.Port),
		}
		if p.Username != "" {
			u.User = url.UserPassword(p.Username, p.Password)
		}
		transport.Proxy = http.ProxyURL(u)
		return nil
	case ProxySOCKS5:
		var auth *proxy.Auth
		if p.Username != "" {
			auth = &proxy.Auth{User: p.Username, Password: p.Password}
		}
		sockDialer, err := proxy.SOCKS5("tcp", fmt.Sprintf("%s:%d", p.Host, p.Port), auth, dialer)
		if err != nil {
			return fmt.Errorf("build SOCKS5 dialer: %w", err)
		}
		transport.DialContext = nil
		transport.Dial = sockDialer.Dial
		return nil
	default:
		return fmt.Errorf("unknown proxy protocol %q", p.Protocol)
	}
}
