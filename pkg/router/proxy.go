package router

import (
	"bytes"
	"context"
	"fmt"
	"io"
	logpkg "log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/lemonade-sdk/lemonade/pkg/inference"
	"github.com/lemonade-sdk/lemonade/pkg/logging"
)

// StreamingProxy forwards a single gateway request to the Router's
// currently loaded backend, translating the request body through the
// backend's TranslateRequest and tee-ing the response stream through
// ParseStreamChunk so each backend's own telemetry shape updates the
// session's LastTelemetry without the caller needing to understand it.
type StreamingProxy struct {
	log    logging.Logger
	router *Router

	// OnBackendError, when set, translates a failure to reach the
	// backend process (e.g. it crashed mid-request) into the caller's
	// own error envelope; otherwise httputil's default plain-text
	// response is used.
	OnBackendError func(w http.ResponseWriter, r *http.Request, err error)
}

// NewStreamingProxy creates a StreamingProxy bound to router.
func NewStreamingProxy(log logging.Logger, router *Router) *StreamingProxy {
	return &StreamingProxy{log: log, router: router}
}

// Forward proxies endpoint (e.g. "chat/completions") to the backend
// behind session, first passing body through backend.TranslateRequest. It's a thin wrapper
// around httputil.ReverseProxy so the caller's http.ResponseWriter sees
// a standard streamed response (SSE or otherwise) with telemetry
// extraction tapped in via ModifyResponse.
func (p *StreamingProxy) Forward(w http.ResponseWriter, r *http.Request, endpoint string, body []byte, session *inference.BackendSession, backend inference.Backend) error {
	translated, err := backend.TranslateRequest(endpoint, body, session)
	if err != nil {
		return fmt.Errorf("translate request: %w", err)
	}

	upstream, err := url.Parse(fmt.Sprintf("http://127.0.0.1:%d", session.Port))
	if err != nil {
		return fmt.Errorf("parse backend url: %w", err)
	}

	proxy := httputil.NewSingleHostReverseProxy(upstream)
	standardDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		standardDirector(req)
		req.Host = upstream.Host
		req.URL.Path = "/v1/" + endpoint
		req.ContentLength = int64(len(translated))
		req.Body = io.NopCloser(bytes.NewReader(translated))
	}

	proxyLog := logging.NewWriter(p.log)
	proxy.ErrorLog = logpkg.New(proxyLog, "", 0)
	defer proxyLog.Close()

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		p.log.Warn("backend unreachable, treating as crashed", "port", session.Port, "error", err)

		unloadCtx, cancel := context.WithTimeout(context.Background(), DefaultUnloadGrace+5*time.Second)
		defer cancel()
		if unloadErr := p.router.Unload(unloadCtx); unloadErr != nil {
			p.log.Warn("error unloading crashed backend", "error", unloadErr)
		}

		if p.OnBackendError != nil {
			p.OnBackendError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}

	proxy.ModifyResponse = func(resp *http.Response) error {
		resp.Body = &teeingReadCloser{
			ReadCloser: resp.Body,
			onChunk: func(chunk []byte) {
				records := backend.ParseStreamChunk(chunk)
				if len(records) == 0 {
					return
				}
				session.LastTelemetry = &records[len(records)-1]
			},
		}
		return nil
	}

	p.router.Touch()
	proxy.ServeHTTP(w, r)
	return nil
}

// teeingReadCloser wraps a response body, invoking onChunk with every
// slice of bytes read so the caller can extract telemetry inline with
// the normal streamed-response path, without buffering the full body.
type teeingReadCloser struct {
	io.ReadCloser
	onChunk func(chunk []byte)
}

func (t *teeingReadCloser) Read(p []byte) (int, error) {
	n, err := t.ReadCloser.Read(p)
	if n > 0 && t.onChunk != nil {
		t.onChunk(p[:n])
	}
	return n, err
}
