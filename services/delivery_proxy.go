package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"sharedrive/metrics"
	"sharedrive/models"
)

type DeliveryState string

const (
	StateAuthorizing   DeliveryState = "authorizing"
	StateResolvingURL  DeliveryState = "resolving_url"
	StateConnecting    DeliveryState = "connecting"
	StateStreaming     DeliveryState = "streaming"
	StateCompleted     DeliveryState = "completed"
	StateAborted       DeliveryState = "aborted"
	StateTimedOut      DeliveryState = "timed_out"
	StateUpstreamError DeliveryState = "upstream_error"
)

const deliveryBufferSize = 32 * 1024

// DeliveryError describes how a stream ended when it did not complete.
// Status is the HTTP status to send when HeadersSent is false; once headers
// are out the only remaining signal is aborting the connection.
type DeliveryError struct {
	State       DeliveryState
	Status      int
	HeadersSent bool
	Err         error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery %s: %v", e.State, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// DeliveryPolicy is the response framing taken from the file record, never
// from the upstream object.
type DeliveryPolicy struct {
	ContentType  string
	FileName     string
	Inline       bool
	CacheControl string
}

// inlineDisposition reports whether a MIME type renders in the browser.
func inlineDisposition(mimeType string) bool {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(mimeType))
	}
	return strings.HasPrefix(mediaType, "image/") ||
		strings.HasPrefix(mediaType, "video/") ||
		mediaType == "application/pdf"
}

// PolicyForFile applies the disposition rule shared by authenticated and
// public delivery.
func PolicyForFile(file *models.File) DeliveryPolicy {
	contentType := file.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return DeliveryPolicy{
		ContentType:  contentType,
		FileName:     file.Name,
		Inline:       inlineDisposition(contentType),
		CacheControl: "private, no-store",
	}
}

// ThumbnailPolicy frames a file's preview image, always inline.
func ThumbnailPolicy(file *models.File) DeliveryPolicy {
	return DeliveryPolicy{
		ContentType:  "image/jpeg",
		FileName:     strings.TrimSuffix(file.Name, path.Ext(file.Name)) + ".jpg",
		Inline:       true,
		CacheControl: "private, no-store",
	}
}

func (p DeliveryPolicy) disposition() string {
	kind := "attachment"
	if p.Inline {
		kind = "inline"
	}
	if p.FileName == "" {
		return kind
	}
	if v := mime.FormatMediaType(kind, map[string]string{"filename": p.FileName}); v != "" {
		return v
	}
	return kind
}

type DeliveryConfig struct {
	ConnectTimeout  time.Duration
	ReadIdleTimeout time.Duration
	SignedURLTTL    time.Duration
}

// DeliveryProxy streams blob bytes to HTTP clients. Every request signs a
// fresh retrieval URL, so a revoked or deleted file cannot be served from a
// URL handed out earlier.
type DeliveryProxy struct {
	blobs   BlobStore
	client  *http.Client
	cfg     DeliveryConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewDeliveryProxy(blobs BlobStore, cfg DeliveryConfig, logger *slog.Logger, m *metrics.Metrics) *DeliveryProxy {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadIdleTimeout,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
	}
	return &DeliveryProxy{
		blobs:   blobs,
		client:  &http.Client{Transport: transport},
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
}

var errIdleTimeout = errors.New("upstream read idle timeout")

// idleReader cancels the upstream request when no bytes arrive within idle.
type idleReader struct {
	r     io.Reader
	timer *time.Timer
	idle  time.Duration
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.timer.Reset(r.idle)
	}
	return n, err
}

// flushWriter pushes every chunk to the client as soon as it is written.
type flushWriter struct {
	w       io.Writer
	rc      *http.ResponseController
	written int64
	err     error
}

func (w *flushWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.written += int64(n)
	if err != nil {
		w.err = err
		return n, err
	}
	if ferr := w.rc.Flush(); ferr != nil && !errors.Is(ferr, http.ErrNotSupported) {
		w.err = ferr
		return n, ferr
	}
	return n, nil
}

// Stream copies the named blob to w. It returns the number of body bytes
// written and a *DeliveryError when the stream did not complete.
func (p *DeliveryProxy) Stream(ctx context.Context, w http.ResponseWriter, blobName string, policy DeliveryPolicy) (int64, error) {
	start := time.Now()
	sent, state, err := p.stream(ctx, w, blobName, policy)
	p.metrics.Delivery(string(state), sent, time.Since(start).Seconds())

	attrs := []any{"blob", blobName, "state", string(state), "bytes", sent, "duration_ms", time.Since(start).Milliseconds()}
	switch state {
	case StateCompleted:
		p.logger.Debug("delivery completed", attrs...)
	case StateAborted:
		p.logger.Info("delivery aborted by client", attrs...)
	default:
		p.logger.Warn("delivery failed", append(attrs, "error", err)...)
	}
	return sent, err
}

func (p *DeliveryProxy) stream(parent context.Context, w http.ResponseWriter, blobName string, policy DeliveryPolicy) (int64, DeliveryState, error) {
	fail := func(state DeliveryState, status int, headersSent bool, err error) (DeliveryState, error) {
		return state, &DeliveryError{State: state, Status: status, HeadersSent: headersSent, Err: err}
	}

	signed, err := p.blobs.SignURL(parent, blobName, p.cfg.SignedURLTTL)
	if err != nil {
		state, derr := fail(StateUpstreamError, http.StatusBadGateway, false, fmt.Errorf("%w: %v", models.ErrUpstream, err))
		return 0, state, derr
	}

	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, signed, nil)
	if err != nil {
		state, derr := fail(StateUpstreamError, http.StatusBadGateway, false, fmt.Errorf("%w: %v", models.ErrUpstream, err))
		return 0, state, derr
	}

	resp, err := p.client.Do(req)
	if err != nil {
		state, derr := p.classify(parent, ctx, false, err)
		return 0, state, derr
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		state, derr := fail(StateUpstreamError, http.StatusNotFound, false, fmt.Errorf("blob %s: %w", blobName, models.ErrNotFound))
		return 0, state, derr
	case resp.StatusCode/100 != 2:
		state, derr := fail(StateUpstreamError, http.StatusBadGateway, false,
			fmt.Errorf("%w: blob store responded with status %s", models.ErrUpstream, resp.Status))
		return 0, state, derr
	}

	h := w.Header()
	h.Set("Content-Type", policy.ContentType)
	h.Set("Content-Disposition", policy.disposition())
	h.Set("X-Content-Type-Options", "nosniff")
	if policy.CacheControl != "" {
		h.Set("Cache-Control", policy.CacheControl)
	}
	if resp.ContentLength >= 0 {
		h.Set("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
	}
	w.WriteHeader(http.StatusOK)

	timer := time.AfterFunc(p.cfg.ReadIdleTimeout, func() { cancel(errIdleTimeout) })
	defer timer.Stop()

	body := &idleReader{r: resp.Body, timer: timer, idle: p.cfg.ReadIdleTimeout}
	out := &flushWriter{w: w, rc: http.NewResponseController(w)}
	buf := make([]byte, deliveryBufferSize)

	_, err = io.CopyBuffer(out, body, buf)
	if err == nil && resp.ContentLength >= 0 && out.written != resp.ContentLength {
		err = fmt.Errorf("%w: upstream body ended after %d of %d bytes", models.ErrUpstream, out.written, resp.ContentLength)
	}
	if err == nil {
		return out.written, StateCompleted, nil
	}

	if out.err != nil {
		// The client went away; dropping resp.Body cancels the upstream read.
		cancel(out.err)
		state, derr := fail(StateAborted, 0, true, out.err)
		return out.written, state, derr
	}
	state, derr := p.classify(parent, ctx, true, err)
	return out.written, state, derr
}

func (p *DeliveryProxy) classify(parent, ctx context.Context, headersSent bool, err error) (DeliveryState, error) {
	var netErr net.Error
	switch {
	case parent.Err() != nil:
		return StateAborted, &DeliveryError{State: StateAborted, HeadersSent: headersSent, Err: parent.Err()}
	case errors.Is(context.Cause(ctx), errIdleTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return StateTimedOut, &DeliveryError{
			State: StateTimedOut, Status: http.StatusGatewayTimeout, HeadersSent: headersSent,
			Err: fmt.Errorf("%w: %v", models.ErrUpstreamTimeout, err),
		}
	default:
		return StateUpstreamError, &DeliveryError{
			State: StateUpstreamError, Status: http.StatusBadGateway, HeadersSent: headersSent,
			Err: fmt.Errorf("%w: %v", models.ErrUpstream, err),
		}
	}
}
