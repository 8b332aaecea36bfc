package ota

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Request headers sent with every image fetch. A server may answer
// 304 Not Modified when the running image is already current.
const (
	HeaderIdentity = "X-Device-Identity"
	HeaderRunning  = "X-Running-Sha256"
)

// Config holds HTTPUpdater settings.
type Config struct {
	Target   string        // file replaced by a new image
	Identity string        // sent in HeaderIdentity
	Timeout  time.Duration // whole-update deadline
}

// HTTPUpdater downloads an image over HTTP and atomically replaces Target.
// Begin and Tick are called from the scheduler; the download runs in its
// own goroutine.
type HTTPUpdater struct {
	client *http.Client
	cfg    Config
	log    logrus.FieldLogger

	mu      sync.Mutex
	busy    bool
	url     string
	started bool // Started not yet returned
	percent int
	shown   int
	done    *Result
	cancel  context.CancelFunc
}

// NewHTTPUpdater creates an HTTPUpdater. A nil client uses http.DefaultClient.
func NewHTTPUpdater(client *http.Client, cfg Config, log logrus.FieldLogger) *HTTPUpdater {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPUpdater{
		client: client,
		cfg:    cfg,
		log:    log.WithField("component", "ota"),
	}
}

// Begin starts fetching url.
func (u *HTTPUpdater) Begin(url string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.busy {
		return ErrBusy
	}

	var ctx context.Context
	var cancel context.CancelFunc
	if u.cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), u.cfg.Timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	u.busy = true
	u.url = url
	u.started = true
	u.percent, u.shown = -1, -1
	u.done = nil
	u.cancel = cancel

	go u.run(ctx, url)
	return nil
}

// Tick returns pending events in order: Started, the latest Progress if it
// changed, then Finished.
func (u *HTTPUpdater) Tick() Event {
	u.mu.Lock()
	defer u.mu.Unlock()

	switch {
	case !u.busy:
		return Event{Kind: None}
	case u.started:
		u.started = false
		return Event{Kind: Started, URL: u.url}
	case u.percent != u.shown:
		u.shown = u.percent
		return Event{Kind: Progress, URL: u.url, Percent: u.percent}
	case u.done != nil:
		ev := Event{Kind: Finished, URL: u.url, Result: *u.done}
		u.busy = false
		u.done = nil
		u.cancel()
		return ev
	}
	return Event{Kind: None}
}

// Close aborts a running download.
func (u *HTTPUpdater) Close() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.cancel != nil {
		u.cancel()
	}
}

func (u *HTTPUpdater) run(ctx context.Context, url string) {
	res := u.fetch(ctx, url)

	u.mu.Lock()
	u.done = &res
	u.mu.Unlock()
}

func (u *HTTPUpdater) setPercent(p int) {
	u.mu.Lock()
	u.percent = p
	u.mu.Unlock()
}

func (u *HTTPUpdater) fetch(ctx context.Context, url string) Result {
	running, err := fileSum(u.cfg.Target)
	if err != nil {
		return failed(CodeTarget, "read running image: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return failed(CodeRequest, "%v", err)
	}
	req.Header.Set(HeaderIdentity, u.cfg.Identity)
	req.Header.Set(HeaderRunning, running)

	resp, err := u.client.Do(req)
	if err != nil {
		return failed(CodeRequest, "%v", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return Result{Kind: NotNeeded}
	case resp.StatusCode != http.StatusOK:
		return failed(resp.StatusCode, "server returned %s", resp.Status)
	}

	var buf bytes.Buffer
	body := &progressReader{r: resp.Body, total: resp.ContentLength, report: u.setPercent}
	if _, err := io.Copy(&buf, body); err != nil {
		return failed(CodeRequest, "download: %v", err)
	}
	if buf.Len() == 0 {
		return failed(CodeEmpty, "empty image")
	}
	if resp.ContentLength > 0 && int64(buf.Len()) != resp.ContentLength {
		return failed(CodeRequest, "short image: got %d of %d bytes", buf.Len(), resp.ContentLength)
	}

	sum := sha256.Sum256(buf.Bytes())
	if hex.EncodeToString(sum[:]) == running {
		return Result{Kind: NotNeeded}
	}

	if err := install(u.cfg.Target, buf.Bytes()); err != nil {
		return failed(CodeWrite, "%v", err)
	}
	u.log.WithFields(logrus.Fields{"bytes": buf.Len(), "target": u.cfg.Target}).Info("image installed")
	return Result{Kind: Applied}
}

// install writes image next to target and renames it into place.
func install(target string, image []byte) error {
	dir := filepath.Dir(target)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	name := tmp.Name()
	cleanup := func() { os.Remove(name) }

	if _, err := tmp.Write(image); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write image: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close image: %w", err)
	}
	if err := os.Chmod(name, 0755); err != nil {
		cleanup()
		return fmt.Errorf("chmod image: %w", err)
	}
	if err := os.Rename(name, target); err != nil {
		cleanup()
		return fmt.Errorf("install image: %w", err)
	}
	return nil
}

func fileSum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	report func(int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.total > 0 && n > 0 {
		p.report(int(p.read * 100 / p.total))
	}
	return n, err
}
