// Package httpxfer is the HTTP protocol worker: PUTs (or, for the
// retrieve path, GETs) the files a Job names against a base URL,
// grounded on backend/http.go's context-aware request/status-check
// idiom (http.NewRequestWithContext + statusError).
package httpxfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/holger24/AFD-sub018/internal/accounting"
	"github.com/holger24/AFD-sub018/internal/worker"
)

// Transfer PUTs or GETs every file j names against
// http://j.Hostname:j.Port/j.RemoteDir/ (plain HTTP only).
func Transfer(ctx context.Context, j worker.Job, limiter *accounting.ByteLimiter) error {
	client := &http.Client{Timeout: timeout(j)}
	base := &url.URL{Scheme: "http", Host: fmt.Sprintf("%s:%d", j.Hostname, j.Port), Path: j.RemoteDir}

	for _, name := range j.Files {
		target := *base
		target.Path = path.Join(base.Path, name)
		if j.Retrieve {
			if err := fetchOne(ctx, client, target.String(), j, name, limiter); err != nil {
				return err
			}
			continue
		}
		if err := putOne(ctx, client, target.String(), j, name, limiter); err != nil {
			return err
		}
	}
	return nil
}

func putOne(ctx context.Context, client *http.Client, dest string, j worker.Job, name string, limiter *accounting.ByteLimiter) error {
	localPath := filepath.Join(j.SourceDir, name)
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("httpxfer: open %s: %w", localPath, err)
	}
	defer f.Close()

	var body io.Reader = f
	if limiter != nil {
		body = limitedReader{ctx: ctx, r: f, limiter: limiter}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, dest, body)
	if err != nil {
		return fmt.Errorf("httpxfer: new request: %w", err)
	}
	return do(client, req)
}

func fetchOne(ctx context.Context, client *http.Client, src string, j worker.Job, name string, limiter *accounting.ByteLimiter) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return fmt.Errorf("httpxfer: new request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("httpxfer: GET %s: %w", src, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("httpxfer: GET %s: status %s", src, resp.Status)
	}

	localPath := filepath.Join(j.SourceDir, name)
	out, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("httpxfer: create %s: %w", localPath, err)
	}
	defer out.Close()

	var body io.Reader = resp.Body
	if limiter != nil {
		body = limitedReader{ctx: ctx, r: resp.Body, limiter: limiter}
	}
	_, err = io.Copy(out, body)
	return err
}

func do(client *http.Client, req *http.Request) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("httpxfer: %s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("httpxfer: %s %s: status %s", req.Method, req.URL, resp.Status)
	}
	return nil
}

// limitedReader paces reads through a ByteLimiter, the io.Reader
// analogue of the rate limiting the teacher applies per-backend.
type limitedReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *accounting.ByteLimiter
}

func (l limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	if n > 0 {
		if werr := l.limiter.WaitN(l.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

func timeout(j worker.Job) time.Duration {
	if j.TimeoutSecs > 0 {
		return time.Duration(j.TimeoutSecs) * time.Second
	}
	return 2 * time.Minute
}
