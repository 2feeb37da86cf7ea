// Package ftp is the FTP protocol worker: a thin stand-in for a full
// FTP client, enough to dial, log in, and STOR/RETR the files a Job
// names, grounded on backend/ftp.go's dial-under-pacer discipline.
package ftp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/holger24/AFD-sub018/internal/accounting"
	"github.com/holger24/AFD-sub018/internal/worker"
)

// Transfer dials j.Hostname:j.Port, logs in, and sends or fetches
// every file j names, pacing connection attempts with p (the per-host
// internal/accounting.Pacer the dispatcher hands in).
func Transfer(ctx context.Context, j worker.Job, p *accounting.Pacer, limiter *accounting.ByteLimiter) error {
	var c *ftp.ServerConn
	var err error

	addr := fmt.Sprintf("%s:%d", j.Hostname, j.Port)
	for attempt := 0; ; attempt++ {
		c, err = ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(timeout(j)))
		if err == nil {
			break
		}
		if attempt >= 2 {
			return fmt.Errorf("ftp: dial %s: %w", addr, err)
		}
		time.Sleep(p.NextSleep(true))
	}
	defer c.Quit()

	if err := c.Login(j.User, j.Password); err != nil {
		return fmt.Errorf("ftp: login: %w", err)
	}
	p.NextSleep(false)

	if j.RemoteDir != "" {
		if err := c.ChangeDir(j.RemoteDir); err != nil {
			return fmt.Errorf("ftp: cwd %s: %w", j.RemoteDir, err)
		}
	}

	for _, name := range j.Files {
		if j.Retrieve {
			if err := retrieveOne(ctx, c, j, name, limiter); err != nil {
				return err
			}
			continue
		}
		if err := storeOne(ctx, c, j, name, limiter); err != nil {
			return err
		}
	}
	return nil
}

func storeOne(ctx context.Context, c *ftp.ServerConn, j worker.Job, name string, limiter *accounting.ByteLimiter) error {
	path := filepath.Join(j.SourceDir, name)
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("ftp: open %s: %w", path, err)
	}
	defer f.Close()

	if limiter != nil {
		info, err := f.Stat()
		if err == nil {
			if err := limiter.WaitN(ctx, int(info.Size())); err != nil {
				return err
			}
		}
	}
	if err := c.Stor(name, f); err != nil {
		return fmt.Errorf("ftp: stor %s: %w", name, err)
	}
	return nil
}

func retrieveOne(ctx context.Context, c *ftp.ServerConn, j worker.Job, name string, limiter *accounting.ByteLimiter) error {
	r, err := c.Retr(name)
	if err != nil {
		return fmt.Errorf("ftp: retr %s: %w", name, err)
	}
	defer r.Close()

	dest := filepath.Join(j.SourceDir, name)
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("ftp: create %s: %w", dest, err)
	}
	defer out.Close()

	buf := make([]byte, blockSize(j))
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			if limiter != nil {
				if err := limiter.WaitN(ctx, n); err != nil {
					return err
				}
			}
			if _, err := out.Write(buf[:n]); err != nil {
				return fmt.Errorf("ftp: write %s: %w", dest, err)
			}
		}
		if readErr != nil {
			break
		}
	}
	return nil
}

func blockSize(j worker.Job) int32 {
	if j.BlockSize > 0 {
		return j.BlockSize
	}
	return 4096
}

func timeout(j worker.Job) time.Duration {
	if j.TimeoutSecs > 0 {
		return time.Duration(j.TimeoutSecs) * time.Second
	}
	return 2 * time.Minute
}
