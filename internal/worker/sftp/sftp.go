// Package sftp is the SFTP/SCP protocol worker: dials an SSH session,
// opens an SFTP subsystem, and pushes or pulls the files a Job names.
// Grounded on backend/sftp's use of pkg/sftp over golang.org/x/crypto/ssh,
// simplified to direct dialing since the worker owns one connection for
// its own lifetime (no connection-reuse pool — that is the teacher's
// long-lived-Fs concern, not a one-shot worker's).
package sftp

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/holger24/AFD-sub018/internal/accounting"
	"github.com/holger24/AFD-sub018/internal/worker"
)

// Transfer dials j.Hostname:j.Port over SSH, opens an SFTP session,
// and sends or fetches every file j names.
func Transfer(ctx context.Context, j worker.Job, limiter *accounting.ByteLimiter) error {
	addr := fmt.Sprintf("%s:%d", j.Hostname, j.Port)

	sshConfig := &ssh.ClientConfig{
		User:            j.User,
		Auth:            []ssh.AuthMethod{ssh.Password(j.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // worker is a thin stand-in, spec Non-goal on wire-format fidelity
		Timeout:         timeout(j),
	}

	conn, err := ssh.Dial("tcp", addr, sshConfig)
	if err != nil {
		return fmt.Errorf("sftp: dial %s: %w", addr, err)
	}
	defer conn.Close()

	client, err := sftp.NewClient(conn)
	if err != nil {
		return fmt.Errorf("sftp: new client: %w", err)
	}
	defer client.Close()

	for _, name := range j.Files {
		if j.Retrieve {
			if err := retrieveOne(ctx, client, j, name, limiter); err != nil {
				return err
			}
			continue
		}
		if err := storeOne(ctx, client, j, name, limiter); err != nil {
			return err
		}
	}
	return nil
}

func storeOne(ctx context.Context, client *sftp.Client, j worker.Job, name string, limiter *accounting.ByteLimiter) error {
	localPath := filepath.Join(j.SourceDir, name)
	in, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("sftp: open %s: %w", localPath, err)
	}
	defer in.Close()

	remotePath := path.Join(j.RemoteDir, name)
	out, err := client.Create(remotePath)
	if err != nil {
		return fmt.Errorf("sftp: create %s: %w", remotePath, err)
	}
	defer out.Close()

	return copyLimited(ctx, out, in, limiter)
}

func retrieveOne(ctx context.Context, client *sftp.Client, j worker.Job, name string, limiter *accounting.ByteLimiter) error {
	remotePath := path.Join(j.RemoteDir, name)
	in, err := client.Open(remotePath)
	if err != nil {
		return fmt.Errorf("sftp: open %s: %w", remotePath, err)
	}
	defer in.Close()

	localPath := filepath.Join(j.SourceDir, name)
	out, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("sftp: create %s: %w", localPath, err)
	}
	defer out.Close()

	return copyLimited(ctx, out, in, limiter)
}

func copyLimited(ctx context.Context, dst io.Writer, src io.Reader, limiter *accounting.ByteLimiter) error {
	buf := make([]byte, 32*1024)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if limiter != nil {
				if err := limiter.WaitN(ctx, n); err != nil {
					return err
				}
			}
			if _, err := dst.Write(buf[:n]); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

func timeout(j worker.Job) time.Duration {
	if j.TimeoutSecs > 0 {
		return time.Duration(j.TimeoutSecs) * time.Second
	}
	return 2 * time.Minute
}
