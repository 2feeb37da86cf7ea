package smtp

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/holger24/AFD-sub018/internal/worker"
)

func TestBuildMessageEmbedsAttachmentAndHeaders(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.txt"), []byte("line one\nline two\n"), 0644))

	j := worker.Job{
		SourceDir: dir,
		RemoteDir: "ops@example.com",
		Files:     []string{"report.txt"},
	}

	msg, err := buildMessage(j)
	require.NoError(t, err)

	text := string(msg)
	require.Contains(t, text, "To: ops@example.com\r\n")
	require.Contains(t, text, "Content-Type: multipart/mixed; boundary=afd-boundary\r\n")
	require.Contains(t, text, "Content-Transfer-Encoding: base64\r\n")
	require.Contains(t, text, "--afd-boundary--")

	encoded := base64.StdEncoding.EncodeToString([]byte("line one\nline two\n"))
	require.Contains(t, strings.ReplaceAll(text, "\r\n", ""), encoded)
}

func TestBuildMessageErrorsOnMissingFile(t *testing.T) {
	j := worker.Job{SourceDir: t.TempDir(), RemoteDir: "a@b.com", Files: []string{"missing.txt"}}
	_, err := buildMessage(j)
	require.Error(t, err)
}

func TestBuildMessageWithNoFilesStillClosesBoundary(t *testing.T) {
	j := worker.Job{SourceDir: t.TempDir(), RemoteDir: "a@b.com"}
	msg, err := buildMessage(j)
	require.NoError(t, err)
	require.Contains(t, string(msg), "--afd-boundary--")
}
