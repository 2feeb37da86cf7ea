// Package smtp is the SMTP protocol worker: emails the files a Job
// names as attachments to j.RemoteDir (the recipient address), using
// stdlib net/smtp the way the teacher reaches for stdlib wherever no
// ecosystem client improves on it for a one-shot send.
package smtp

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime"
	"net/smtp"
	"os"
	"path/filepath"
	"strings"

	"github.com/holger24/AFD-sub018/internal/worker"
)

// Transfer sends one email per Job, with every named file attached.
func Transfer(j worker.Job) error {
	addr := fmt.Sprintf("%s:%d", j.Hostname, j.Port)
	var auth smtp.Auth
	if j.User != "" {
		auth = smtp.PlainAuth("", j.User, j.Password, j.Hostname)
	}

	msg, err := buildMessage(j)
	if err != nil {
		return fmt.Errorf("smtp: build message: %w", err)
	}

	from := j.User
	if from == "" {
		from = "afd@localhost"
	}
	return smtp.SendMail(addr, auth, from, []string{j.RemoteDir}, msg)
}

func buildMessage(j worker.Job) ([]byte, error) {
	boundary := "afd-boundary"
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "To: %s\r\n", j.RemoteDir)
	fmt.Fprintf(&buf, "Subject: AFD transfer\r\n")
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", boundary)

	for _, name := range j.Files {
		path := filepath.Join(j.SourceDir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		fmt.Fprintf(&buf, "Content-Type: application/octet-stream\r\n")
		fmt.Fprintf(&buf, "Content-Transfer-Encoding: base64\r\n")
		fmt.Fprintf(&buf, "Content-Disposition: attachment; filename=%s\r\n\r\n", mime.QEncoding.Encode("utf-8", name))
		enc := base64.StdEncoding.EncodeToString(data)
		for i := 0; i < len(enc); i += 76 {
			end := i + 76
			if end > len(enc) {
				end = len(enc)
			}
			buf.WriteString(enc[i:end])
			buf.WriteString("\r\n")
		}
	}
	fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	return []byte(strings.TrimRight(buf.String(), "")), nil
}
