package httpxfer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/holger24/AFD-sub018/internal/worker"
)

func TestTransferPutsEachFile(t *testing.T) {
	var gotPaths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPaths = append(gotPaths, r.URL.Path)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	host, port := hostPort(t, srv.URL)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.dat"), []byte("one"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.dat"), []byte("two"), 0644))

	j := worker.Job{
		Hostname:  host,
		Port:      port,
		SourceDir: dir,
		RemoteDir: "/in",
		Files:     []string{"a.dat", "b.dat"},
	}

	err := Transfer(context.Background(), j, nil)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"/in/a.dat", "/in/b.dat"}, gotPaths)
}

func TestTransferRetrievesEachFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload:" + r.URL.Path))
	}))
	defer srv.Close()

	host, port := hostPort(t, srv.URL)
	dir := t.TempDir()

	j := worker.Job{
		Hostname:  host,
		Port:      port,
		SourceDir: dir,
		RemoteDir: "/out",
		Files:     []string{"c.dat"},
		Retrieve:  true,
	}

	require.NoError(t, Transfer(context.Background(), j, nil))

	data, err := os.ReadFile(filepath.Join(dir, "c.dat"))
	require.NoError(t, err)
	require.Equal(t, "payload:/out/c.dat", string(data))
}

func TestTransferReturnsErrorOnNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	host, port := hostPort(t, srv.URL)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.dat"), []byte("one"), 0644))

	j := worker.Job{Hostname: host, Port: port, SourceDir: dir, Files: []string{"a.dat"}}
	err := Transfer(context.Background(), j, nil)
	require.Error(t, err)
}

func hostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	host := u.Hostname()
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return host, port
}
