package afdpath

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewLayoutJoinsUnderRoot(t *testing.T) {
	l := NewLayout("/work")
	cases := map[string]string{
		"AFDActive":       filepath.Join("/work", "fifo", "AFD_ACTIVE"),
		"AFDCmdFifo":      filepath.Join("/work", "fifo", "AFD_CMD_FIFO"),
		"FDDeleteFifo":    filepath.Join("/work", "fifo", "FD_DELETE_FIFO"),
		"GroupFile":       filepath.Join("/work", "etc", "GROUP_FILE"),
		"MsgQueueFile":    filepath.Join("/work", "fifo", "MSG_QUEUE_FILE"),
		"MsgCacheFile":    filepath.Join("/work", "fifo", "MSG_CACHE_FILE"),
		"JobIDDataFile":   filepath.Join("/work", "fifo", "JOB_ID_DATA_FILE"),
	}
	got := map[string]string{
		"AFDActive":     l.AFDActive(),
		"AFDCmdFifo":    l.AFDCmdFifo(),
		"FDDeleteFifo":  l.FDDeleteFifo(),
		"GroupFile":     l.GroupFile(),
		"MsgQueueFile":  l.MsgQueueFile(),
		"MsgCacheFile":  l.MsgCacheFile(),
		"JobIDDataFile": l.JobIDDataFile(),
	}
	for name, want := range cases {
		if got[name] != want {
			t.Fatalf("%s = %q, want %q", name, got[name], want)
		}
	}
}

func TestFSAFRAStatFilesIncludeID(t *testing.T) {
	l := NewLayout("/work")
	if got, want := l.FSAStatFile(3), filepath.Join("/work", "fifo", "FSA_STAT_FILE.3"); got != want {
		t.Fatalf("FSAStatFile(3) = %q, want %q", got, want)
	}
	if got, want := l.FRAStatFile(7), filepath.Join("/work", "fifo", "FRA_STAT_FILE.7"); got != want {
		t.Fatalf("FRAStatFile(7) = %q, want %q", got, want)
	}
}

func TestOutgoingAndStoreDirs(t *testing.T) {
	l := NewLayout("/work")
	if got, want := l.OutgoingDir("msg1"), filepath.Join("/work", "files", "outgoing", "msg1"); got != want {
		t.Fatalf("OutgoingDir = %q, want %q", got, want)
	}
	if got, want := l.StoreDir("1a2b"), filepath.Join("/work", "files", "store", "1a2b"); got != want {
		t.Fatalf("StoreDir = %q, want %q", got, want)
	}
}

func TestFileMaskFile(t *testing.T) {
	l := NewLayout("/work")
	got := l.FileMaskFile("incoming-a")
	want := filepath.Join("/work", "files", "incoming", "file_mask", "incoming-a")
	if got != want {
		t.Fatalf("FileMaskFile = %q, want %q", got, want)
	}
}

func TestWorkDirPrefersEnvVar(t *testing.T) {
	old, had := os.LookupEnv(WorkDirEnv)
	t.Cleanup(func() {
		if had {
			os.Setenv(WorkDirEnv, old)
		} else {
			os.Unsetenv(WorkDirEnv)
		}
	})

	os.Unsetenv(WorkDirEnv)
	if got := WorkDir("/default"); got != "/default" {
		t.Fatalf("WorkDir fallback = %q, want /default", got)
	}

	os.Setenv(WorkDirEnv, "/from-env")
	if got := WorkDir("/default"); got != "/from-env" {
		t.Fatalf("WorkDir = %q, want /from-env", got)
	}
}
