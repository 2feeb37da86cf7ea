// Package worker defines the job contract every protocol worker
// implements: move the files named by a Job and report success or
// failure through one of the Exit* codes, the same exit-code-only
// contract a forked worker subprocess would use (spec §7). Workers run
// as supervised goroutines spawned by internal/dispatcher rather than
// real subprocesses; Job is their in-process parameter object, and
// Encode/DecodeJob remain for callers that still want the fd-handoff
// wire form (e.g. a future real subprocess worker, or tests).
package worker

import "encoding/json"

// Protocol names one of the wire protocols spec §1 lists.
type Protocol string

const (
	ProtocolFTP  Protocol = "ftp"
	ProtocolSFTP Protocol = "sftp"
	ProtocolSCP  Protocol = "scp"
	ProtocolHTTP Protocol = "http"
	ProtocolSMTP Protocol = "smtp"
	ProtocolWMO  Protocol = "wmo"
)

// Job is the complete description of one transfer (spec §7: the
// dispatcher forks one worker per transfer and the worker alone
// understands wire formats).
type Job struct {
	Protocol     Protocol
	Hostname     string
	Port         int
	User         string
	Password     string
	Files        []string
	SourceDir    string
	RemoteDir    string
	BlockSize    int32
	RateLimitBps int64
	TimeoutSecs  int32
	// Retrieve is true for the pull-style fetch path (spec §1 "a
	// symmetric retrieve (fetch) path for pull-style protocols").
	Retrieve bool
}

// Exit codes a worker reports its outcome as; the dispatcher
// classifies these into the errtoggle.Faulty tri-state.
const (
	ExitSuccess     = 0
	ExitTransient   = 1 // retryable transport error
	ExitFatal       = 2 // configuration/auth error, not worth retrying blindly
)

// Encode marshals a Job for the fd-3 handoff.
func (j Job) Encode() ([]byte, error) { return json.Marshal(j) }

// DecodeJob reverses Encode.
func DecodeJob(b []byte) (Job, error) {
	var j Job
	err := json.Unmarshal(b, &j)
	return j, err
}
