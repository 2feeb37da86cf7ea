// Package dispatcher is the fork_dc-equivalent main loop of spec §2.8,
// §4.4, §5: it reaps finished workers, scans the Queue Buffer head to
// tail spawning ready jobs (goroutine-based stand-ins for a forked
// worker process, per spec's worker Non-goal), mutates FSA counters
// under the designed region-lock order, and folds in resync/self-check
// on the caller's schedule. It reads no command fifo: DELETE_MESSAGE
// reaches it only through a direct DeleteMessage call.
package dispatcher

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/holger24/AFD-sub018/internal/accounting"
	"github.com/holger24/AFD-sub018/internal/connection"
	"github.com/holger24/AFD-sub018/internal/errtoggle"
	"github.com/holger24/AFD-sub018/internal/fifocmd"
	"github.com/holger24/AFD-sub018/internal/fra"
	"github.com/holger24/AFD-sub018/internal/fsa"
	"github.com/holger24/AFD-sub018/internal/jid"
	"github.com/holger24/AFD-sub018/internal/logging"
	"github.com/holger24/AFD-sub018/internal/mdb"
	"github.com/holger24/AFD-sub018/internal/qb"
	"github.com/holger24/AFD-sub018/internal/region"
	"github.com/holger24/AFD-sub018/internal/shm"
	"github.com/holger24/AFD-sub018/internal/worker"
	"github.com/holger24/AFD-sub018/internal/worker/ftp"
	"github.com/holger24/AFD-sub018/internal/worker/httpxfer"
	"github.com/holger24/AFD-sub018/internal/worker/sftp"
	"github.com/holger24/AFD-sub018/internal/worker/smtp"
	"github.com/holger24/AFD-sub018/internal/worker/wmo"
	"github.com/holger24/AFD-sub018/pkg/afdpath"
)

// defaultWMODisconnect is the hold-open window a WMO worker serves
// requests for after it finishes sending, absent a per-host override.
const defaultWMODisconnect = 30 * time.Second

// defaultPort is a per-protocol fallback used when a job carries no
// explicit port: the real per-recipient host/port/credential template
// lives in the out-of-scope DIR_CONFIG/recipient grammar (spec §1
// Non-goals), so the dispatcher falls back to the protocol's
// well-known port.
var defaultPort = map[worker.Protocol]int{
	worker.ProtocolFTP:  21,
	worker.ProtocolSFTP: 22,
	worker.ProtocolSCP:  22,
	worker.ProtocolHTTP: 80,
	worker.ProtocolSMTP: 25,
	worker.ProtocolWMO:  9000,
}

// RunJobFunc executes one job and reports its outcome as one of
// worker.ExitSuccess/ExitTransient/ExitFatal — the seam tests replace
// to avoid real network I/O.
type RunJobFunc func(ctx context.Context, host *fsa.Host, pacer *accounting.Pacer, limiter *accounting.ByteLimiter, j worker.Job) int

// Config wires a Dispatcher to the live shared state and collaborators
// it schedules against.
type Config struct {
	Layout    *afdpath.Layout
	FSA       *fsa.Table
	FRA       *fra.Table
	QB        *qb.Table
	MDB       *mdb.Table
	JID       *jid.Catalog // optional; recipient templates
	Conns     *connection.Table
	ErrToggle *errtoggle.Engine
	Remover   *fifocmd.Remover
	Stats     *accounting.Registry
	Metrics   *Metrics // optional
	Log       *logging.Logger
	RunJob    RunJobFunc // optional override, mainly for tests
	Now       func() time.Time
}

// Dispatcher runs the scheduling loop against one set of attached
// tables.
type Dispatcher struct {
	layout    *afdpath.Layout
	fsaTable  *fsa.Table
	fraTable  *fra.Table
	qbTable   *qb.Table
	mdbTable  *mdb.Table
	jidCat    *jid.Catalog
	conns     *connection.Table
	errToggle *errtoggle.Engine
	remover   *fifocmd.Remover
	stats     *accounting.Registry
	metrics   *Metrics
	log       *logging.Logger
	runJob    RunJobFunc
	now       func() time.Time

	stack region.Stack

	pacerMu  sync.Mutex
	pacers   map[string]*accounting.Pacer
	limiters map[string]*accounting.ByteLimiter

	mu           sync.Mutex
	cancels      map[int]context.CancelFunc
	results      chan jobResult
	syntheticPID int // connection.Slot.PID is Empty()-tested; goroutine workers have no real PID, so we mint one
}

type jobResult struct {
	connIndex int
	msgName   string
	exit      int
}

// New builds a Dispatcher from cfg, filling in idiomatic defaults.
func New(cfg Config) *Dispatcher {
	d := &Dispatcher{
		layout:    cfg.Layout,
		fsaTable:  cfg.FSA,
		fraTable:  cfg.FRA,
		qbTable:   cfg.QB,
		mdbTable:  cfg.MDB,
		jidCat:    cfg.JID,
		conns:     cfg.Conns,
		errToggle: cfg.ErrToggle,
		remover:   cfg.Remover,
		stats:     cfg.Stats,
		metrics:   cfg.Metrics,
		log:       cfg.Log,
		runJob:    cfg.RunJob,
		now:       cfg.Now,
		pacers:    make(map[string]*accounting.Pacer),
		limiters:  make(map[string]*accounting.ByteLimiter),
		cancels:   make(map[int]context.CancelFunc),
		results:   make(chan jobResult, 64),
	}
	if d.runJob == nil {
		d.runJob = d.defaultRunJob
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// Report summarizes one Tick.
type Report struct {
	Spawned   int
	Completed int
}

// Tick runs one scheduling pass: reap what finished since the last
// tick, then scan the queue for newly-runnable work. Tick reads no
// DELETE_MESSAGE frames; deletes are applied by DeleteMessage.
func (d *Dispatcher) Tick(ctx context.Context) (Report, error) {
	var rep Report

	completed, err := d.reapCompleted()
	if err != nil {
		return rep, err
	}
	rep.Completed = completed

	spawned, err := d.scanAndSpawn(ctx)
	if err != nil {
		return rep, err
	}
	rep.Spawned = spawned

	return rep, nil
}

// DeleteMessage runs the DELETE_MESSAGE removal algorithm for msgName
// (spec §2.10/§4.4/§6) and, if a goroutine worker owns it, cancels
// that worker's context — the in-process analogue of the SIGINT/
// SIGKILL sequence internal/fifocmd.Remover applies to a real
// subprocess PID.
func (d *Dispatcher) DeleteMessage(msgName string) (fifocmd.Result, error) {
	d.mu.Lock()
	for connIndex, cancel := range d.cancels {
		slot, err := d.conns.Get(connIndex)
		if err == nil && slot.MsgName == msgName {
			cancel()
		}
	}
	d.mu.Unlock()

	// Resolve the owning host before Remove drops the QB entry, so the
	// total_file_counter/total_file_size decrement below can be scoped
	// to the right host under LOCK_TFC.
	fsaPos, haveFSAPos := -1, false
	if pos := d.qbTable.Find(msgName); pos >= 0 {
		if item, err := d.qbTable.Get(pos); err == nil {
			if p, _, ok := d.resolvePositions(item); ok {
				fsaPos, haveFSAPos = p, true
			}
		}
	}

	var res fifocmd.Result
	run := func() error {
		var err error
		res, err = d.remover.Remove(msgName)
		if err != nil {
			return err
		}
		if haveFSAPos && (res.FilesRemoved > 0 || res.BytesRemoved > 0) {
			return d.remover.DecrementHostCounters(fsaPos, int32(res.FilesRemoved), res.BytesRemoved)
		}
		return nil
	}

	var err error
	if haveFSAPos {
		err = d.withLock(fsaPos, region.TFC, run)
	} else {
		err = run()
	}
	return res, err
}

// isRunning reports whether some live connection slot already owns
// msgName, the goroutine-mode substitute for checking qb.Item.PID.
func (d *Dispatcher) isRunning(msgName string) bool {
	running := false
	d.conns.Each(func(_ int, s connection.Slot) {
		if s.MsgName == msgName {
			running = true
		}
	})
	return running
}

func (d *Dispatcher) reapCompleted() (int, error) {
	n := 0
	for {
		select {
		case res := <-d.results:
			if err := d.completeOne(res); err != nil {
				return n, err
			}
			n++
		default:
			return n, nil
		}
	}
}

func (d *Dispatcher) completeOne(res jobResult) error {
	d.mu.Lock()
	delete(d.cancels, res.connIndex)
	d.mu.Unlock()

	slot, err := d.conns.Get(res.connIndex)
	if err != nil {
		return err
	}

	faulty := errtoggle.No
	if res.exit != worker.ExitSuccess {
		faulty = errtoggle.Yes
	}

	if d.metrics != nil {
		d.metrics.recordCompletion(slot.Hostname, faulty == errtoggle.Yes)
	}
	if d.stats != nil {
		d.stats.For(slot.Hostname).FinishTransfer(res.msgName, 0, faulty == errtoggle.Yes)
	}

	if res.exit == worker.ExitTransient {
		// Retryable: leave the QB entry in place for a later pass, bump
		// its retry counter, and still release the connection/host
		// bookkeeping remove_connection performs.
		if pos := d.qbTable.Find(res.msgName); pos >= 0 {
			if item, err := d.qbTable.Get(pos); err == nil {
				item.Retries++
				d.qbTable.Set(pos, item)
			}
		}
	} else {
		d.removeCompletedMessage(res.msgName)
	}

	// remove_connection mutates both the EC (error_counter/toggle) and
	// HS (active_transfers/job_status) fields of the host record in one
	// pass; since every region.Kind guards the same per-host byte range,
	// a single outer-rank EC lock serializes the whole call against any
	// other locker on this host without needing to split the call.
	runErr := d.withLock(slot.FSAPos, region.EC, func() error {
		_, err := d.errToggle.RemoveConnection(res.connIndex, faulty, d.now())
		return err
	})
	if runErr != nil {
		return fmt.Errorf("dispatcher: remove_connection: %w", runErr)
	}

	if d.metrics != nil {
		if h, err := d.fsaTable.Get(slot.FSAPos); err == nil {
			d.metrics.observeHost(h.Alias(), h.ActiveTransfers, h.ErrorCounter)
		}
	}
	return nil
}

// removeCompletedMessage applies remove_msg's FRA/QB bookkeeping (spec
// §4.3) for a job that finished on its own, as opposed to one
// DELETE_MESSAGE cancelled (internal/fifocmd.Remover covers that path,
// including the outgoing-directory cleanup and worker signal this one
// does not need).
func (d *Dispatcher) removeCompletedMessage(msgName string) {
	pos := d.qbTable.Find(msgName)
	if pos < 0 {
		return
	}
	item, err := d.qbTable.Get(pos)
	if err != nil {
		return
	}

	if item.IsFetchJob() && d.fraTable != nil && int(item.Pos) < d.fraTable.Len() {
		dir, err := d.fraTable.Get(int(item.Pos))
		if err == nil {
			if dir.Queued > 0 {
				dir.Queued--
			}
			d.fraTable.Set(int(item.Pos), dir)
		}
	}

	_ = d.qbTable.RemoveAt(pos)
}

func (d *Dispatcher) scanAndSpawn(ctx context.Context) (int, error) {
	spawned := 0
	for i := 0; i < d.qbTable.Len(); i++ {
		if d.conns.InUse() >= d.conns.Cap() {
			break
		}

		item, err := d.qbTable.Get(i)
		if err != nil {
			continue
		}
		msgName := item.Name()
		if d.isRunning(msgName) {
			continue
		}

		fsaPos, fraPos, ok := d.resolvePositions(item)
		if !ok {
			continue
		}
		host, err := d.fsaTable.Get(fsaPos)
		if err != nil {
			continue
		}
		if host.IsGroupIdentifier() {
			continue
		}
		const pausedMask = fsa.StatusPauseQueue | fsa.StatusAutoPauseQueue | fsa.StatusDangerPauseSpeed
		if host.HostStatus&pausedMask != 0 {
			continue
		}
		if host.HostStatus&fsa.StatusNotWorking != 0 {
			// spec §4.4 step 4: skip while error_counter >= max_errors
			// and next_retry (last_error_time + retry_interval) is
			// still in the future. Once it has passed, re-admit the
			// host for one retry attempt; a further faulty exit will
			// re-set NOT_WORKING.
			if host.RetryBlocked(d.now().Unix()) {
				continue
			}
			host.HostStatus &^= fsa.StatusNotWorking
			if err := d.withLock(fsaPos, region.EC, func() error {
				d.fsaTable.Set(fsaPos, host)
				return nil
			}); err != nil {
				continue
			}
		}
		if host.ActiveTransfers >= host.AllowedTransfers {
			continue
		}

		jobSlot := firstIdleJobSlot(host)
		if jobSlot < 0 {
			continue
		}

		job, err := d.buildJob(item, host, fraPos)
		if err != nil {
			if d.log != nil {
				d.log.Msg(msgName).Warnf("building job: %v", err)
			}
			continue
		}

		slot := connection.Slot{
			PID:      d.nextPID(),
			HostID:   host.HostID,
			JobNo:    jobSlot,
			FSAPos:   fsaPos,
			FRAPos:   fraPos,
			MsgName:  msgName,
			Hostname: host.Alias(),
			Protocol: string(job.Protocol),
		}
		connIndex, err := d.conns.Allocate(slot)
		if err != nil {
			break
		}

		if err := d.markSpawned(fsaPos, jobSlot, job); err != nil {
			_ = d.conns.Release(connIndex)
			return spawned, err
		}

		if d.stats != nil {
			d.stats.For(host.Alias()).StartTransfer(msgName)
		}
		d.spawn(ctx, connIndex, host, job)
		spawned++
	}
	return spawned, nil
}

// markSpawned increments active_transfers and occupies the chosen
// job-status slot, under the host's HS region lock (spec §4.2: this
// mutation only ever needs the innermost lock in the designed
// EC->TFC->HS order since it touches neither error_counter nor the
// file counters).
func (d *Dispatcher) markSpawned(fsaPos, jobSlot int, job worker.Job) error {
	return d.withLock(fsaPos, region.HS, func() error {
		h, err := d.fsaTable.Get(fsaPos)
		if err != nil {
			return err
		}
		h.ActiveTransfers++
		h.JobStatusSlots[jobSlot] = fsa.JobStatus{
			ConnectStatus: connectStatusForProtocol(job.Protocol),
			ProcID:        -1,
			JobID:         fsa.NoID,
		}
		d.fsaTable.Set(fsaPos, h)
		return nil
	})
}

// withLock acquires the named region on the FSA backing file for host
// fsaPos, asserting the designed lock order via d.stack, running fn,
// and always releasing.
func (d *Dispatcher) withLock(fsaPos int, kind region.Kind, fn func() error) error {
	offset := region.ECOffset(shm.HeaderSize, fsa.RecordSize, fsaPos)
	locker := region.New(d.fsaTable.Fd(), kind, offset, int64(fsa.RecordSize))
	return region.WithLock(locker, &d.stack, fn)
}

// nextPID mints a synthetic, process-unique positive value for
// connection.Slot.PID — goroutine workers have no real OS PID, but the
// slot's Empty() test is PID!=0, so occupied slots still need one.
// This is independent of qb.Item.PID, which stays 0 for goroutine-
// spawned entries so internal/fifocmd.Remover's real-signal path
// naturally no-ops.
func (d *Dispatcher) nextPID() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.syntheticPID++
	return d.syntheticPID
}

func firstIdleJobSlot(h *fsa.Host) int {
	for i := range h.JobStatusSlots {
		if h.JobStatusSlots[i].Idle() {
			return i
		}
	}
	return -1
}

// resolvePositions resolves a QB item to its FSA/FRA indices: a fetch
// job's Pos indexes FRA directly (host resolved via host_alias); a
// send job's Pos indexes MDB, whose fsa_pos is authoritative.
func (d *Dispatcher) resolvePositions(item *qb.Item) (fsaPos, fraPos int, ok bool) {
	if item.IsFetchJob() {
		fraPos = int(item.Pos)
		if d.fraTable == nil || fraPos < 0 || fraPos >= d.fraTable.Len() {
			return 0, 0, false
		}
		dir, err := d.fraTable.Get(fraPos)
		if err != nil {
			return 0, 0, false
		}
		idx, found := d.fsaTable.IndexByAlias(dir.HostAliasStr())
		if !found {
			return 0, 0, false
		}
		return idx, fraPos, true
	}

	entry, err := d.mdbTable.Get(int(item.Pos))
	if err != nil {
		return 0, 0, false
	}
	if !entry.Resolve(d.fsaTable.Len()) {
		return 0, 0, false
	}
	return int(entry.FSAPos), -1, true
}

func (d *Dispatcher) buildJob(item *qb.Item, host *fsa.Host, fraPos int) (worker.Job, error) {
	protocol := protocolFromBits(host.Protocol)
	j := worker.Job{
		Protocol:     protocol,
		Port:         defaultPort[protocol],
		BlockSize:    host.BlockSize,
		RateLimitBps: host.TransferRateLimit,
		TimeoutSecs:  host.TransferTimeout,
	}
	j.Hostname = chosenHostname(host)

	if item.IsFetchJob() {
		dir, err := d.fraTable.Get(fraPos)
		if err != nil {
			return worker.Job{}, err
		}
		j.Retrieve = true
		j.RemoteDir = dir.Alias()
		j.SourceDir = d.layout.OutgoingDir(item.Name())
		return j, nil
	}

	entry, err := d.mdbTable.Get(int(item.Pos))
	if err != nil {
		return worker.Job{}, err
	}
	j.SourceDir = d.layout.OutgoingDir(item.Name())
	files, err := os.ReadDir(j.SourceDir)
	if err == nil {
		for _, f := range files {
			if !f.IsDir() {
				j.Files = append(j.Files, f.Name())
			}
		}
	}
	if d.jidCat != nil {
		if rec, found, _ := d.jidCat.Get(uint32(entry.JobID)); found {
			j.RemoteDir = rec.Recipient
		}
	}
	return j, nil
}

func chosenHostname(host *fsa.Host) string {
	idx := 0
	if host.HostToggle == fsa.HostTwo {
		idx = 1
	}
	return cstrField(host.RealHostname[idx][:])
}

func cstrField(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func connectStatusForProtocol(p worker.Protocol) fsa.ConnectStatus {
	switch p {
	case worker.ProtocolFTP:
		return fsa.FTPActive
	case worker.ProtocolSFTP:
		return fsa.SFTPActive
	case worker.ProtocolSCP:
		return fsa.SCPActive
	case worker.ProtocolHTTP:
		return fsa.HTTPActive
	case worker.ProtocolSMTP:
		return fsa.SMTPActive
	case worker.ProtocolWMO:
		return fsa.WMOActive
	default:
		return fsa.Connecting
	}
}

// protocolFromBits extracts a worker.Protocol from host.Protocol,
// masking off the high retrieve-flag bit fsa.RetrieveFlag carries.
func protocolFromBits(bits uint32) worker.Protocol {
	switch bits &^ fsa.RetrieveFlag {
	case 0:
		return worker.ProtocolFTP
	case 1:
		return worker.ProtocolSFTP
	case 2:
		return worker.ProtocolSCP
	case 3:
		return worker.ProtocolHTTP
	case 4:
		return worker.ProtocolSMTP
	case 5:
		return worker.ProtocolWMO
	default:
		return worker.ProtocolFTP
	}
}

func (d *Dispatcher) pacerFor(hostAlias string) *accounting.Pacer {
	d.pacerMu.Lock()
	defer d.pacerMu.Unlock()
	p, ok := d.pacers[hostAlias]
	if !ok {
		p = accounting.New(accounting.NewDefault(), 0)
		d.pacers[hostAlias] = p
	}
	return p
}

func (d *Dispatcher) limiterFor(hostAlias string, bytesPerSec int64, blockSize int32) *accounting.ByteLimiter {
	d.pacerMu.Lock()
	defer d.pacerMu.Unlock()
	l, ok := d.limiters[hostAlias]
	if !ok {
		l = accounting.NewByteLimiter(bytesPerSec, blockSize)
		d.limiters[hostAlias] = l
	}
	return l
}

func (d *Dispatcher) spawn(ctx context.Context, connIndex int, host *fsa.Host, job worker.Job) {
	jobCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancels[connIndex] = cancel
	d.mu.Unlock()

	pacer := d.pacerFor(host.Alias())
	limiter := d.limiterFor(host.Alias(), job.RateLimitBps, job.BlockSize)
	slot, _ := d.conns.Get(connIndex)

	go func() {
		defer cancel()
		exit := d.runJob(jobCtx, host, pacer, limiter, job)
		d.results <- jobResult{connIndex: connIndex, msgName: slot.MsgName, exit: exit}
	}()
}

// defaultRunJob dispatches job to the protocol worker package matching
// job.Protocol, classifying any error as a retryable transient failure
// (spec §7: workers report only by exit code; this thin stand-in layer
// does not attempt finer transient-vs-fatal classification per
// protocol).
func (d *Dispatcher) defaultRunJob(ctx context.Context, host *fsa.Host, pacer *accounting.Pacer, limiter *accounting.ByteLimiter, j worker.Job) int {
	var err error
	switch j.Protocol {
	case worker.ProtocolFTP:
		err = ftp.Transfer(ctx, j, pacer, limiter)
	case worker.ProtocolSFTP, worker.ProtocolSCP:
		err = sftp.Transfer(ctx, j, limiter)
	case worker.ProtocolHTTP:
		err = httpxfer.Transfer(ctx, j, limiter)
	case worker.ProtocolSMTP:
		err = smtp.Transfer(j)
	case worker.ProtocolWMO:
		err = wmo.Transfer(j, defaultWMODisconnect)
	default:
		err = fmt.Errorf("dispatcher: unknown protocol %q", j.Protocol)
	}
	if err == nil {
		return worker.ExitSuccess
	}
	if d.log != nil {
		d.log.Msg(j.SourceDir).Warnf("%s transfer failed: %v", j.Protocol, err)
	}
	return worker.ExitTransient
}
