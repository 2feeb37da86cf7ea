// Command dispatcher is fd, the dispatcher-core daemon of spec §2.8:
// it attaches the shared FSA/FRA/QB/MDB/JID state under $AFD_WORK_DIR,
// runs the scheduling loop of spec §4.4 on a fixed tick, and serves a
// Prometheus /metrics endpoint for the collaborator dashboards spec §1
// places out of scope.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/holger24/AFD-sub018/internal/accounting"
	"github.com/holger24/AFD-sub018/internal/afdstatus"
	"github.com/holger24/AFD-sub018/internal/connection"
	"github.com/holger24/AFD-sub018/internal/dispatcher"
	"github.com/holger24/AFD-sub018/internal/errtoggle"
	"github.com/holger24/AFD-sub018/internal/fifocmd"
	"github.com/holger24/AFD-sub018/internal/fra"
	"github.com/holger24/AFD-sub018/internal/fsa"
	"github.com/holger24/AFD-sub018/internal/jid"
	"github.com/holger24/AFD-sub018/internal/logging"
	"github.com/holger24/AFD-sub018/internal/mdb"
	"github.com/holger24/AFD-sub018/internal/qb"
	"github.com/holger24/AFD-sub018/internal/resync"
	"github.com/holger24/AFD-sub018/internal/selfcheck"
	"github.com/holger24/AFD-sub018/pkg/afdpath"
)

var (
	workDir        string
	maxConnections int
	tickInterval   time.Duration
	selfCheckEvery time.Duration
	resyncEvery    time.Duration
	metricsAddr    string
	logLevel       string
)

func main() {
	root := &cobra.Command{
		Use:   "dispatcher",
		Short: "Run the AFD transfer-scheduler dispatcher core",
		RunE:  run,
	}
	root.Flags().StringVar(&workDir, "work-dir", afdpath.WorkDir("."), "AFD work directory (AFD_WORK_DIR)")
	root.Flags().IntVar(&maxConnections, "max-connections", 64, "global cap on concurrent outbound transfers")
	root.Flags().DurationVar(&tickInterval, "tick-interval", time.Second, "idle-tick sleep between dispatcher scans")
	root.Flags().DurationVar(&selfCheckEvery, "self-check-interval", 30*time.Second, "interval between check_fsa_entries sweeps")
	root.Flags().DurationVar(&resyncEvery, "resync-interval", 5*time.Second, "interval between get_new_positions resync passes")
	root.Flags().StringVar(&metricsAddr, "metrics-addr", ":9109", "address to serve /metrics on; empty disables it")
	root.Flags().StringVar(&logLevel, "log-level", "info", "logrus level (debug, info, warn, error)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}
	log := logging.New(os.Stderr, level)
	layout := afdpath.NewLayout(workDir)

	fsaTable, err := openOrCreateFSA(layout.FSAStatFile(0))
	if err != nil {
		return err
	}
	defer fsaTable.Close()

	fraTable, err := openOrCreateFRA(layout.FRAStatFile(0))
	if err != nil {
		return err
	}
	defer fraTable.Close()

	qbTable, err := openOrCreateQB(layout.MsgQueueFile())
	if err != nil {
		return err
	}
	defer qbTable.Close()

	mdbTable, err := openOrCreateMDB(layout.MsgCacheFile())
	if err != nil {
		return err
	}
	defer mdbTable.Close()

	jidCat, err := jid.Open(layout.JobIDDataFile())
	if err != nil {
		return err
	}
	defer jidCat.Close()

	conns := connection.NewTable(maxConnections)
	status := &afdstatus.ProcessState{}
	stats := accounting.NewRegistry()

	remover := &fifocmd.Remover{
		Layout: layout,
		QB:     qbTable,
		FRA:    fraTable,
		FSA:    fsaTable,
		Log:    log,
	}
	engine := &errtoggle.Engine{
		FSA:    fsaTable,
		FRA:    fraTable,
		Conns:  conns,
		Status: status,
		Log:    log,
	}

	var metrics *dispatcher.Metrics
	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		metrics = dispatcher.NewMetrics(reg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Warn("metrics server stopped")
			}
		}()
	}

	d := dispatcher.New(dispatcher.Config{
		Layout:    layout,
		FSA:       fsaTable,
		FRA:       fraTable,
		QB:        qbTable,
		MDB:       mdbTable,
		JID:       jidCat,
		Conns:     conns,
		ErrToggle: engine,
		Remover:   remover,
		Stats:     stats,
		Metrics:   metrics,
		Log:       log,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Infof("dispatcher starting: work-dir=%s max-connections=%d", workDir, maxConnections)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	selfCheckTicker := time.NewTicker(selfCheckEvery)
	defer selfCheckTicker.Stop()
	resyncTicker := time.NewTicker(resyncEvery)
	defer resyncTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("dispatcher shutting down")
			return nil
		case <-ticker.C:
			rep, err := d.Tick(ctx)
			if err != nil {
				log.WithError(err).Warn("tick failed")
				continue
			}
			if rep.Spawned > 0 || rep.Completed > 0 {
				log.Debugf("tick: spawned=%d completed=%d", rep.Spawned, rep.Completed)
			}
		case <-resyncTicker.C:
			if _, err := resync.Resync(conns, fsaTable, fraTable); err != nil {
				log.WithError(err).Warn("resync failed")
			}
		case <-selfCheckTicker.C:
			rep, err := selfcheck.Run(fsaTable, fraTable, func(hostIndex int) bool {
				return qbReferencesHost(qbTable, mdbTable, hostIndex)
			}, func(int) bool { return false }, log)
			if err != nil {
				log.WithError(err).Warn("self-check failed")
			} else if rep.HostsCorrected > 0 {
				log.Warnf("self-check corrected %d of %d hosts", rep.HostsCorrected, rep.HostsChecked)
			}
		}
	}
}

// qbReferencesHost reports whether any queued item currently resolves
// to hostIndex, the precondition selfcheck.Run requires before
// touching a host's counters (spec §4.7).
func qbReferencesHost(qbTable *qb.Table, mdbTable *mdb.Table, hostIndex int) bool {
	for i := 0; i < qbTable.Len(); i++ {
		item, err := qbTable.Get(i)
		if err != nil {
			continue
		}
		if item.IsFetchJob() {
			continue
		}
		entry, err := mdbTable.Get(int(item.Pos))
		if err != nil {
			continue
		}
		if int(entry.FSAPos) == hostIndex {
			return true
		}
	}
	return false
}

func openOrCreateFSA(path string) (*fsa.Table, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := fsa.Create(path); err != nil {
			return nil, err
		}
	}
	return fsa.Open(path)
}

func openOrCreateFRA(path string) (*fra.Table, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := fra.Create(path); err != nil {
			return nil, err
		}
	}
	return fra.Open(path)
}

func openOrCreateQB(path string) (*qb.Table, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := qb.Create(path); err != nil {
			return nil, err
		}
	}
	return qb.Open(path)
}

func openOrCreateMDB(path string) (*mdb.Table, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := mdb.Create(path); err != nil {
			return nil, err
		}
	}
	return mdb.Open(path)
}
