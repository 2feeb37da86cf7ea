// Command fdmon is a standalone inspection/admin tool for the AFD
// core: it reports whether the dispatcher is alive via the AFD_ACTIVE
// heartbeat (spec §6) and runs the DELETE_MESSAGE cancellation path
// (spec §4.4/§6) either through the command fifo, when the dispatcher
// is active, or directly against the shared state, when it is not.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/holger24/AFD-sub018/internal/afdstatus"
	"github.com/holger24/AFD-sub018/internal/fifocmd"
	"github.com/holger24/AFD-sub018/internal/fra"
	"github.com/holger24/AFD-sub018/internal/fsa"
	"github.com/holger24/AFD-sub018/internal/logging"
	"github.com/holger24/AFD-sub018/internal/mdb"
	"github.com/holger24/AFD-sub018/internal/qb"
	"github.com/holger24/AFD-sub018/internal/selfcheck"
	"github.com/holger24/AFD-sub018/pkg/afdpath"
)

var (
	workDir       string
	heartbeatWait time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "fdmon",
		Short: "Inspect and administer a running or stopped AFD core",
	}
	root.PersistentFlags().StringVar(&workDir, "work-dir", afdpath.WorkDir("."), "AFD work directory (AFD_WORK_DIR)")
	root.PersistentFlags().DurationVar(&heartbeatWait, "heartbeat-wait", 2*time.Second, "spacing between the two AFD_ACTIVE counter reads")

	root.AddCommand(statusCmd(), deleteCmd(), selfCheckCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the dispatcher is alive (AFD_ACTIVE heartbeat)",
		RunE: func(cmd *cobra.Command, args []string) error {
			layout := afdpath.NewLayout(workDir)
			presence, err := afdstatus.IsAlive(layout.AFDActive(), heartbeatWait)
			if err != nil && presence != afdstatus.Dead {
				return err
			}
			switch presence {
			case afdstatus.Alive:
				fmt.Println("alive")
			case afdstatus.Timeout:
				fmt.Println("timeout: AFD_ACTIVE present but heartbeat not advancing")
				os.Exit(2)
			default:
				fmt.Println("dead: no AFD_ACTIVE heartbeat")
				os.Exit(1)
			}
			return nil
		},
	}
}

func deleteCmd() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "delete <msg_name>",
		Short: "Cancel a queued or in-flight message by msg_name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msgName := args[0]
			layout := afdpath.NewLayout(workDir)

			presence, err := afdstatus.IsAlive(layout.AFDActive(), wait)
			if err == nil && presence == afdstatus.Alive {
				return submitViaFifo(layout, msgName)
			}
			return deleteDirectly(layout, msgName)
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 500*time.Millisecond, "heartbeat double-read spacing for the liveness probe")
	return cmd
}

// submitViaFifo implements the dispatcher-active cancellation path of
// spec §4.4: write the opcode frame to FD_DELETE_FIFO and return — the
// dispatcher itself performs the removal on its next tick.
func submitViaFifo(layout *afdpath.Layout, msgName string) error {
	path := layout.FDDeleteFifo()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := unix.Mkfifo(path, 0600); err != nil {
			return fmt.Errorf("fdmon: mkfifo %s: %w", path, err)
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("fdmon: open %s: %w", path, err)
	}
	defer f.Close()
	if err := fifocmd.SubmitDelete(f, msgName); err != nil {
		return err
	}
	fmt.Printf("submitted DELETE_MESSAGE for %s\n", msgName)
	return nil
}

// deleteDirectly implements the dispatcher-inactive fallback of spec
// §4.4: perform the same removal algorithm against the shared state
// directly. No region lock is taken (Remove itself takes none); with
// no dispatcher running, nothing else contends for LOCK_TFC.
func deleteDirectly(layout *afdpath.Layout, msgName string) error {
	qbTable, err := qb.Open(layout.MsgQueueFile())
	if err != nil {
		return fmt.Errorf("fdmon: open QB: %w", err)
	}
	defer qbTable.Close()

	fraTable, err := fra.Open(layout.FRAStatFile(0))
	if err != nil {
		return fmt.Errorf("fdmon: open FRA: %w", err)
	}
	defer fraTable.Close()

	fsaTable, err := fsa.Open(layout.FSAStatFile(0))
	if err != nil {
		return fmt.Errorf("fdmon: open FSA: %w", err)
	}
	defer fsaTable.Close()

	mdbTable, err := mdb.Open(layout.MsgCacheFile())
	if err != nil {
		return fmt.Errorf("fdmon: open MDB: %w", err)
	}
	defer mdbTable.Close()

	log := logging.New(os.Stderr, logrus.InfoLevel)
	remover := &fifocmd.Remover{
		Layout: layout,
		QB:     qbTable,
		FRA:    fraTable,
		FSA:    fsaTable,
		Log:    log,
	}

	// Resolve the owning host before Remove drops the QB entry, so the
	// total_file_counter/total_file_size decrement below (spec §4.4,
	// scenario 5) can be scoped to the right host.
	fsaPos, haveFSAPos := resolveFSAPos(qbTable, mdbTable, fraTable, fsaTable, msgName)

	res, err := remover.Remove(msgName)
	if err != nil {
		return err
	}
	if !res.Found {
		fmt.Printf("%s: not found in queue\n", msgName)
		os.Exit(1)
	}
	if haveFSAPos && (res.FilesRemoved > 0 || res.BytesRemoved > 0) {
		if err := remover.DecrementHostCounters(fsaPos, int32(res.FilesRemoved), res.BytesRemoved); err != nil {
			return err
		}
	}
	fmt.Printf("%s: removed (%d files, %d bytes reclaimed)\n", msgName, res.FilesRemoved, res.BytesRemoved)
	return nil
}

// resolveFSAPos mirrors internal/dispatcher.resolvePositions: a fetch
// job's Pos indexes FRA directly (host resolved via host_alias); a
// send job's Pos indexes MDB, whose fsa_pos is authoritative.
func resolveFSAPos(qbTable *qb.Table, mdbTable *mdb.Table, fraTable *fra.Table, fsaTable *fsa.Table, msgName string) (int, bool) {
	pos := qbTable.Find(msgName)
	if pos < 0 {
		return 0, false
	}
	item, err := qbTable.Get(pos)
	if err != nil {
		return 0, false
	}
	if item.IsFetchJob() {
		if int(item.Pos) < 0 || int(item.Pos) >= fraTable.Len() {
			return 0, false
		}
		dir, err := fraTable.Get(int(item.Pos))
		if err != nil {
			return 0, false
		}
		idx, found := fsaTable.IndexByAlias(dir.HostAliasStr())
		return idx, found
	}
	entry, err := mdbTable.Get(int(item.Pos))
	if err != nil {
		return 0, false
	}
	if !entry.Resolve(fsaTable.Len()) {
		return 0, false
	}
	return int(entry.FSAPos), true
}

func selfCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "selfcheck",
		Short: "Run check_fsa_entries once against the shared state",
		RunE: func(cmd *cobra.Command, args []string) error {
			layout := afdpath.NewLayout(workDir)
			fsaTable, err := fsa.Open(layout.FSAStatFile(0))
			if err != nil {
				return fmt.Errorf("fdmon: open FSA: %w", err)
			}
			defer fsaTable.Close()
			fraTable, err := fra.Open(layout.FRAStatFile(0))
			if err != nil {
				return fmt.Errorf("fdmon: open FRA: %w", err)
			}
			defer fraTable.Close()

			log := logging.New(os.Stderr, logrus.InfoLevel)
			rep, err := selfcheck.Run(fsaTable, fraTable, func(int) bool { return false }, func(int) bool { return false }, log)
			if err != nil {
				return err
			}
			fmt.Printf("checked %d hosts, corrected %d, cleared %d error-queue bits\n", rep.HostsChecked, rep.HostsCorrected, rep.ErrorQueueBitsCleared)
			return nil
		},
	}
}
