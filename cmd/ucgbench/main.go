// Command ucgbench drives synthetic collectives against an in-process
// loopback transport and records per-run latency/fragment statistics
// (SPEC_FULL section 2.7). It exercises the full planning and execution
// path — catalog selection, plan-cache, materialization, step execution,
// and demux — the way the teacher separates peripheral, stateful tools
// (cmd/bootstrap, cmd/helm) from the stateless core packages.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/cobaltmesh/ucg/internal/backoff"
	"github.com/cobaltmesh/ucg/pkg/config"
	"github.com/cobaltmesh/ucg/pkg/demux"
	"github.com/cobaltmesh/ucg/pkg/exec"
	"github.com/cobaltmesh/ucg/pkg/group"
	"github.com/cobaltmesh/ucg/pkg/observability"
	"github.com/cobaltmesh/ucg/pkg/op"
	"github.com/cobaltmesh/ucg/pkg/plan"
	"github.com/cobaltmesh/ucg/pkg/recorder"
)

func main() {
	memberCount := flag.Int("n", 8, "simulated group member count")
	collName := flag.String("coll", "allreduce", "collective to run: allreduce | barrier")
	count := flag.Int("count", 4, "element count per rank's buffer")
	dbPath := flag.String("db", "file:ucgbench?mode=memory&cache=shared", "sqlite DSN for the benchmark Recorder")
	collID := flag.Int("coll-id", 0, "wire coll_id to run under (spec section 3)")
	flag.Parse()

	if err := run(*memberCount, *collName, *count, *dbPath, uint8(*collID)); err != nil {
		fmt.Fprintln(os.Stderr, "ucgbench:", err)
		os.Exit(1)
	}
}

func run(n int, collName string, count int, dbPath string, collID uint8) error {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg := config.Load()

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open recorder db: %w", err)
	}
	defer db.Close()
	rec := recorder.NewSQLiteRecorder(db)
	if err := rec.Init(ctx); err != nil {
		return fmt.Errorf("init recorder schema: %w", err)
	}

	obs, err := observability.New(ctx, observability.DefaultConfig(), logger)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer obs.Shutdown(ctx)

	collType, ok := map[string]plan.CollType{
		"allreduce": plan.CollAllReduce,
		"barrier":   plan.CollBarrier,
	}[collName]
	if !ok {
		return fmt.Errorf("unknown collective %q", collName)
	}

	net := newLoopbackNetwork(n)
	h := sumHost{groupSize: n}
	catalog, err := plan.NewCatalog(nil)
	if err != nil {
		return fmt.Errorf("build catalog: %w", err)
	}

	type rankState struct {
		grp    *group.Group
		cache  *plan.Cache
		router *demux.Router
		req    *exec.Request
		recv   []byte
	}
	ranks := make([]*rankState, n)

	start := time.Now()

	for r := 0; r < n; r++ {
		grp, err := group.Open(group.Params{
			ID:              0,
			MemberCount:     n,
			MemberIndex:     r,
			ProtocolVersion: "1.0.0",
			WindowSize:      cfg.WindowSize,
		}, net.worker(r), loopbackResolver{}, h)
		if err != nil {
			return fmt.Errorf("rank %d: open group: %w", r, err)
		}

		cache := plan.NewCache()
		grp.OnClose(cache.Flush)

		router := demux.New(logger.With("rank", r))
		router.Register(grp)
		net.worker(r).RegisterAMHandler(cfg.BaseAMID, router.Handler())

		ranks[r] = &rankState{grp: grp, cache: cache, router: router}
	}

	thresholds := plan.Thresholds{
		MaxShortOne:         cfg.MaxShortOne,
		MaxShortMax:         cfg.MaxShortMax,
		MaxBcopyOne:         cfg.MaxBcopyOne,
		MaxBcopyMax:         cfg.MaxBcopyMax,
		MaxZcopyOne:         cfg.MaxZcopyOne,
		RegisteredMemoryCap: cfg.RegisteredMemoryCap,
	}

	var algoUsed plan.AlgorithmID
	for r := 0; r < n; r++ {
		rs := ranks[r]
		grp := rs.grp

		sel := plan.SelectParams{
			MsgSize:      count * int32Size,
			GroupSize:    n,
			IsPowerOfTwo: isPowerOfTwo(n),
			Root:         0,
		}
		algoID, builder, err := catalog.Select(collType, sel)
		if err != nil {
			return fmt.Errorf("rank %d: select algorithm: %w", r, err)
		}
		algoUsed = algoID

		sig := plan.Signature{
			Collective: collType,
			Root:       0,
			DatatypeID: "int32",
			OpID:       "sum",
		}
		sigKey, err := sig.Key()
		if err != nil {
			return fmt.Errorf("rank %d: signature key: %w", r, err)
		}
		cacheKey := plan.CacheKey{Algorithm: algoID, SignatureKey: sigKey}

		p, hit := rs.cache.Get(cacheKey)
		if !hit {
			connect := func(peerIndex int, _ int) error {
				_, err := grp.Connect(ctx, peerIndex)
				return err
			}
			p, err = builder(plan.GroupParams{
				ID:          grp.ID(),
				MemberCount: grp.MemberCount(),
				MemberIndex: grp.MemberIndex(),
				Distance:    grp.Distance,
			}, plan.BuildConfig{
				RecursiveKFactor: cfg.RecursiveKFactor,
				Thresholds:       thresholds,
			}, plan.CollParams{
				Type:        collType,
				Root:        0,
				Count:       count,
				Commutative: true,
			}, connect)
			if err != nil {
				return fmt.Errorf("rank %d: build plan: %w", r, err)
			}
			if err := p.Validate(); err != nil {
				return fmt.Errorf("rank %d: validate plan: %w", r, err)
			}
			rs.cache.Put(cacheKey, p)
		}

		sendVals := make([]int32, count)
		for i := range sendVals {
			sendVals[i] = int32(r)
		}
		rs.recv = make([]byte, count*int32Size)
		inv := op.Invocation{
			SendBuffer: encodeInts(sendVals),
			RecvBuffer: rs.recv,
			Count:      count,
			Datatype:   "int32",
			Op:         "sum",
			Root:       0,
		}

		materialized, err := op.Materialize(p, inv, op.MaterializeConfig{
			Defaults:      thresholds,
			OptimizeAfter: 8,
		}, h, loopbackMemoryDomain{})
		if err != nil {
			return fmt.Errorf("rank %d: materialize op: %w", r, err)
		}

		rs.req = exec.New(exec.Params{
			ID:       uuid.New(),
			CollID:   collID,
			Op:       materialized,
			Group:    grp,
			Host:     h,
			Datatype: "int32",
			Reducer:  "sum",
			BaseAMID: cfg.BaseAMID,
			Backoff:  backoff.DefaultPolicy(),
			Obs:      obs,
		})
	}

	for r := 0; r < n; r++ {
		if err := ranks[r].req.Start(ctx); err != nil {
			return fmt.Errorf("rank %d: start request: %w", r, err)
		}
	}

	// Every group progresses independently per spec section 5's cooperative
	// scheduling model; the driver round-robins Progress across ranks until
	// every request reaches StateDone. A round with zero completed work
	// units and at least one rank still short of StateDone means the
	// simulated fleet deadlocked, which is a bug rather than a condition to
	// retry forever.
	for {
		allDone := true
		progressed := 0
		for r := 0; r < n; r++ {
			if ranks[r].req.State() != exec.StateDone {
				allDone = false
			}
			progressed += net.worker(r).Progress(ctx)
		}
		if allDone {
			break
		}
		if progressed == 0 {
			return fmt.Errorf("run: no progress made but not all ranks reached StateDone")
		}
	}

	elapsed := time.Since(start)

	for r := 0; r < n; r++ {
		if err := ranks[r].req.Status(); err != nil {
			return fmt.Errorf("rank %d finished with error: %w", r, err)
		}
	}

	if collType == plan.CollAllReduce {
		want := sumOf(n)
		for r := 0; r < n; r++ {
			got := decodeInts(ranks[r].recv)
			for i, v := range got {
				if v != want {
					return fmt.Errorf("rank %d element %d = %d, want %d", r, i, v, want)
				}
			}
		}
	}

	benchRun := recorder.Run{
		ID:           uuid.New().String(),
		Collective:   collType.String(),
		Algorithm:    algoUsed.String(),
		MemberCount:  n,
		LatencyNanos: elapsed.Nanoseconds(),
		RecordedAt:   time.Now(),
	}
	if err := rec.Record(ctx, benchRun); err != nil {
		return fmt.Errorf("record run: %w", err)
	}

	logger.Info("ucgbench run complete",
		"collective", collType.String(),
		"algorithm", algoUsed.String(),
		"members", n,
		"elapsed", elapsed)
	return nil
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
