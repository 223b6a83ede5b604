package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"circuitsandbox.dev/internal/persistence/indexdb"
	"circuitsandbox.dev/internal/persistence/r2s3"
	persistlog "circuitsandbox.dev/internal/persistence/log"
	"circuitsandbox.dev/internal/persistence/snapshot"
	"circuitsandbox.dev/internal/platform/logger"
	"circuitsandbox.dev/internal/protocol"
	"circuitsandbox.dev/internal/sim/sandbox"
	"circuitsandbox.dev/internal/sim/tuning"
	"circuitsandbox.dev/internal/transport/observer"
	"circuitsandbox.dev/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index (tick/audit/snapshot metadata)")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	log := logger.New()

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		log.WithError(err).Fatal("create data dir")
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.WithError(err).Fatal("load tuning")
		}
		log.WithField("path", tp).Warn("tuning not found; using defaults")
		tune = tuning.Defaults()
	}

	// Optional read-model index (does not affect sim determinism).
	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index", "sandbox.sqlite"))
		if err != nil {
			log.WithError(err).Fatal("open index")
		}
		defer idx.Close()
		if err := idx.UpsertTuning(tune); err != nil {
			log.WithError(err).Warn("index: upsert tuning")
		}
	}

	sb := sandbox.New(sandbox.ConfigFromTuning(tune), log.WithField("component", "sandbox"))

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = resumeSnapshot(context.Background(), *dataDir, idx)
	}
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			log.WithError(err).WithField("path", snapshotToLoad).Fatal("read snapshot")
		}
		if err := sb.ImportSnapshot(snap); err != nil {
			log.WithError(err).WithField("path", snapshotToLoad).Fatal("import snapshot")
		}
		if snap.Grid.Size != tune.GridSize {
			log.WithFields(logrus.Fields{"snapshot": snap.Grid.Size, "tuning": tune.GridSize}).Warn("grid size follows the snapshot")
		}
		log.WithFields(logrus.Fields{
			"path":   filepath.Base(snapshotToLoad),
			"tick":   sb.CurrentTick(),
			"tiles":  len(snap.Grid.Tiles),
			"paused": snap.Paused,
		}).Info("resumed from snapshot")
	}

	ctx, cancel := signalContext()
	defer cancel()

	tickLog := persistlog.NewTickLogger(*dataDir)
	auditLog := persistlog.NewAuditLogger(*dataDir)
	defer tickLog.Close()
	defer auditLog.Close()
	if idx != nil {
		sb.SetTickLogger(multiTickLogger{tickLog, idx})
		sb.SetAuditLogger(multiAuditLogger{auditLog, idx})
	} else {
		sb.SetTickLogger(tickLog)
		sb.SetAuditLogger(auditLog)
	}

	var mirror *r2s3.Mirror
	if mcfg, ok := r2s3.ConfigFromEnv(os.Getenv); ok {
		client, err := r2s3.New(mcfg)
		if err != nil {
			log.WithError(err).Fatal("snapshot mirror")
		}
		mirror = r2s3.NewMirror(client, *dataDir, r2s3.MirrorOptions{Prefix: os.Getenv("CS_MIRROR_PREFIX")}, log.WithField("component", "mirror"))
		log.WithFields(logrus.Fields{"endpoint": mcfg.Endpoint, "bucket": mcfg.Bucket}).Info("snapshot mirror enabled")
	}

	snapCh := make(chan snapshot.SnapshotV1, 2)
	sb.SetSnapshotSink(snapCh)
	snapDone := make(chan struct{})
	go func() {
		defer close(snapDone)
		runSnapshotWriter(ctx, snapCh, *dataDir, tune.SnapshotKeep, snapshotSinks{idx: idx, mirror: mirror}, log.WithField("component", "snapshot"))
	}()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := sb.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("sandbox stopped")
		}
	}()

	schemas, err := protocol.LoadSchemas()
	if err != nil {
		log.WithError(err).Fatal("load schemas")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/v1/status", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		resp := struct {
			sandbox.Status
			Params protocol.SandboxParams `json:"params"`
			Index  *indexdb.Stats         `json:"index,omitempty"`
			Mirror *r2s3.Stats            `json:"mirror,omitempty"`
		}{Status: sb.Status(), Params: sb.Params()}
		if idx != nil {
			st := idx.Stats()
			resp.Index = &st
		}
		if mirror != nil {
			ms := mirror.Stats()
			resp.Mirror = &ms
		}
		_ = json.NewEncoder(rw).Encode(resp)
	})
	mux.HandleFunc("/metrics", metricsHandler(sb, idx, mirror))
	if idx != nil {
		mux.HandleFunc("/v1/events/count", eventCountHandler(idx, sb))
	}

	wsSrv := ws.NewServer(sb, schemas, tune.MaxClientQueue, log.WithField("component", "ws"))
	mux.HandleFunc("/v1/ws", wsSrv.Handler())
	mux.HandleFunc("/v1/export", wsSrv.ExportHandler())
	mux.HandleFunc("/v1/import", wsSrv.ImportHandler())

	if envBool("CS_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		// Local-only admin endpoints (do not affect simulation determinism).
		mux.HandleFunc("/admin/v1/snapshot", func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			ctx2, cancel2 := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel2()
			tick, err := sb.RequestSnapshot(ctx2)
			rw.Header().Set("Content-Type", "application/json")
			if err != nil {
				rw.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "tick": tick, "error": err.Error()})
				return
			}
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "tick": tick})
		})
		obsSrv := observer.NewServer(sb, log.WithField("component", "observer"))
		mux.HandleFunc("/admin/v1/observer/bootstrap", obsSrv.BootstrapHandler())
		mux.HandleFunc("/admin/v1/observer/ws", obsSrv.WSHandler())
	} else {
		log.Info("admin endpoints disabled (CS_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("CS_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	log.WithField("addr", *addr).Info("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("ListenAndServe")
	}

	<-loopDone
	<-snapDone
	mirror.Close()
	log.WithField("tick", sb.CurrentTick()).Info("shutdown complete")
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
