package main

import (
	"fmt"
	"net/http"

	"circuitsandbox.dev/internal/persistence/indexdb"
	"circuitsandbox.dev/internal/persistence/r2s3"
	"circuitsandbox.dev/internal/sim/sandbox"
)

type multiTickLogger struct {
	a sandbox.TickLogger
	b sandbox.TickLogger
}

func (m multiTickLogger) WriteTick(entry sandbox.TickLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteTick(entry)
	}
	if m.b != nil {
		_ = m.b.WriteTick(entry)
	}
	return nil
}

type multiAuditLogger struct {
	a sandbox.AuditLogger
	b sandbox.AuditLogger
}

func (m multiAuditLogger) WriteAudit(entry sandbox.AuditEntry) error {
	if m.a != nil {
		_ = m.a.WriteAudit(entry)
	}
	if m.b != nil {
		_ = m.b.WriteAudit(entry)
	}
	return nil
}

type statusSource interface {
	Status() sandbox.Status
}

// metricsHandler writes a minimal Prometheus exposition.
func metricsHandler(sb statusSource, idx *indexdb.SQLiteIndex, mirror *r2s3.Mirror) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		st := sb.Status()
		paused := 0
		if st.Paused {
			paused = 1
		}
		fmt.Fprintf(rw, "# HELP circuitsandbox_tick Current sandbox tick.\n")
		fmt.Fprintf(rw, "# TYPE circuitsandbox_tick gauge\n")
		fmt.Fprintf(rw, "circuitsandbox_tick %d\n", st.Tick)
		fmt.Fprintf(rw, "# HELP circuitsandbox_paused Whether the clock is paused.\n")
		fmt.Fprintf(rw, "# TYPE circuitsandbox_paused gauge\n")
		fmt.Fprintf(rw, "circuitsandbox_paused %d\n", paused)
		fmt.Fprintf(rw, "# HELP circuitsandbox_tiles Non-air tiles on the grid.\n")
		fmt.Fprintf(rw, "# TYPE circuitsandbox_tiles gauge\n")
		fmt.Fprintf(rw, "circuitsandbox_tiles %d\n", st.Tiles)
		fmt.Fprintf(rw, "# HELP circuitsandbox_clients Connected subscribers.\n")
		fmt.Fprintf(rw, "# TYPE circuitsandbox_clients gauge\n")
		fmt.Fprintf(rw, "circuitsandbox_clients %d\n", st.Subscribers)
		fmt.Fprintf(rw, "# HELP circuitsandbox_queue_depth Command inbox backlog.\n")
		fmt.Fprintf(rw, "# TYPE circuitsandbox_queue_depth gauge\n")
		fmt.Fprintf(rw, "circuitsandbox_queue_depth{queue=%q} %d\n", "inbox", st.Inbox)
		fmt.Fprintf(rw, "# HELP circuitsandbox_step_ms Last tick step duration in milliseconds.\n")
		fmt.Fprintf(rw, "# TYPE circuitsandbox_step_ms gauge\n")
		fmt.Fprintf(rw, "circuitsandbox_step_ms %.3f\n", st.StepMS)
		if mirror != nil {
			ms := mirror.Stats()
			fmt.Fprintf(rw, "circuitsandbox_queue_depth{queue=%q} %d\n", "mirror", ms.QueueDepth)
			fmt.Fprintf(rw, "# HELP circuitsandbox_mirror_uploads_total Snapshot uploads to the object store.\n")
			fmt.Fprintf(rw, "# TYPE circuitsandbox_mirror_uploads_total counter\n")
			fmt.Fprintf(rw, "circuitsandbox_mirror_uploads_total{result=%q} %d\n", "ok", ms.UploadSuccessTotal)
			fmt.Fprintf(rw, "circuitsandbox_mirror_uploads_total{result=%q} %d\n", "fail", ms.UploadFailTotal)
			fmt.Fprintf(rw, "circuitsandbox_mirror_uploads_total{result=%q} %d\n", "dropped", ms.DroppedTotal)
		}
		if idx == nil {
			return
		}
		is := idx.Stats()
		fmt.Fprintf(rw, "circuitsandbox_queue_depth{queue=%q} %d\n", "index", is.QueueDepth)
		fmt.Fprintf(rw, "# HELP circuitsandbox_index_dropped_total Rows the index dropped under backlog.\n")
		fmt.Fprintf(rw, "# TYPE circuitsandbox_index_dropped_total counter\n")
		fmt.Fprintf(rw, "circuitsandbox_index_dropped_total{kind=%q} %d\n", "tick", is.DropTickTotal)
		fmt.Fprintf(rw, "circuitsandbox_index_dropped_total{kind=%q} %d\n", "audit", is.DropAuditTotal)
		fmt.Fprintf(rw, "circuitsandbox_index_dropped_total{kind=%q} %d\n", "snapshot", is.DropSnapshotTotal)
	}
}
