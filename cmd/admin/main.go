package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	persistlog "circuitsandbox.dev/internal/persistence/log"
	"circuitsandbox.dev/internal/persistence/snapshot"
	"circuitsandbox.dev/internal/sim/grid"
	"circuitsandbox.dev/internal/sim/sandbox"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "rollback":
			rollbackCmd(os.Args[2:])
			return
		case "audit":
			auditCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "import":
			importCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

type snapFile struct {
	Tick uint64
	Path string
}

func listSnapshots(dataDir string) ([]snapFile, error) {
	dir := filepath.Join(dataDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []snapFile
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, snapFile{Tick: tick, Path: filepath.Join(dir, name)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tick < out[j].Tick })
	return out, nil
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	snaps, err := listSnapshots(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, s := range snaps {
		h, err := snapshot.ReadHeader(s.Path)
		if err != nil {
			fmt.Printf("%s\tunreadable: %v\n", filepath.Base(s.Path), err)
			continue
		}
		var size uint64
		if fi, err := os.Stat(s.Path); err == nil {
			size = uint64(fi.Size())
		}
		fmt.Printf("%s\ttick=%d\tdigest=%s\tsize=%s\n", filepath.Base(s.Path), h.Tick, h.Digest, humanize.Bytes(size))
	}
}

// rollbackCmd copies the cells of a rectangle from an older snapshot into the
// newest one and writes the result as a grid document for "admin import",
// plus a rollback snapshot next to the others.
func rollbackCmd(args []string) {
	fs := flag.NewFlagSet("rollback", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	fromPath := fs.String("from", "", "snapshot holding the cells to restore (required)")
	curPath := fs.String("snapshot", "", "snapshot to roll back (optional; defaults to latest)")
	rectFlag := fs.String("rect", "", "rectangle: x1,y1:x2,y2 (required)")
	outPath := fs.String("out", "", "output grid document (optional; stdout when empty)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*fromPath) == "" {
		fmt.Fprintln(os.Stderr, "missing -from")
		os.Exit(2)
	}
	r, err := parseRect(*rectFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad -rect:", err)
		os.Exit(2)
	}

	cur := strings.TrimSpace(*curPath)
	if cur == "" {
		snaps, err := listSnapshots(*dataDir)
		if err != nil || len(snaps) == 0 {
			fmt.Fprintln(os.Stderr, "no snapshot found; provide -snapshot or run server until it writes one")
			os.Exit(2)
		}
		cur = snaps[len(snaps)-1].Path
	}

	base, err := snapshot.ReadSnapshot(*fromPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read -from:", err)
		os.Exit(1)
	}
	snap, err := snapshot.ReadSnapshot(cur)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	if base.Header.Tick > snap.Header.Tick {
		fmt.Fprintf(os.Stderr, "-from tick %d is newer than snapshot tick %d\n", base.Header.Tick, snap.Header.Tick)
		os.Exit(2)
	}

	doc, changed := rollbackRegion(snap.Grid, base.Grid, r)
	g, err := grid.FromDocument(doc)
	if err != nil {
		fmt.Fprintln(os.Stderr, "rolled back grid:", err)
		os.Exit(1)
	}

	snap.Grid = doc
	snap.Header.Digest = grid.Digest(g)
	snap.Header.Applied = 0
	snap.Pending = nil
	snap.Releases = dropReleases(snap.Releases, r)
	rbPath := filepath.Join(filepath.Dir(cur), fmt.Sprintf("%d.rollback.snap.zst", snap.Header.Tick))
	if err := snapshot.WriteSnapshot(rbPath, snap); err != nil {
		fmt.Fprintln(os.Stderr, "write snapshot:", err)
		os.Exit(1)
	}

	if strings.TrimSpace(*outPath) == "" {
		printJSON(doc)
	} else if err := writeJSON(*outPath, doc); err != nil {
		fmt.Fprintln(os.Stderr, "write -out:", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "rollback ok: snapshot=%s from=%s rect=%s changed=%d digest=%s snap=%s\n",
		filepath.Base(cur), filepath.Base(*fromPath), *rectFlag, changed, snap.Header.Digest, rbPath)
}

type rect struct{ Min, Max grid.Coord }

func (r rect) contains(c grid.Coord) bool {
	return c.X >= r.Min.X && c.X <= r.Max.X && c.Y >= r.Min.Y && c.Y <= r.Max.Y
}

// rollbackRegion returns cur with every cell inside r replaced by its state
// in base. Cells empty in base become empty. changed counts cells that
// differ from cur.
func rollbackRegion(cur, base grid.Document, r rect) (grid.Document, int) {
	out := grid.Document{Size: cur.Size, Tiles: make(map[string]grid.Tile, len(cur.Tiles))}
	changed := 0
	for key, t := range cur.Tiles {
		c, err := grid.ParseKey(key)
		if err == nil && r.contains(c) {
			if bt, ok := base.Tiles[key]; !ok || bt != t {
				changed++
			}
			continue
		}
		out.Tiles[key] = t
	}
	for key, t := range base.Tiles {
		c, err := grid.ParseKey(key)
		if err != nil || !r.contains(c) {
			continue
		}
		out.Tiles[key] = t
		if _, ok := cur.Tiles[key]; !ok {
			changed++
		}
	}
	return out, changed
}

func dropReleases(in []snapshot.ReleaseV1, r rect) []snapshot.ReleaseV1 {
	var out []snapshot.ReleaseV1
	for _, rel := range in {
		if r.contains(grid.Coord{X: rel.Pos[0], Y: rel.Pos[1]}) {
			continue
		}
		out = append(out, rel)
	}
	return out
}

func parseRect(s string) (rect, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return rect{}, fmt.Errorf("expected x1,y1:x2,y2")
	}
	a, err := grid.ParseKey(parts[0])
	if err != nil {
		return rect{}, err
	}
	b, err := grid.ParseKey(parts[1])
	if err != nil {
		return rect{}, err
	}
	return rect{
		Min: grid.Coord{X: min(a.X, b.X), Y: min(a.Y, b.Y)},
		Max: grid.Coord{X: max(a.X, b.X), Y: max(a.Y, b.Y)},
	}, nil
}

// auditCmd prints audit entries inside a rectangle and tick range.
func auditCmd(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	rectFlag := fs.String("rect", "", "rectangle filter: x1,y1:x2,y2 (optional)")
	sinceTick := fs.Uint64("since_tick", 0, "first tick (inclusive)")
	toTick := fs.Uint64("to_tick", 0, "last tick (inclusive, optional)")
	rejected := fs.Bool("rejected", false, "only rejected commands")
	_ = fs.Parse(args)

	var r *rect
	if strings.TrimSpace(*rectFlag) != "" {
		rr, err := parseRect(*rectFlag)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad -rect:", err)
			os.Exit(2)
		}
		r = &rr
	}

	filter := auditFilter{rect: r, since: *sinceTick, to: *toTick, rejected: *rejected}
	err := persistlog.Scan(persistlog.AuditJournal(*dataDir), func(e sandbox.AuditEntry) error {
		if filter.match(e) {
			printJSON(e)
		}
		return nil
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "read audit:", err)
		os.Exit(1)
	}
}

type auditFilter struct {
	rect     *rect
	since    uint64
	to       uint64
	rejected bool
}

func (f auditFilter) match(e sandbox.AuditEntry) bool {
	if e.Tick < f.since || (f.to > 0 && e.Tick > f.to) {
		return false
	}
	if f.rejected && e.Reason == "" {
		return false
	}
	return f.rect == nil || f.rect.contains(grid.Coord{X: e.Pos[0], Y: e.Pos[1]})
}
