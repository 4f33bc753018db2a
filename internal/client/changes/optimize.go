package changes

import (
	"context"
	"log/slog"
	"path"
	"strings"

	"github.com/hcsync/hcs/internal/proto"
)

// Optimize collapses redundant changes while keeping the order of the
// survivors. Content is read from the live file when a change is sent, so a
// create or modify already covers any later modify of the same path:
//
//	create, modify  -> create
//	create, create  -> create
//	modify, modify  -> modify
//	create, delete  -> nothing
//	modify, delete  -> delete
//
// A directory delete also deletes every open file and directory create below
// it, and cancels out a pending create of the directory itself. Moves end the
// run for every path they touch.
func Optimize(records []Record) (kept []Record, dropped []Record) {
	drop := make([]bool, len(records))
	open := make(map[string]int)
	dirs := make(map[string]int)

	for i, rec := range records {
		ev := rec.Event
		switch ev.Kind {
		case proto.FileCreate, proto.FileModify:
			if _, ok := open[ev.Path]; ok {
				drop[i] = true
				continue
			}
			open[ev.Path] = i
		case proto.FileDelete:
			j, ok := open[ev.Path]
			if !ok {
				continue
			}
			delete(open, ev.Path)
			drop[j] = true
			if records[j].Event.Kind == proto.FileCreate {
				drop[i] = true
			}
		case proto.DirectoryCreate:
			forgetUnder(open, ev.Path)
			forgetUnder(dirs, ev.Path)
			dirs[ev.Path] = i
		case proto.DirectoryDelete:
			for _, j := range takeUnder(open, ev.Path) {
				drop[j] = true
			}
			for _, j := range takeUnder(dirs, ev.Path) {
				if records[j].Event.Path == ev.Path {
					drop[i] = true
				}
				drop[j] = true
			}
		default:
			for _, p := range ev.Paths() {
				forgetUnder(open, p)
				forgetUnder(dirs, p)
				forgetAbove(dirs, p)
			}
		}
	}

	for i, rec := range records {
		if drop[i] {
			dropped = append(dropped, rec)
		} else {
			kept = append(kept, rec)
		}
	}
	return kept, dropped
}

func forgetUnder(open map[string]int, dir string) {
	takeUnder(open, dir)
}

// forgetAbove removes every ancestor directory of rel from open.
func forgetAbove(open map[string]int, rel string) {
	for dir := path.Dir(rel); dir != "." && dir != "/"; dir = path.Dir(dir) {
		delete(open, dir)
	}
}

// takeUnder removes dir and every path below it from open and returns their
// record indexes.
func takeUnder(open map[string]int, dir string) []int {
	var taken []int
	prefix := dir + "/"
	for p, i := range open {
		if p == dir || strings.HasPrefix(p, prefix) {
			taken = append(taken, i)
			delete(open, p)
		}
	}
	return taken
}

// Queue serves the journal's pending records optimized. Records folded into
// another one are committed right away since nothing remains to send for them.
type Queue struct {
	journal *Journal
}

func NewQueue(journal *Journal) *Queue {
	return &Queue{journal: journal}
}

func (q *Queue) Pending(ctx context.Context) ([]Record, error) {
	records, err := q.journal.Pending(ctx)
	if err != nil {
		return nil, err
	}

	kept, dropped := Optimize(records)
	for _, rec := range dropped {
		if err := q.journal.Commit(ctx, rec.ID); err != nil {
			return nil, err
		}
	}
	if len(dropped) > 0 {
		slog.Debug("changes optimized", "pending", len(records), "folded", len(dropped))
	}
	return kept, nil
}

func (q *Queue) Commit(ctx context.Context, id int64) error {
	return q.journal.Commit(ctx, id)
}
