// Package directory keeps the live lobby view: an authoritative cache of
// remote game summaries plus a filtered, name-ordered projection of it,
// updated incrementally from server push notifications.
package directory

import (
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"trivialink/internal/protocol"
)

// GameURLPrefix marks free-text search input that should be treated as an
// exact game-id lookup instead of a name substring.
const GameURLPrefix = "https://play.trivialink.net/game/"

// NoSelection is returned by Selected when the view is empty.
const NoSelection = -1

// Filter is the active predicate over the cache. Zero value passes
// everything.
type Filter struct {
	NewOnly    bool // exclude games that already started
	Sport      bool
	TV         bool
	NoPassword bool
	Search     string
}

func (f Filter) match(g protocol.GameSummary) bool {
	if f.NewOnly && g.Started() {
		return false
	}
	// Both mode bits off, or both on, means "all".
	if f.Sport != f.TV {
		if f.Sport && g.Mode != protocol.ModeSport {
			return false
		}
		if f.TV && g.Mode != protocol.ModeTV {
			return false
		}
	}
	if f.NoPassword && g.PasswordSet {
		return false
	}
	if f.Search != "" {
		if rest, ok := strings.CutPrefix(f.Search, GameURLPrefix); ok {
			id, err := strconv.Atoi(strings.TrimSuffix(rest, "/"))
			return err == nil && id == g.ID
		}
		if !strings.Contains(strings.ToLower(g.Name), strings.ToLower(f.Search)) {
			return false
		}
	}
	return true
}

// Directory guards the cache, the derived view and the selection pointer
// with one mutex so the UI thread never observes them out of sync.
type Directory struct {
	log *zap.Logger

	mu       sync.Mutex
	cache    map[int]protocol.GameSummary
	view     []protocol.GameSummary
	filter   Filter
	selected int
}

func New(log *zap.Logger) *Directory {
	return &Directory{
		log:      log,
		cache:    make(map[int]protocol.GameSummary),
		selected: NoSelection,
	}
}

// OnCreated and OnChanged both replace the cached entry wholesale; the
// server is authoritative and a duplicate notification is idempotent.
func (d *Directory) OnCreated(g protocol.GameSummary) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache[g.ID] = g
	d.rebuild()
}

func (d *Directory) OnChanged(g protocol.GameSummary) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache[g.ID] = g
	d.rebuild()
}

func (d *Directory) OnDeleted(id int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.cache, id)
	d.rebuild()
}

func (d *Directory) SetFilter(f Filter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f.Search = d.filter.Search
	d.filter = f
	d.rebuild()
}

func (d *Directory) SetSearchText(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.filter.Search = text
	d.rebuild()
}

// View returns a copy of the current projection.
func (d *Directory) View() []protocol.GameSummary {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]protocol.GameSummary, len(d.view))
	copy(out, d.view)
	return out
}

// Selected returns the id of the selected game, or NoSelection.
func (d *Directory) Selected() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.selected
}

// Select points the selection at the given game if it is in the view.
func (d *Directory) Select(id int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, g := range d.view {
		if g.ID == id {
			d.selected = id
			return true
		}
	}
	return false
}

// Clear drops the cache, view and selection together; used when the lobby
// screen is torn down.
func (d *Directory) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache = make(map[int]protocol.GameSummary)
	d.view = nil
	d.selected = NoSelection
}

// rebuild recomputes the view after any cache or filter mutation. Caller
// holds d.mu.
func (d *Directory) rebuild() {
	// Drop view entries gone from the cache or no longer passing the
	// filter; refresh the survivors in place.
	kept := d.view[:0]
	for _, g := range d.view {
		cached, ok := d.cache[g.ID]
		if !ok || !d.filter.match(cached) {
			continue
		}
		kept = append(kept, cached)
	}
	d.view = kept

	// Insert newly passing cache entries at their ordered position.
	inView := make(map[int]struct{}, len(d.view))
	for _, g := range d.view {
		inView[g.ID] = struct{}{}
	}
	for id, g := range d.cache {
		if _, ok := inView[id]; ok {
			continue
		}
		if !d.filter.match(g) {
			continue
		}
		d.insert(g)
	}

	// Selection must never dangle: fall back to the first entry, or clear.
	if !d.viewHas(d.selected) {
		if len(d.view) > 0 {
			d.selected = d.view[0].ID
		} else {
			d.selected = NoSelection
		}
	}
}

// insert places g before the first view entry whose name compares greater
// (case-sensitive), appending when none does.
func (d *Directory) insert(g protocol.GameSummary) {
	at := len(d.view)
	for i, cur := range d.view {
		if g.Name <= cur.Name {
			at = i
			break
		}
	}
	d.view = append(d.view, protocol.GameSummary{})
	copy(d.view[at+1:], d.view[at:])
	d.view[at] = g
}

func (d *Directory) viewHas(id int) bool {
	for _, g := range d.view {
		if g.ID == id {
			return true
		}
	}
	return false
}

// HandleMessage adapts lobby push notifications onto the three handlers so
// the directory can subscribe to a bus directly. Non-directory kinds are
// ignored.
func (d *Directory) HandleMessage(m protocol.Message) {
	switch m.Kind() {
	case protocol.KindGameCreated:
		g, err := protocol.ParseGameSummary(m)
		if err != nil {
			d.log.Warn("dropping push", zap.Error(err))
			return
		}
		d.OnCreated(g)
	case protocol.KindGameChanged:
		g, err := protocol.ParseGameSummary(m)
		if err != nil {
			d.log.Warn("dropping push", zap.Error(err))
			return
		}
		d.OnChanged(g)
	case protocol.KindGameDeleted:
		id, err := protocol.ParseGameDeleted(m)
		if err != nil {
			d.log.Warn("dropping push", zap.Error(err))
			return
		}
		d.OnDeleted(id)
	}
}
