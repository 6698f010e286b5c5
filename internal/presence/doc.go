package presence

import (
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/automerge/automerge-go"
)

const cursorsKey = "cursors"

// Doc is the automerge-backed Document. All cursor records live in a nested
// map under the root "cursors" key, keyed by participant id. Import loads the
// snapshot into a second doc and CRDT-merges it, so duplicate and reordered
// snapshots converge without any coordination.
type Doc struct {
	mu    sync.Mutex
	inner *automerge.Doc
	subs  []func(Change)
}

// NewDoc builds an empty document. The actor id is derived from the owning
// participant id so concurrent edits from different participants never
// collide on the same actor.
func NewDoc(participantID string) *Doc {
	inner := automerge.New()
	if participantID != "" {
		_ = inner.SetActorID(hex.EncodeToString([]byte(participantID)))
	}
	return &Doc{inner: inner}
}

func (d *Doc) Subscribe(fn func(Change)) {
	d.mu.Lock()
	d.subs = append(d.subs, fn)
	d.mu.Unlock()
}

// notify runs outside the document lock so subscribers may call back into
// the document.
func (d *Doc) notify(c Change) {
	if len(c.Keys) == 0 {
		return
	}
	d.mu.Lock()
	subs := make([]func(Change), len(d.subs))
	copy(subs, d.subs)
	d.mu.Unlock()
	for _, fn := range subs {
		fn(c)
	}
}

func (d *Doc) SetCursor(rec CursorRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("cursor record needs an id")
	}
	d.mu.Lock()
	err := d.inner.Path(cursorsKey, rec.ID).Set(map[string]any{
		"id":         rec.ID,
		"x":          rec.X,
		"y":          rec.Y,
		"color":      rec.Color,
		"name":       rec.Name,
		"lastUpdate": rec.LastUpdateMs,
	})
	d.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to set cursor %s: %w", rec.ID, err)
	}
	d.notify(Change{Origin: OriginLocal, Keys: []string{rec.ID}})
	return nil
}

func (d *Doc) Touch(id string, nowMs int64) (bool, error) {
	d.mu.Lock()
	recs, err := d.cursorsLocked()
	if err != nil {
		d.mu.Unlock()
		return false, err
	}
	if _, ok := recs[id]; !ok {
		d.mu.Unlock()
		return false, nil
	}
	err = d.inner.Path(cursorsKey, id, "lastUpdate").Set(nowMs)
	d.mu.Unlock()
	if err != nil {
		return false, fmt.Errorf("failed to touch cursor %s: %w", id, err)
	}
	d.notify(Change{Origin: OriginLocal, Keys: []string{id}})
	return true, nil
}

func (d *Doc) DeleteCursor(id string) error {
	d.mu.Lock()
	recs, err := d.cursorsLocked()
	if err != nil {
		d.mu.Unlock()
		return err
	}
	if _, ok := recs[id]; !ok {
		d.mu.Unlock()
		return nil
	}
	err = d.inner.Path(cursorsKey).Map().Delete(id)
	d.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to delete cursor %s: %w", id, err)
	}
	d.notify(Change{Origin: OriginLocal, Keys: []string{id}})
	return nil
}

func (d *Doc) Cursor(id string) (CursorRecord, bool, error) {
	d.mu.Lock()
	recs, err := d.cursorsLocked()
	d.mu.Unlock()
	if err != nil {
		return CursorRecord{}, false, err
	}
	rec, ok := recs[id]
	return rec, ok, nil
}

func (d *Doc) Cursors() ([]CursorRecord, error) {
	d.mu.Lock()
	recs, err := d.cursorsLocked()
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([]CursorRecord, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *Doc) SweepExpired(nowMs, expireMs int64) ([]string, error) {
	d.mu.Lock()
	recs, err := d.cursorsLocked()
	if err != nil {
		d.mu.Unlock()
		return nil, err
	}
	var removed []string
	for id, rec := range recs {
		if nowMs-rec.LastUpdateMs > expireMs {
			if err := d.inner.Path(cursorsKey).Map().Delete(id); err != nil {
				d.mu.Unlock()
				return removed, fmt.Errorf("failed to expire cursor %s: %w", id, err)
			}
			removed = append(removed, id)
		}
	}
	d.mu.Unlock()
	sort.Strings(removed)
	d.notify(Change{Origin: OriginLocal, Keys: removed})
	return removed, nil
}

func (d *Doc) ExportSnapshot() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inner.Save(), nil
}

func (d *Doc) Import(data []byte) error {
	other, err := automerge.Load(data)
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	d.mu.Lock()
	before, err := d.cursorsLocked()
	if err != nil {
		d.mu.Unlock()
		return err
	}
	if _, err := d.inner.Merge(other); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("failed to merge snapshot: %w", err)
	}
	after, err := d.cursorsLocked()
	d.mu.Unlock()
	if err != nil {
		return err
	}
	d.notify(Change{Origin: OriginRemote, Keys: diffKeys(before, after)})
	return nil
}

// cursorsLocked reads the whole cursors map. Callers hold d.mu.
func (d *Doc) cursorsLocked() (map[string]CursorRecord, error) {
	v, err := d.inner.Path(cursorsKey).Get()
	if err != nil {
		return nil, fmt.Errorf("failed to read cursors: %w", err)
	}
	raw, _ := v.Interface().(map[string]any)
	out := make(map[string]CursorRecord, len(raw))
	for id, rv := range raw {
		fields, ok := rv.(map[string]any)
		if !ok {
			continue
		}
		out[id] = CursorRecord{
			ID:           id,
			X:            asFloat(fields["x"]),
			Y:            asFloat(fields["y"]),
			Color:        asString(fields["color"]),
			Name:         asString(fields["name"]),
			LastUpdateMs: asInt(fields["lastUpdate"]),
		}
	}
	return out, nil
}

func diffKeys(before, after map[string]CursorRecord) []string {
	var keys []string
	for id, rec := range after {
		if prev, ok := before[id]; !ok || prev != rec {
			keys = append(keys, id)
		}
	}
	for id := range before {
		if _, ok := after[id]; !ok {
			keys = append(keys, id)
		}
	}
	sort.Strings(keys)
	return keys
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	}
	return 0
}

func asInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
