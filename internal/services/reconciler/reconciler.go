// Package reconciler turns the desired setting rows of an entity into the
// smallest set of row writes against what is currently stored, keeping row ids
// stable wherever it can.
package reconciler

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/WebHare/platform-sub003/internal/entities"
)

// Desired is one row of the desired state. Row.ID may carry an identity token
// from an earlier read; Parent indexes the parent row in the same list, or is -1
// for a top-level row. Parents come before their children.
type Desired struct {
	Row    entities.SettingRow
	Parent int
	Link   *entities.LinkRow
}

// Allocator hands out n fresh setting ids
type Allocator func(ctx context.Context, n int) ([]int64, error)

// Input is the desired and stored state of the replaced attributes of one entity
type Input struct {
	Entity       int64
	Desired      []Desired
	Current      []entities.SettingRow
	CurrentLinks []entities.LinkRow
	Allocate     Allocator
}

// Result is the write-set computed by Reconcile
type Result struct {
	// Rows holds every desired row with its final id, in desired order
	Rows []entities.SettingRow
	// Upserts are the rows that must be written
	Upserts []entities.SettingRow
	// Unchanged lists the ids of rows left as they are
	Unchanged []int64
	// Deletes lists the ids of stored rows no longer wanted, ascending
	Deletes []int64

	LinkUpserts []entities.LinkRow
	// LinkDeletes lists setting ids whose link row must go
	LinkDeletes []int64

	// Touched holds the attributes that were written, deleted or had a row id
	// reused
	Touched mapset.Set[int64]
}

// IsNoop reports whether nothing needs to be written
func (r *Result) IsNoop() bool {
	return len(r.Upserts) == 0 && len(r.Deletes) == 0 && len(r.LinkUpserts) == 0 && len(r.LinkDeletes) == 0
}

type state struct {
	in       *Input
	current  map[int64]*entities.SettingRow
	children map[int64][]*entities.SettingRow // current rows by parent setting
	links    map[int64]entities.LinkRow

	assigned []int64          // final id per desired row
	claimed  map[int64]bool   // current ids already matched
	dsig     []string         // deep signatures of desired rows
	csig     map[int64]string // deep signatures of current rows
	dkids    [][]int
}

// Reconcile computes the write-set that turns in.Current into in.Desired
func Reconcile(ctx context.Context, in *Input) (*Result, error) {
	for i, d := range in.Desired {
		if d.Row.Attribute == 0 {
			return nil, entities.Internalf("desired setting row %d has no attribute id", i)
		}
		if len(d.Row.RawData) > entities.MaxInlineBytes {
			return nil, entities.Internalf("desired setting row %d of attribute %d exceeds %d bytes", i, d.Row.Attribute, entities.MaxInlineBytes)
		}
		if d.Parent >= i {
			return nil, entities.Internalf("desired setting row %d precedes its parent %d", i, d.Parent)
		}
	}

	s := newState(in)
	s.identityPass()
	s.reusePass()
	s.leftoverPass()
	if err := s.allocate(ctx); err != nil {
		return nil, err
	}
	return s.result(), nil
}

func newState(in *Input) *state {
	s := &state{
		in:       in,
		current:  make(map[int64]*entities.SettingRow, len(in.Current)),
		children: make(map[int64][]*entities.SettingRow),
		links:    make(map[int64]entities.LinkRow, len(in.CurrentLinks)),
		assigned: make([]int64, len(in.Desired)),
		claimed:  make(map[int64]bool),
		csig:     make(map[int64]string, len(in.Current)),
		dkids:    make([][]int, len(in.Desired)),
	}
	for i := range in.Current {
		row := &in.Current[i]
		s.current[row.ID] = row
		s.children[row.ParentSetting] = append(s.children[row.ParentSetting], row)
	}
	for _, rows := range s.children {
		sort.Slice(rows, func(i, j int) bool {
			if rows[i].Ordering != rows[j].Ordering {
				return rows[i].Ordering < rows[j].Ordering
			}
			return rows[i].ID < rows[j].ID
		})
	}
	for _, l := range in.CurrentLinks {
		s.links[l.Setting] = l
	}
	for i, d := range in.Desired {
		if d.Parent >= 0 {
			s.dkids[d.Parent] = append(s.dkids[d.Parent], i)
		}
	}
	s.dsig = make([]string, len(in.Desired))
	for i := len(in.Desired) - 1; i >= 0; i-- {
		kids := make([]string, 0, len(s.dkids[i]))
		for _, k := range s.dkids[i] {
			kids = append(kids, s.dsig[k])
		}
		s.dsig[i] = signature(&in.Desired[i].Row, kids)
	}
	return s
}

// payloadKey identifies a row's stored payload
func payloadKey(row *entities.SettingRow) string {
	var b strings.Builder
	b.WriteString(row.RawData)
	b.WriteByte(0)
	b.WriteString(strconv.FormatInt(row.Setting, 10))
	if row.Blob != nil {
		b.WriteByte(0)
		if row.Blob.Hash != "" {
			b.WriteString(row.Blob.Hash)
		} else {
			b.WriteString(row.Blob.Key)
		}
	}
	return b.String()
}

func signature(row *entities.SettingRow, kids []string) string {
	sorted := append([]string(nil), kids...)
	sort.Strings(sorted)
	return fmt.Sprintf("%d|%s|[%s]", row.Attribute, payloadKey(row), strings.Join(sorted, ","))
}

func (s *state) currentSignature(row *entities.SettingRow) string {
	if sig, ok := s.csig[row.ID]; ok {
		return sig
	}
	kids := make([]string, 0, len(s.children[row.ID]))
	for _, k := range s.children[row.ID] {
		kids = append(kids, s.currentSignature(k))
	}
	sig := signature(row, kids)
	s.csig[row.ID] = sig
	return sig
}

func (s *state) claim(i int, id int64) {
	s.assigned[i] = id
	s.claimed[id] = true
}

// identityPass honors identity tokens that still name a stored row of the same
// attribute; other tokens are dropped
func (s *state) identityPass() {
	for i, d := range s.in.Desired {
		token := d.Row.ID
		if token == 0 {
			continue
		}
		if cur, ok := s.current[token]; ok && !s.claimed[token] && cur.Attribute == d.Row.Attribute {
			s.claim(i, token)
		}
	}
}

// reusePass walks the desired rows parents first. Rows below an identified
// parent take a free row of the same attribute in the same slot; other rows look
// for a stored row with the same content.
func (s *state) reusePass() {
	for i := range s.in.Desired {
		if s.assigned[i] != 0 {
			continue
		}
		d := &s.in.Desired[i]
		if d.Parent >= 0 && s.assigned[d.Parent] != 0 {
			if id := s.slot(d, s.assigned[d.Parent]); id != 0 {
				s.claim(i, id)
				continue
			}
		}
		if id := s.sameContent(i); id != 0 {
			s.claim(i, id)
		}
	}
}

func (s *state) slot(d *Desired, parent int64) int64 {
	var first int64
	for _, cur := range s.children[parent] {
		if s.claimed[cur.ID] || cur.Attribute != d.Row.Attribute {
			continue
		}
		if cur.SamePayload(&d.Row) {
			return cur.ID
		}
		if first == 0 {
			first = cur.ID
		}
	}
	return first
}

// sameContent looks for an unclaimed stored row: same attribute and subtree
// first, then same attribute and payload, then any row with the same payload
func (s *state) sameContent(i int) int64 {
	d := &s.in.Desired[i]
	candidates := make([]*entities.SettingRow, 0, len(s.in.Current))
	for j := range s.in.Current {
		if cur := &s.in.Current[j]; !s.claimed[cur.ID] {
			candidates = append(candidates, cur)
		}
	}
	for _, cur := range candidates {
		if cur.Attribute == d.Row.Attribute && s.currentSignature(cur) == s.dsig[i] {
			return cur.ID
		}
	}
	for _, cur := range candidates {
		if cur.Attribute == d.Row.Attribute && cur.SamePayload(&d.Row) {
			return cur.ID
		}
	}
	for _, cur := range candidates {
		if cur.SamePayload(&d.Row) {
			return cur.ID
		}
	}
	return 0
}

// leftoverPass hands unclaimed stored rows, lowest id first, to the rows still
// without an id
func (s *state) leftoverPass() {
	var pool []int64
	for id := range s.current {
		if !s.claimed[id] {
			pool = append(pool, id)
		}
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i] < pool[j] })
	for i := range s.in.Desired {
		if len(pool) == 0 {
			return
		}
		if s.assigned[i] == 0 {
			s.claim(i, pool[0])
			pool = pool[1:]
		}
	}
}

func (s *state) allocate(ctx context.Context) error {
	var missing []int
	for i, id := range s.assigned {
		if id == 0 {
			missing = append(missing, i)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	if s.in.Allocate == nil {
		return entities.Internalf("no id allocator for %d new setting rows", len(missing))
	}
	ids, err := s.in.Allocate(ctx, len(missing))
	if err != nil {
		return fmt.Errorf("failed to allocate setting ids: %w", err)
	}
	if len(ids) != len(missing) {
		return entities.Internalf("allocator returned %d ids for %d rows", len(ids), len(missing))
	}
	for k, i := range missing {
		s.assigned[i] = ids[k]
	}
	return nil
}

func (s *state) result() *Result {
	res := &Result{
		Rows:    make([]entities.SettingRow, len(s.in.Desired)),
		Touched: mapset.NewThreadUnsafeSet[int64](),
	}
	kept := make(map[int64]bool)
	for i, d := range s.in.Desired {
		row := d.Row
		row.ID = s.assigned[i]
		row.Entity = s.in.Entity
		row.ParentSetting = 0
		if d.Parent >= 0 {
			row.ParentSetting = s.assigned[d.Parent]
		}
		res.Rows[i] = row
		kept[row.ID] = true

		cur, existed := s.current[row.ID]
		oldLink, hadLink := s.links[row.ID]
		linkSame := (d.Link == nil && !hadLink) ||
			(d.Link != nil && hadLink && d.Link.Handle == oldLink.Handle && d.Link.Kind == oldLink.Kind)

		if existed && cur.SameContent(&row) {
			res.Unchanged = append(res.Unchanged, row.ID)
		} else {
			res.Upserts = append(res.Upserts, row)
			res.Touched.Add(row.Attribute)
			if existed {
				res.Touched.Add(cur.Attribute)
			}
		}
		if !linkSame {
			if d.Link != nil {
				l := *d.Link
				l.Setting = row.ID
				res.LinkUpserts = append(res.LinkUpserts, l)
			} else {
				res.LinkDeletes = append(res.LinkDeletes, row.ID)
			}
			res.Touched.Add(row.Attribute)
		}
	}
	for id, cur := range s.current {
		if kept[id] {
			continue
		}
		res.Deletes = append(res.Deletes, id)
		res.Touched.Add(cur.Attribute)
		if _, ok := s.links[id]; ok {
			res.LinkDeletes = append(res.LinkDeletes, id)
		}
	}
	sort.Slice(res.Deletes, func(i, j int) bool { return res.Deletes[i] < res.Deletes[j] })
	sort.Slice(res.LinkDeletes, func(i, j int) bool { return res.LinkDeletes[i] < res.LinkDeletes[j] })
	return res
}
