package checker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WebHare/platform-sub003/internal/entities"
)

type fakeLookup struct {
	unique map[int64]map[string][]int64
	types  map[int64]int64
	err    error
	calls  int
}

func (f *fakeLookup) FindUnique(_ context.Context, attribute int64, keys []string, _ time.Time) (map[string][]int64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string][]int64)
	for _, k := range keys {
		if holders, ok := f.unique[attribute][k]; ok {
			out[k] = holders
		}
	}
	return out, nil
}

func (f *fakeLookup) TypesOf(_ context.Context, ids []int64) (map[int64]int64, error) {
	f.calls++
	out := make(map[int64]int64)
	for _, id := range ids {
		if t, ok := f.types[id]; ok {
			out[id] = t
		}
	}
	return out, nil
}

func TestBatch_Unique(t *testing.T) {
	email := &entities.Attribute{ID: 10, Tag: "email"}
	lookup := &fakeLookup{unique: map[int64]map[string][]int64{
		10: {"taken@example.com": {5}, "mine@example.com": {7}},
	}}

	b := New(7)
	b.AddUnique(email, "mine@example.com", "email")
	require.NoError(t, b.Run(context.Background(), lookup, time.Now()))

	b = New(8)
	b.AddUnique(email, "taken@example.com", "email")
	err := b.Run(context.Background(), lookup, time.Now())
	require.Error(t, err)
	verr, ok := entities.AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, entities.CodeNotUnique, verr.Code)
	assert.Equal(t, "email", verr.Path)
}

func TestBatch_UniqueWithinBatch(t *testing.T) {
	attr := &entities.Attribute{ID: 10, Tag: "code"}
	b := New(1)
	b.AddUnique(attr, "X", "items[0].code")
	b.AddUnique(attr, "X", "items[1].code")
	err := b.Run(context.Background(), &fakeLookup{}, time.Now())
	verr, ok := entities.AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, "items[1].code", verr.Path)
}

func TestBatch_References(t *testing.T) {
	lookup := &fakeLookup{types: map[int64]int64{100: 3, 101: 4}}
	b := New(1)
	b.AddReference([]int64{3}, 100, "country")
	b.AddReference([]int64{3}, 101, "other")
	b.AddReference([]int64{3}, 102, "missing")

	err := b.Run(context.Background(), lookup, time.Now())
	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	require.Len(t, merr.Errors, 2)
	for _, e := range merr.Errors {
		verr, ok := entities.AsValidationError(e)
		require.True(t, ok)
		assert.Equal(t, entities.CodeBadReference, verr.Code)
	}
}

func TestBatch_LookupErrorIsNotValidation(t *testing.T) {
	lookup := &fakeLookup{err: errors.New("connection reset")}
	b := New(1)
	b.AddUnique(&entities.Attribute{ID: 1}, "k", "p")
	err := b.Run(context.Background(), lookup, time.Now())
	require.Error(t, err)
	_, ok := entities.AsValidationError(err)
	assert.False(t, ok)
}

func TestBatch_Empty(t *testing.T) {
	lookup := &fakeLookup{}
	b := New(1)
	assert.Equal(t, 0, b.Pending())
	assert.NoError(t, b.Run(context.Background(), lookup, time.Now()))
	assert.Equal(t, 0, lookup.calls)
}
