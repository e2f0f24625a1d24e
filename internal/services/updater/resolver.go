package updater

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/WebHare/platform-sub003/internal/entities"
	"github.com/WebHare/platform-sub003/internal/repositories"
	"github.com/WebHare/platform-sub003/pkg/cache"
)

// guidTTL bounds how long an id to guid mapping is cached. Ids are never reused
// while an entity exists, and deletes evict their entry.
const guidTTL = 10 * time.Minute

// errLookup marks storage failures during resolution, as opposed to references
// that do not resolve
var errLookup = errors.New("wrd: reference lookup failed")

// resolver maps domain references onto entity ids within one transaction. The
// immutable id/guid pairs are shared across transactions through the cache.
type resolver struct {
	entities repositories.EntityRepository
	schema   *entities.Schema
	cache    cache.Cache
}

func guidKey(schema string, id int64) string {
	return "wrd:guid:" + schema + ":" + strconv.FormatInt(id, 10)
}

func idKey(schema string, guid uuid.UUID) string {
	return "wrd:id:" + schema + ":" + guid.String()
}

// Resolve looks up an entity of domainType or one of its subtypes by guid or tag
func (r *resolver) Resolve(ctx context.Context, domainType int64, ref string) (int64, error) {
	accepted := r.schema.TypeAndSubtypes(domainType)
	if guid, err := entities.ParseGUID(ref); err == nil {
		id, err := r.byGUID(ctx, guid, accepted)
		if err != nil {
			return 0, err
		}
		return id, nil
	}
	ent, err := r.entities.FindByTag(ctx, accepted, ref)
	if errors.Is(err, entities.ErrNotFound) {
		return 0, fmt.Errorf("%w: no %s with tag %q", entities.ErrNotResolvable, r.typeTag(domainType), ref)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: tag %q: %w", errLookup, ref, err)
	}
	return ent.ID, nil
}

func (r *resolver) byGUID(ctx context.Context, guid uuid.UUID, accepted []int64) (int64, error) {
	if r.cache != nil {
		if v, ok := r.cache.Get(ctx, idKey(r.schema.Tag, guid)); ok {
			if hit, ok := v.(cachedEntity); ok && slices.Contains(accepted, hit.typ) {
				return hit.id, nil
			}
		}
	}
	ent, err := r.entities.FindByGUID(ctx, guid)
	if errors.Is(err, entities.ErrNotFound) {
		return 0, fmt.Errorf("%w: guid %s", entities.ErrNotResolvable, guid)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: guid %s: %w", errLookup, guid, err)
	}
	r.remember(ctx, ent.ID, ent.Type, ent.GUID)
	if !slices.Contains(accepted, ent.Type) {
		return 0, fmt.Errorf("%w: %s is not of an accepted type", entities.ErrNotResolvable, guid)
	}
	return ent.ID, nil
}

type cachedEntity struct {
	id  int64
	typ int64
}

func (r *resolver) remember(ctx context.Context, id, typ int64, guid uuid.UUID) {
	if r.cache == nil {
		return
	}
	_ = r.cache.Set(ctx, guidKey(r.schema.Tag, id), guid, guidTTL)
	_ = r.cache.Set(ctx, idKey(r.schema.Tag, guid), cachedEntity{id: id, typ: typ}, guidTTL)
}

func (r *resolver) forget(ctx context.Context, id int64, guid uuid.UUID) {
	if r.cache == nil {
		return
	}
	_ = r.cache.Delete(ctx, guidKey(r.schema.Tag, id))
	_ = r.cache.Delete(ctx, idKey(r.schema.Tag, guid))
}

// GUID returns the guid of an entity
func (r *resolver) GUID(ctx context.Context, id int64) (uuid.UUID, error) {
	if r.cache != nil {
		if v, ok := r.cache.Get(ctx, guidKey(r.schema.Tag, id)); ok {
			if guid, ok := v.(uuid.UUID); ok {
				return guid, nil
			}
		}
	}
	guids, err := r.entities.GUIDs(ctx, []int64{id})
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: guid of %d: %w", errLookup, id, err)
	}
	guid, ok := guids[id]
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: %d", entities.ErrNotFound, id)
	}
	if r.cache != nil {
		_ = r.cache.Set(ctx, guidKey(r.schema.Tag, id), guid, guidTTL)
	}
	return guid, nil
}

func (r *resolver) typeTag(id int64) string {
	if t := r.schema.TypeByID(id); t != nil {
		return t.Tag
	}
	return strconv.FormatInt(id, 10)
}

// ForgetSchema drops every cached id/guid pair of a schema. Listeners call it
// when another process deleted entities.
func (r *Reader) ForgetSchema(ctx context.Context, schema string) (int, error) {
	if r.cache == nil {
		return 0, nil
	}
	byGUID, err := r.cache.DeletePrefix(ctx, "wrd:guid:"+schema+":")
	if err != nil {
		return 0, fmt.Errorf("failed to forget guids of %s: %w", schema, err)
	}
	byID, err := r.cache.DeletePrefix(ctx, "wrd:id:"+schema+":")
	if err != nil {
		return byGUID, fmt.Errorf("failed to forget ids of %s: %w", schema, err)
	}
	return byGUID + byID, nil
}
