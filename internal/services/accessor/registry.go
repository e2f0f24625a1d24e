package accessor

import (
	"fmt"
	"sync"

	"github.com/WebHare/platform-sub003/internal/entities"
	"github.com/WebHare/platform-sub003/internal/services/checker"
)

// Factory creates the accessor of an attribute
type Factory func(r *Registry, schema *entities.Schema, attr *entities.Attribute) (Accessor, error)

type registryKey struct {
	kind     entities.AttributeKind
	required bool
}

// Registry maps (kind, required) onto accessor factories. Accessors are cached
// per attribute; schemas are immutable once built, so a rebuilt schema simply
// gets new entries.
type Registry struct {
	factories map[registryKey]Factory

	mu    sync.RWMutex
	cache map[*entities.Attribute]Accessor
}

// NewRegistry returns a registry with every attribute kind registered for both
// required flags
func NewRegistry() *Registry {
	r := &Registry{
		factories: make(map[registryKey]Factory),
		cache:     make(map[*entities.Attribute]Accessor),
	}
	for kind, f := range defaultFactories() {
		r.Register(kind, false, f)
		r.Register(kind, true, requiredFactory(f))
	}
	return r
}

// Register installs a factory
func (r *Registry) Register(kind entities.AttributeKind, required bool, f Factory) {
	r.factories[registryKey{kind: kind, required: required}] = f
}

// Has reports whether a factory is registered
func (r *Registry) Has(kind entities.AttributeKind, required bool) bool {
	_, ok := r.factories[registryKey{kind: kind, required: required}]
	return ok
}

// For returns the accessor of an attribute
func (r *Registry) For(schema *entities.Schema, attr *entities.Attribute) (Accessor, error) {
	r.mu.RLock()
	a, ok := r.cache[attr]
	r.mu.RUnlock()
	if ok {
		return a, nil
	}
	f, ok := r.factories[registryKey{kind: attr.Kind, required: attr.Required}]
	if !ok {
		return nil, entities.Internalf("no accessor for attribute %s of kind %s", attr.Tag, attr.Kind)
	}
	a, err := f(r, schema, attr)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.cache[attr] = a
	r.mu.Unlock()
	return a, nil
}

// required enforces that a value is set unless the batch suppresses it
type required struct {
	Accessor
}

func requiredFactory(f Factory) Factory {
	return func(r *Registry, schema *entities.Schema, attr *entities.Attribute) (Accessor, error) {
		a, err := f(r, schema, attr)
		if err != nil {
			return nil, err
		}
		return &required{Accessor: a}, nil
	}
}

func (a *required) ValidateInput(v any, chk *checker.Batch, path string) error {
	if err := a.Accessor.ValidateInput(v, chk, path); err != nil {
		return err
	}
	if !chk.SkipRequired && !a.IsSet(v) {
		return entities.NewValidationError(path, entities.CodeRequired, "%s is required", a.Attribute().Tag)
	}
	return nil
}

func defaultFactories() map[entities.AttributeKind]Factory {
	text := func(_ *Registry, _ *entities.Schema, attr *entities.Attribute) (Accessor, error) {
		if attr.IsBase() {
			return &baseTextAccessor{columnBase{attrBase{attr}}}, nil
		}
		return newText(attr), nil
	}
	number := func(_ *Registry, _ *entities.Schema, attr *entities.Attribute) (Accessor, error) {
		return &numberAccessor{attrBase{attr}}, nil
	}
	jsonDoc := func(_ *Registry, _ *entities.Schema, attr *entities.Attribute) (Accessor, error) {
		return &jsonAccessor{attrBase{attr}}, nil
	}
	resource := func(_ *Registry, _ *entities.Schema, attr *entities.Attribute) (Accessor, error) {
		return &resourceAccessor{attrBase{attr}}, nil
	}
	date := func(dateOnly bool) Factory {
		return func(_ *Registry, _ *entities.Schema, attr *entities.Attribute) (Accessor, error) {
			if attr.IsBase() {
				a := &baseDateAccessor{columnBase: columnBase{attrBase{attr}}, dateOnly: dateOnly}
				if attr.BaseColumn == entities.ColumnLimitDate {
					a.null = entities.MaxDateTime
				}
				return a, nil
			}
			return &dateAccessor{attrBase: attrBase{attr}, dateOnly: dateOnly}, nil
		}
	}
	document := func(kind entities.LinkKind) Factory {
		return func(_ *Registry, _ *entities.Schema, attr *entities.Attribute) (Accessor, error) {
			return &documentAccessor{attrBase: attrBase{attr}, linkKind: kind}, nil
		}
	}
	column := func(build func(columnBase) Accessor) Factory {
		return func(_ *Registry, _ *entities.Schema, attr *entities.Attribute) (Accessor, error) {
			if !attr.IsBase() {
				return nil, entities.Internalf("attribute %s of kind %s must be a base attribute", attr.Tag, attr.Kind)
			}
			return build(columnBase{attrBase{attr}}), nil
		}
	}

	return map[entities.AttributeKind]Factory{
		entities.KindFree:      text,
		entities.KindEmail:     text,
		entities.KindTelephone: text,
		entities.KindURL:       text,
		entities.KindPassword:  text,
		entities.KindEnum:      text,
		entities.KindWHFSRef:   text,
		entities.KindEnumArray: func(_ *Registry, _ *entities.Schema, attr *entities.Attribute) (Accessor, error) {
			return &enumArrayAccessor{attrBase{attr}}, nil
		},
		entities.KindBoolean: func(_ *Registry, _ *entities.Schema, attr *entities.Attribute) (Accessor, error) {
			return &booleanAccessor{attrBase{attr}}, nil
		},
		entities.KindInteger:   number,
		entities.KindInteger64: number,
		entities.KindFloat:     number,
		entities.KindMoney:     number,
		entities.KindTime:      number,
		entities.KindDate:      date(true),
		entities.KindDateTime:  date(false),
		entities.KindDomain: func(_ *Registry, schema *entities.Schema, attr *entities.Attribute) (Accessor, error) {
			if attr.IsBase() {
				return &baseRefAccessor{columnBase: columnBase{attrBase{attr}}, accepted: schema.TypeAndSubtypes(attr.DomainType)}, nil
			}
			return newDomain(schema, attr), nil
		},
		entities.KindDomainArray: func(_ *Registry, schema *entities.Schema, attr *entities.Attribute) (Accessor, error) {
			return &domainArrayAccessor{attrBase: attrBase{attr}, accepted: schema.TypeAndSubtypes(attr.DomainType)}, nil
		},
		entities.KindAddress:                jsonDoc,
		entities.KindJSON:                   jsonDoc,
		entities.KindRecord:                 jsonDoc,
		entities.KindAuthenticationSettings: jsonDoc,
		entities.KindPaymentProvider:        jsonDoc,
		entities.KindPayment: func(_ *Registry, _ *entities.Schema, attr *entities.Attribute) (Accessor, error) {
			return &paymentAccessor{attrBase{attr}}, nil
		},
		entities.KindStatusRecord: func(_ *Registry, _ *entities.Schema, attr *entities.Attribute) (Accessor, error) {
			return nil, fmt.Errorf("%w: %s (%s)", entities.ErrUnimplemented, attr.Tag, attr.Kind)
		},
		entities.KindArray: func(r *Registry, schema *entities.Schema, attr *entities.Attribute) (Accessor, error) {
			a := &arrayAccessor{attrBase: attrBase{attr}}
			for _, member := range schema.Children(attr) {
				c, err := r.For(schema, member)
				if err != nil {
					return nil, fmt.Errorf("member of %s: %w", attr.Tag, err)
				}
				a.children = append(a.children, c)
			}
			return a, nil
		},
		entities.KindImage:        resource,
		entities.KindFile:         resource,
		entities.KindRichDocument: document(entities.LinkDocument),
		entities.KindInstance:     document(entities.LinkInstance),
		entities.KindIntExtLink: func(_ *Registry, _ *entities.Schema, attr *entities.Attribute) (Accessor, error) {
			return &intExtLinkAccessor{attrBase{attr}}, nil
		},
		entities.KindGUID:     column(func(b columnBase) Accessor { return &guidAccessor{b} }),
		entities.KindGender:   column(func(b columnBase) Accessor { return &genderAccessor{b} }),
		entities.KindEntityID: column(func(b columnBase) Accessor { return &idAccessor{b} }),
		entities.KindTypeID:   column(func(b columnBase) Accessor { return &idAccessor{b} }),
	}
}
