package audit

import (
	"fmt"
	"reflect"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

const defaultResolutionCacheSize = 1024

// Declaration associates an entity type with its audit policy
type Declaration struct {
	Type   reflect.Type
	Policy Policy
}

// Declare builds a declaration for T. Pointer types are accepted.
func Declare[T any](policy Policy) Declaration {
	return Declaration{
		Type:   reflect.TypeFor[T](),
		Policy: policy,
	}
}

type resolution struct {
	policy Policy
	ok     bool
}

// Registry resolves entity types to audit policies.
//
// Declarations and manual registrations are startup-only writes. The first
// Build or Resolve freezes the registry; after that it is read-only and safe
// for concurrent use.
type Registry struct {
	logger    logrus.FieldLogger
	cacheSize int

	declarations []Declaration
	manual       map[string]Policy

	buildOnce sync.Once
	byType    map[reflect.Type]Policy
	memo      *lru.Cache[reflect.Type, resolution]
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithDeclarations adds statically declared entity types
func WithDeclarations(decls ...Declaration) RegistryOption {
	return func(r *Registry) {
		r.declarations = append(r.declarations, decls...)
	}
}

// WithManualEntities registers entity type names with the default policy
func WithManualEntities(names ...string) RegistryOption {
	return func(r *Registry) {
		r.RegisterManual(names...)
	}
}

// WithRegistryLogger sets the logger used for build diagnostics
func WithRegistryLogger(logger logrus.FieldLogger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithResolutionCacheSize bounds the memo of resolved types
func WithResolutionCacheSize(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.cacheSize = n
		}
	}
}

// NewRegistry creates an empty registry
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		logger:    logrus.StandardLogger(),
		cacheSize: defaultResolutionCacheSize,
		manual:    make(map[string]Policy),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Declare adds a declaration. Must be called before the registry is built.
func (r *Registry) Declare(d Declaration) {
	r.declarations = append(r.declarations, d)
}

// RegisterManual audits the named types with the default policy.
// Names may be simple ("Customer") or qualified ("example.com/app/model.Customer").
func (r *Registry) RegisterManual(names ...string) {
	for _, name := range names {
		if name == "" {
			continue
		}
		r.manual[name] = DefaultPolicy()
	}
}

// RegisterManualPolicy audits the named type with an explicit policy
func (r *Registry) RegisterManualPolicy(name string, policy Policy) {
	if name == "" {
		return
	}
	r.manual[name] = policy
}

// Build freezes the registry. It is idempotent.
func (r *Registry) Build() {
	r.buildOnce.Do(r.build)
}

func (r *Registry) build() {
	r.byType = make(map[reflect.Type]Policy, len(r.declarations))

	for i, d := range r.declarations {
		t, err := declaredType(d.Type)
		if err != nil {
			r.logger.WithError(err).WithField("declaration", i).
				Error("excluding malformed audit declaration")
			continue
		}

		if existing, ok := r.byType[t]; ok {
			if existing != d.Policy {
				r.logger.WithFields(logrus.Fields{
					"declaration": i,
					"entity":      t.String(),
				}).Error("excluding conflicting audit declaration")
			}
			continue
		}
		r.byType[t] = d.Policy
	}

	for t, declared := range r.byType {
		for _, name := range []string{t.Name(), QualifiedName(t)} {
			if manual, ok := r.manual[name]; ok && manual != declared {
				r.logger.WithFields(logrus.Fields{
					"entity": QualifiedName(t),
					"name":   name,
				}).Warn("manual audit policy ignored for declared entity")
			}
		}
	}

	memo, err := lru.New[reflect.Type, resolution](r.cacheSize)
	if err != nil {
		// only fails for non-positive sizes, which the option rejects
		panic(err)
	}
	r.memo = memo

	r.logger.WithFields(logrus.Fields{
		"declared": len(r.byType),
		"manual":   len(r.manual),
	}).Debug("audit registry built")
}

func declaredType(t reflect.Type) (reflect.Type, error) {
	if t == nil {
		return nil, fmt.Errorf("declaration has no type")
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return nil, fmt.Errorf("declared type %s is not a named type", t)
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("declared type %s is not a struct", t)
	}
	return t, nil
}

// Resolve returns the policy for an entity type. Lookup is by exact type
// identity, then by manual simple name, then by manual qualified name.
// Embedded or related types are never consulted.
func (r *Registry) Resolve(t reflect.Type) (Policy, bool) {
	if t == nil {
		return Policy{}, false
	}
	r.Build()

	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	if res, ok := r.memo.Get(t); ok {
		return res.policy, res.ok
	}

	res := r.lookup(t)
	r.memo.Add(t, res)
	return res.policy, res.ok
}

func (r *Registry) lookup(t reflect.Type) resolution {
	if p, ok := r.byType[t]; ok {
		return resolution{policy: p, ok: true}
	}
	if len(r.manual) == 0 || t.Name() == "" {
		return resolution{}
	}
	if p, ok := r.manual[t.Name()]; ok {
		return resolution{policy: p, ok: true}
	}
	if p, ok := r.manual[QualifiedName(t)]; ok {
		return resolution{policy: p, ok: true}
	}
	return resolution{}
}

// Types returns the declared types accepted by the build
func (r *Registry) Types() []reflect.Type {
	r.Build()
	out := make([]reflect.Type, 0, len(r.byType))
	for t := range r.byType {
		out = append(out, t)
	}
	return out
}

// Len returns the number of declared plus manual entries
func (r *Registry) Len() int {
	r.Build()
	return len(r.byType) + len(r.manual)
}

// QualifiedName returns the package path qualified type name
func QualifiedName(t reflect.Type) string {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.PkgPath() == "" {
		return t.Name()
	}
	return t.PkgPath() + "." + t.Name()
}
