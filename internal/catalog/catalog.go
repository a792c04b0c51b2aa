package catalog

import (
	"fmt"
	"sync"
)

// Kind is the invocation target for an operation.
type Kind string

const (
	KindRemoteAPI Kind = "remote-api"
	KindLocalCLI  Kind = "local-cli"
	KindProvider  Kind = "provider" // answered from the credential provider, no upstream call
)

// Service names a whitelisted local CLI tool. Operations reference tools by
// logical name only; the executor maps names to configured roots.
type Service string

const (
	ServicePrimary   Service = "primary-cli"
	ServiceSecondary Service = "secondary-cli"
)

// ParamType drives how the resolver extracts a parameter from free text.
type ParamType string

const (
	TypeString   ParamType = "string"
	TypeInt      ParamType = "int"
	TypeEmail    ParamType = "email"
	TypeID       ParamType = "id"
	TypeDate     ParamType = "date"
	TypeDuration ParamType = "duration"
)

// Param declares one parameter in an operation's schema.
type Param struct {
	Name     string
	Type     ParamType
	Required bool
	Default  string
}

// Trigger is one keyword group for intent matching. A group matches when any
// of its phrases occurs in the normalized query; an operation's match strength
// is the fraction of its groups that matched.
type Trigger struct {
	Phrases []string
}

// Definition is one entry in the closed operation catalog. The catalog is
// declared statically at startup and iterated in declaration order, so
// resolution is deterministic.
type Definition struct {
	Name        string
	Description string
	Kind        Kind
	Triggers    []Trigger
	Params      []Param

	// Remote operations.
	Method    string
	Endpoint  string
	Paginated bool

	// Local operations: the tool and the argv template. Template entries of
	// the form {name} are substituted with extracted parameter values;
	// optional parameters with no value drop the entry and its preceding flag.
	Service Service
	Argv    []string

	// Entity names the record type a mutating operation affects.
	Entity string
}

// RequiredParams returns the names of required parameters in schema order.
func (d *Definition) RequiredParams() []string {
	var names []string
	for _, p := range d.Params {
		if p.Required {
			names = append(names, p.Name)
		}
	}
	return names
}

// Param looks up a parameter declaration by name.
func (d *Definition) Param(name string) (Param, bool) {
	for _, p := range d.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Registry holds the operation catalog. Reads vastly outnumber writes; the
// ordered slice preserves declaration order for deterministic iteration.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]*Definition
	ordered []*Definition
}

// NewRegistry creates a registry pre-populated with the default catalog.
func NewRegistry() *Registry {
	r := &Registry{byName: make(map[string]*Definition)}
	for _, def := range defaults() {
		if err := r.Register(def); err != nil {
			panic(err) // defaults are static; a bad one is a programming error
		}
	}
	return r
}

// Register adds an operation to the catalog. Duplicate names are rejected so
// catalog order stays unambiguous.
func (r *Registry) Register(def *Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if def.Name == "" {
		return fmt.Errorf("operation name is required")
	}
	if _, ok := r.byName[def.Name]; ok {
		return fmt.Errorf("operation %q already registered", def.Name)
	}
	switch def.Kind {
	case KindRemoteAPI, KindLocalCLI, KindProvider:
	default:
		return fmt.Errorf("operation %q has invalid kind %q", def.Name, def.Kind)
	}
	r.byName[def.Name] = def
	r.ordered = append(r.ordered, def)
	return nil
}

// Get retrieves an operation definition by name.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byName[name]
	return def, ok
}

// List returns all definitions in declaration order.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Count returns the number of registered operations.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ordered)
}
