package unit

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// DefaultExtensions are stripped from identifiers before lookup. Longer
// suffixes are tried first so "worker.node.js" loses ".node.js".
var DefaultExtensions = []string{".node.js", ".mjs", ".js", ".py", ".R", ".go"}

// Registry maps unit names to factories.
type Registry struct {
	mu         sync.RWMutex
	factories  map[string]Factory
	aliases    map[string]string
	extensions []string
}

type Option func(*Registry)

// WithExtensions replaces the list of stripped identifier extensions.
func WithExtensions(exts ...string) Option {
	return func(r *Registry) {
		r.extensions = append([]string(nil), exts...)
	}
}

// WithAliases registers alternative names for units.
func WithAliases(aliases map[string]string) Option {
	return func(r *Registry) {
		for alias, name := range aliases {
			r.Alias(alias, name)
		}
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		factories:  make(map[string]Factory),
		aliases:    make(map[string]string),
		extensions: append([]string(nil), DefaultExtensions...),
	}
	for _, opt := range opts {
		opt(r)
	}
	sort.SliceStable(r.extensions, func(i, j int) bool {
		return len(r.extensions[i]) > len(r.extensions[j])
	})
	return r
}

func (r *Registry) Register(name string, f Factory) error {
	if name == "" || f == nil {
		return fmt.Errorf("unit: register %q: name and factory are required", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	r.factories[name] = f
	return nil
}

func (r *Registry) MustRegister(name string, f Factory) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}

func (r *Registry) Alias(alias, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[alias] = name
}

// Resolve turns an identifier into the registry name it refers to, without
// checking that the name is registered.
func (r *Registry) Resolve(identifier string) string {
	name := strings.TrimSpace(identifier)
	for _, ext := range r.extensions {
		if len(name) > len(ext) && strings.HasSuffix(name, ext) {
			name = strings.TrimSuffix(name, ext)
			break
		}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if target, ok := r.aliases[name]; ok {
		return target
	}
	return name
}

// Load builds a fresh instance of the unit named by identifier.
func (r *Registry) Load(identifier string) (*Handle, error) {
	name := r.Resolve(identifier)

	r.mu.RLock()
	fn, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &LoadError{Identifier: identifier, Name: name}
	}

	h := &Handle{Name: name}
	var err error
	func() {
		defer h.recover("load", &err)
		u := fn()
		if u == nil {
			err = &Error{Unit: name, Op: "load", Err: fmt.Errorf("factory returned nil")}
			return
		}
		h = NewHandle(name, u)
	}()
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Info describes a registered unit for listings.
type Info struct {
	Name     string
	CanStep  bool
	Defaults Params
}

// Describe loads every registered unit once and reports its capabilities.
// Units that fail to load or to produce defaults are listed without defaults.
func (r *Registry) Describe() []Info {
	names := r.Names()
	infos := make([]Info, 0, len(names))
	for _, name := range names {
		info := Info{Name: name}
		if h, err := r.Load(name); err == nil {
			info.CanStep = h.CanStep()
			info.Defaults, _ = h.Defaults()
		}
		infos = append(infos, info)
	}
	return infos
}
