package view

import (
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"github.com/sysprov/pvm/errors"
	"github.com/sysprov/pvm/sym"
)

// Registry is the catalog of available view types, keyed by exact name.
//
// Duplicate names across registered types are retained as aliases rather
// than silently overwritten: silently picking one plugin when two claim the
// same name risks activating the wrong output logic. Resolving an aliased
// name yields ErrAmbiguousViewName.
type Registry struct {
	mu      sync.RWMutex
	types   map[string][]Type
	frozen  bool
	version string
	log     *zap.SugaredLogger

	watcher *pathWatcher
}

// NewRegistry creates an empty registry. engineVersion is checked against
// each registered type's EngineVersion constraint.
func NewRegistry(engineVersion string, log *zap.SugaredLogger) *Registry {
	return &Registry{
		types:   make(map[string][]Type),
		version: engineVersion,
		log:     log.Named("view.registry"),
	}
}

// Register adds a view type to the catalog. Registration fails once the
// registry is frozen or when the type's engine version constraint is not
// satisfied. A name collision is retained as an alias and logged.
func (r *Registry) Register(t Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return errors.Wrap(errors.ErrInvalidState, "registry is frozen: no registration after pipeline start")
	}

	d := t.Descriptor()
	if d.Name == "" {
		return errors.Wrap(errors.ErrInvalidArgument, "view type has empty name")
	}
	if err := r.checkVersion(d); err != nil {
		return err
	}

	if existing := r.types[d.Name]; len(existing) > 0 {
		r.log.Warnw("View name collision retained as alias",
			"symbol", sym.View,
			"name", d.Name,
			"aliases", len(existing)+1,
		)
	}
	r.types[d.Name] = append(r.types[d.Name], t)
	return nil
}

// checkVersion validates the descriptor's engine version constraint.
func (r *Registry) checkVersion(d Descriptor) error {
	if d.EngineVersion == "" {
		return nil
	}
	engineVer, err := semver.NewVersion(r.version)
	if err != nil {
		return errors.Wrapf(errors.ErrConfig, "invalid engine version %s: %v", r.version, err)
	}
	constraint, err := semver.NewConstraint(d.EngineVersion)
	if err != nil {
		return errors.Wrapf(errors.ErrInvalidArgument,
			"view %s: invalid version constraint %s: %v", d.Name, d.EngineVersion, err)
	}
	if !constraint.Check(engineVer) {
		return errors.Wrapf(errors.ErrInvalidArgument,
			"view %s requires engine %s, running %s", d.Name, d.EngineVersion, r.version)
	}
	return nil
}

// Resolve finds the single view type with exactly the given name.
func (r *Registry) Resolve(name string) (Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matches := r.types[name]
	switch len(matches) {
	case 0:
		return nil, errors.Wrapf(errors.ErrNoViewWithName, "%q", name)
	case 1:
		return matches[0], nil
	default:
		return nil, errors.Wrapf(errors.ErrAmbiguousViewName,
			"%q registered %d times", name, len(matches))
	}
}

// Descriptors returns the catalog ordered by name. Aliased names contribute
// every registered descriptor.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Descriptor, 0, len(names))
	for _, name := range names {
		for _, t := range r.types[name] {
			out = append(out, t.Descriptor())
		}
	}
	return out
}

// Freeze makes the catalog immutable. Called at pipeline start; there is no
// plugin hot-reload while running.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Close stops the plugin path watcher, if one was started.
func (r *Registry) Close() {
	r.mu.Lock()
	w := r.watcher
	r.watcher = nil
	r.mu.Unlock()
	if w != nil {
		w.stop()
	}
}
