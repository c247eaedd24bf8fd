// Package factory maps archive versions to the handlers that read and write
// them.
package factory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/jazware/essencefs/pkg/essencefs"
	"github.com/jazware/essencefs/pkg/sga"
)

// Handler reads and writes one archive version.
type Handler interface {
	Version() sga.Version
	Read(ctx context.Context, rs io.ReadSeeker) (*essencefs.EssenceFS, error)
	Write(ctx context.Context, w io.Writer, fsys *essencefs.EssenceFS) (int64, error)
}

// Resolver loads a handler by plugin name. It returns ErrPluginNotFound when
// it has nothing under that name.
type Resolver func(name string) (Handler, error)

// PluginName is the name a Resolver is queried with for v.
func PluginName(v sga.Version) string {
	return v.String()
}

// Registry holds the handlers known to a process. The zero value is not
// usable; create one with NewRegistry.
type Registry struct {
	logger   *slog.Logger
	resolver Resolver

	mu       sync.RWMutex
	handlers map[sga.Version]Handler
}

// Option configures a Registry.
type Option func(*Registry)

// WithResolver enables auto-discovery of unregistered versions.
func WithResolver(r Resolver) Option {
	return func(reg *Registry) {
		reg.resolver = r
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(reg *Registry) {
		reg.logger = logger
	}
}

// WithHandlers registers handlers at construction.
func WithHandlers(handlers ...Handler) Option {
	return func(reg *Registry) {
		for _, h := range handlers {
			reg.handlers[h.Version()] = h
		}
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	reg := &Registry{
		logger:   slog.Default(),
		handlers: make(map[sga.Version]Handler),
	}
	for _, opt := range opts {
		opt(reg)
	}
	reg.logger = reg.logger.With("component", "sga-factory")
	return reg
}

// Register installs h for v, replacing any previous handler.
func (r *Registry) Register(v sga.Version, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[v] = h
}

// Versions returns the registered versions in ascending order.
func (r *Registry) Versions() []sga.Version {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return sortedVersions(r.handlers)
}

// Get returns the handler for v. If none is registered and a resolver is
// configured, the resolver is asked once; a found plugin is registered before
// returning.
func (r *Registry) Get(v sga.Version) (Handler, error) {
	r.mu.RLock()
	h, ok := r.handlers[v]
	r.mu.RUnlock()
	if ok {
		return h, nil
	}

	if r.resolver != nil {
		name := PluginName(v)
		h, err := r.resolver(name)
		switch {
		case err == nil && h != nil:
			pluginLookupsTotal.WithLabelValues("found").Inc()
			r.logger.Info("registered plugin handler", "plugin", name, "version", v.String())
			r.Register(v, h)
			return r.Get(v)
		case err == nil, errors.Is(err, ErrPluginNotFound):
			pluginLookupsTotal.WithLabelValues("not_found").Inc()
		default:
			pluginLookupsTotal.WithLabelValues("error").Inc()
			return nil, &PluginLoadError{Name: name, Err: err}
		}
	}

	return nil, &VersionNotSupportedError{Version: v, Known: r.Versions()}
}

// Lookup is Get that returns def instead of an error when v has no handler.
// Plugin load failures still yield def.
func (r *Registry) Lookup(v sga.Version, def Handler) Handler {
	h, err := r.Get(v)
	if err != nil {
		return def
	}
	return h
}

// Read peeks the archive version from rs and dispatches to its handler.
func (r *Registry) Read(ctx context.Context, rs io.ReadSeeker) (_ *essencefs.EssenceFS, err error) {
	ctx, done := observe(ctx, "read", &err)
	var v sga.Version
	defer func() { done(v) }()

	v, err = sga.PeekVersion(rs)
	if err != nil {
		return nil, fmt.Errorf("reading archive version: %w", err)
	}
	return r.read(ctx, rs, v)
}

// ReadVersion reads rs with the handler for v without peeking.
func (r *Registry) ReadVersion(ctx context.Context, rs io.ReadSeeker, v sga.Version) (_ *essencefs.EssenceFS, err error) {
	ctx, done := observe(ctx, "read", &err)
	defer func() { done(v) }()

	return r.read(ctx, rs, v)
}

func (r *Registry) read(ctx context.Context, rs io.ReadSeeker, v sga.Version) (*essencefs.EssenceFS, error) {
	h, err := r.Get(v)
	if err != nil {
		return nil, err
	}
	fsys, err := h.Read(ctx, rs)
	if err != nil {
		return nil, fmt.Errorf("reading %s archive: %w", v, err)
	}
	return fsys, nil
}

// Write serializes fsys with the handler for the version stored in its
// essence meta.
func (r *Registry) Write(ctx context.Context, w io.Writer, fsys *essencefs.EssenceFS) (_ int64, err error) {
	ctx, done := observe(ctx, "write", &err)
	var v sga.Version
	defer func() { done(v) }()

	v, err = MetaVersion(fsys)
	if err != nil {
		return 0, err
	}
	return r.write(ctx, w, fsys, v)
}

// WriteVersion serializes fsys with the handler for v.
func (r *Registry) WriteVersion(ctx context.Context, w io.Writer, fsys *essencefs.EssenceFS, v sga.Version) (_ int64, err error) {
	ctx, done := observe(ctx, "write", &err)
	defer func() { done(v) }()

	return r.write(ctx, w, fsys, v)
}

func (r *Registry) write(ctx context.Context, w io.Writer, fsys *essencefs.EssenceFS, v sga.Version) (int64, error) {
	h, err := r.Get(v)
	if err != nil {
		return 0, err
	}
	n, err := h.Write(ctx, w, fsys)
	if err != nil {
		return n, fmt.Errorf("writing %s archive: %w", v, err)
	}
	return n, nil
}

// MetaVersion returns the version recorded in the filesystem's essence meta.
// Both sga.Version values and their string form are accepted.
func MetaVersion(fsys *essencefs.EssenceFS) (sga.Version, error) {
	raw := fsys.GetMeta(essencefs.MetaNamespace)[essencefs.MetaVersion]
	switch v := raw.(type) {
	case sga.Version:
		return v, nil
	case *sga.Version:
		if v != nil {
			return *v, nil
		}
	case string:
		if parsed, err := sga.ParseVersion(v); err == nil {
			return parsed, nil
		}
	}
	return sga.Version{}, &MissingVersionError{Value: raw}
}
