package auth

import (
	"context"
)

var surfaceCtxKey = &contextKey{"auth_surface"}

type contextKey struct {
	name string
}

// WithSurface sets the auth surface in the given context
func WithSurface(ctx context.Context, surface Surface) context.Context {
	return context.WithValue(ctx, surfaceCtxKey, surface)
}

// FromContext returns the auth surface stored in ctx. When none was set
// it returns an inert surface: no identity, loading forever, and mutators
// that resolve to ErrNotMounted.
func FromContext(ctx context.Context) Surface {
	if ctx != nil {
		if surface, ok := ctx.Value(surfaceCtxKey).(Surface); ok && surface != nil {
			return surface
		}
	}
	return InertSurface()
}

// HasSurface reports whether ctx carries a surface.
func HasSurface(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	surface, ok := ctx.Value(surfaceCtxKey).(Surface)
	return ok && surface != nil
}

// InertSurface returns the surface used when no provider is mounted.
func InertSurface() Surface {
	return inertSurface{}
}

type inertSurface struct{}

func (inertSurface) State() State {
	return State{Loading: true}
}

func (inertSurface) SignUp(context.Context, string, string) error {
	return ErrNotMounted
}

func (inertSurface) SignIn(context.Context, string, string) error {
	return ErrNotMounted
}

func (inertSurface) SignOut(context.Context) error {
	return ErrNotMounted
}

func (inertSurface) SetURLAuthProcessing(bool) {}

func (inertSurface) Watch(func(State)) (cancel func()) {
	return func() {}
}
