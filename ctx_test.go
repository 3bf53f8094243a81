package auth_test

import (
	"context"
	"testing"

	"github.com/goliatone/go-dashboard-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext(t *testing.T) {
	mounted := auth.NewProvider(newFakeIdentityProvider())

	tests := []struct {
		name      string
		setupCtx  func() context.Context
		wantInert bool
	}{
		{
			name:      "should return inert surface for empty context",
			setupCtx:  context.Background,
			wantInert: true,
		},
		{
			name: "should return inert surface for nil surface",
			setupCtx: func() context.Context {
				return auth.WithSurface(context.Background(), nil)
			},
			wantInert: true,
		},
		{
			name: "should return stored surface",
			setupCtx: func() context.Context {
				return auth.WithSurface(context.Background(), mounted)
			},
			wantInert: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := tt.setupCtx()
			surface := auth.FromContext(ctx)
			require.NotNil(t, surface)

			assert.Equal(t, !tt.wantInert, auth.HasSurface(ctx))
			if tt.wantInert {
				assert.Equal(t, auth.InertSurface(), surface)
			} else {
				assert.Same(t, mounted, surface)
			}
		})
	}
}

func TestInertSurface(t *testing.T) {
	surface := auth.FromContext(context.Background())
	ctx := context.Background()

	state := surface.State()
	assert.True(t, state.Loading)
	assert.Nil(t, state.Identity)
	assert.Nil(t, state.Session)
	assert.False(t, state.URLAuthProcessing)

	assert.ErrorIs(t, surface.SignIn(ctx, "user@example.com", "secret"), auth.ErrNotMounted)
	assert.ErrorIs(t, surface.SignUp(ctx, "user@example.com", "secret"), auth.ErrNotMounted)
	assert.ErrorIs(t, surface.SignOut(ctx), auth.ErrNotMounted)

	surface.SetURLAuthProcessing(true)
	assert.False(t, surface.State().URLAuthProcessing)

	called := false
	cancel := surface.Watch(func(auth.State) { called = true })
	require.NotNil(t, cancel)
	cancel()
	assert.False(t, called)
}
