package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/truenicoco/slidge-sub000/internal/model"
)

type credentials struct {
	Phone string `json:"phone"`
	Token string `json:"token,omitempty"`
}

func TestRegistration_RoundTrip(t *testing.T) {
	st := createTestStore(t)
	ctx := context.Background()

	_, err := LoadRegistration[credentials](ctx, st, "s1")
	assert.True(t, model.IsNotFound(err))

	want := credentials{Phone: "+33600000000", Token: "secret"}
	require.NoError(t, SaveRegistration(ctx, st, "s1", "user@example.org", want))

	got, err := LoadRegistration[credentials](ctx, st, "s1")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	u, err := st.GetUser(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, `{"phone":"+33600000000","token":"secret"}`, string(u.Registration))
}

func TestRegistration_EvolvingFields(t *testing.T) {
	st := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, SaveRegistration(ctx, st, "s1", "user@example.org", map[string]any{"phone": "+1", "legacy_field": true}))

	got, err := LoadRegistration[credentials](ctx, st, "s1")
	require.NoError(t, err)
	assert.Equal(t, credentials{Phone: "+1"}, got, "unknown stored fields are ignored")
}
