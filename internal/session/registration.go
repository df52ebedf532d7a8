package session

import (
	"context"
	"fmt"

	"github.com/truenicoco/slidge-sub000/internal/model"
	"github.com/truenicoco/slidge-sub000/internal/store"
)

// RegistrationStore persists per-user registration data.
type RegistrationStore interface {
	PutUser(ctx context.Context, u store.User) error
	GetUser(ctx context.Context, sessionID string) (store.User, error)
}

// LoadRegistration decodes the registration data of a session into T.
// Fields the stored data lacks keep their zero value. Returns NOT_FOUND
// when the session has no user.
func LoadRegistration[T any](ctx context.Context, st RegistrationStore, sessionID string) (T, error) {
	var v T
	u, err := st.GetUser(ctx, sessionID)
	if err != nil {
		return v, err
	}
	if err := model.UnmarshalBlob(u.Registration, &v); err != nil {
		return v, fmt.Errorf("decode registration: %w", err)
	}
	return v, nil
}

// SaveRegistration stores v as the registration data of a session, creating
// the user if needed.
func SaveRegistration[T any](ctx context.Context, st RegistrationStore, sessionID, userJID string, v T) error {
	data, err := model.MarshalCanonical(v)
	if err != nil {
		return fmt.Errorf("encode registration: %w", err)
	}
	return st.PutUser(ctx, store.User{SessionID: sessionID, JID: userJID, Registration: data})
}
