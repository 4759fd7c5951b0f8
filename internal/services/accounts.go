package services

import (
	"context"
	"errors"
	"time"

	"L402Paywall/internal/models"
	"L402Paywall/internal/store"

	"github.com/google/uuid"
)

type Accounts struct {
	Store           store.Store
	StartingCredits int64
	Now             func() time.Time
}

func (a Accounts) Signup(ctx context.Context) (*models.User, error) {
	now := time.Now().UTC()
	if a.Now != nil {
		now = a.Now()
	}
	user := &models.User{
		ID:                 uuid.NewString(),
		Credits:            a.StartingCredits,
		CreatedAt:          now,
		LastCreditUpdateAt: now,
	}
	if err := a.Store.CreateUser(ctx, user); err != nil {
		return nil, storageErr("create user", err)
	}
	return user, nil
}

func (a Accounts) Get(ctx context.Context, id string) (*models.User, error) {
	if id == "" {
		return nil, ErrUnknownUser
	}
	user, err := a.Store.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownUser
	}
	if err != nil {
		return nil, storageErr("get user", err)
	}
	return user, nil
}
