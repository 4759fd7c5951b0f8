package services

import (
	"errors"
	"fmt"

	"L402Paywall/internal/catalog"
	"L402Paywall/internal/payments"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrUnknownOffer        = errors.New("unknown offer")
	ErrMethodDisabled      = errors.New("payment method not available")
	ErrUnknownUser         = errors.New("unknown user")
	ErrInvalidContextToken = errors.New("invalid payment context token")
	ErrIntentNotFound      = errors.New("payment intent not found")
	ErrProvider            = errors.New("payment provider failed")
	ErrStorageUnavailable  = errors.New("storage unavailable")
)

// Kind is the stable, machine-readable class of an error as exposed to
// clients and webhook callers.
type Kind string

const (
	KindValidation     Kind = "validation_error"
	KindAuthentication Kind = "authentication_failure"
	KindNotFound       Kind = "not_found"
	KindProvider       Kind = "provider_error"
	KindStorage        Kind = "storage_unavailable"
	KindExpiredIntent  Kind = "expired_intent"
	KindInternal       Kind = "internal_error"
)

func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrUnknownOffer),
		errors.Is(err, catalog.ErrOfferNotFound),
		errors.Is(err, ErrMethodDisabled),
		errors.Is(err, payments.ErrMalformedEvent):
		return KindValidation
	case errors.Is(err, ErrUnknownUser),
		errors.Is(err, ErrInvalidContextToken),
		errors.Is(err, payments.ErrMissingSignature),
		errors.Is(err, payments.ErrInvalidSignature),
		errors.Is(err, payments.ErrUnknownProvider):
		return KindAuthentication
	case errors.Is(err, ErrIntentNotFound):
		return KindNotFound
	case errors.Is(err, ErrProvider):
		return KindProvider
	case errors.Is(err, ErrStorageUnavailable):
		return KindStorage
	}
	return KindInternal
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}
