package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"L402Paywall/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type PostgresStore struct {
	Pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{Pool: pool}
}

const intentColumns = `
	token, offer_id, user_id, provider, provider_reference, status,
	credits, amount, currency, failure_reason,
	created_at, expires_at, updated_at`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	tag, err := s.Pool.Exec(ctx, `
		INSERT INTO users (id, credits, created_at, last_credit_update_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO NOTHING
	`, user.ID, user.Credits, user.CreatedAt, user.LastCreditUpdateAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := s.Pool.QueryRow(ctx, `
		SELECT id, credits, created_at, last_credit_update_at
		FROM users WHERE id=$1
	`, id).Scan(&user.ID, &user.Credits, &user.CreatedAt, &user.LastCreditUpdateAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *PostgresStore) DebitCredits(ctx context.Context, userID string, cost int64) (int64, error) {
	var left int64
	err := s.Pool.QueryRow(ctx, `
		UPDATE users SET credits = credits - $2
		WHERE id=$1 AND credits >= $2
		RETURNING credits
	`, userID, cost).Scan(&left)
	if err == nil {
		return left, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}

	err = s.Pool.QueryRow(ctx, "SELECT credits FROM users WHERE id=$1", userID).Scan(&left)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return left, ErrInsufficientCredits
}

func (s *PostgresStore) CreditCredits(ctx context.Context, userID string, amount int64, at time.Time) (int64, error) {
	var credits int64
	err := s.Pool.QueryRow(ctx, `
		UPDATE users SET credits = credits + $2, last_credit_update_at = $3
		WHERE id=$1
		RETURNING credits
	`, userID, amount, at).Scan(&credits)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return credits, err
}

func (s *PostgresStore) CreateIntent(ctx context.Context, intent *models.PaymentIntent) error {
	tag, err := s.Pool.Exec(ctx, `
		INSERT INTO payment_intents (`+intentColumns+`)
		VALUES ($1,$2,$3,$4,NULLIF($5,''),$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (token) DO NOTHING
	`,
		intent.Token,
		intent.OfferID,
		intent.UserID,
		intent.Provider,
		intent.Reference,
		intent.Status,
		intent.Credits,
		intent.Amount.String(),
		intent.Currency,
		intent.FailureReason,
		intent.CreatedAt,
		intent.ExpiresAt,
		intent.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *PostgresStore) GetIntent(ctx context.Context, token string) (*models.PaymentIntent, error) {
	row := s.Pool.QueryRow(ctx, "SELECT "+intentColumns+" FROM payment_intents WHERE token=$1", token)
	return scanIntent(row)
}

func (s *PostgresStore) GetIntentByReference(ctx context.Context, provider models.Provider, reference string) (*models.PaymentIntent, error) {
	row := s.Pool.QueryRow(ctx, "SELECT "+intentColumns+`
		FROM payment_intents WHERE provider=$1 AND provider_reference=$2
	`, provider, reference)
	return scanIntent(row)
}

func (s *PostgresStore) TransitionIntent(ctx context.Context, tr Transition) (*models.PaymentIntent, bool, error) {
	var expiresAt *time.Time
	if !tr.ExpiresAt.IsZero() {
		expiresAt = &tr.ExpiresAt
	}
	row := s.Pool.QueryRow(ctx, `
		UPDATE payment_intents
		SET status=$3,
			updated_at=$4,
			provider_reference=COALESCE(NULLIF($5::text,''), provider_reference),
			expires_at=COALESCE($6::timestamptz, expires_at),
			failure_reason=COALESCE(NULLIF($7::text,''), failure_reason)
		WHERE token=$1 AND status=$2 AND (NOT $8::boolean OR expires_at > $4)
		RETURNING `+intentColumns,
		tr.Token, tr.From, tr.To, tr.At, tr.Reference, expiresAt, tr.Failure, tr.Unexpired,
	)
	intent, err := scanIntent(row)
	if err == nil {
		return intent, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	current, err := s.GetIntent(ctx, tr.Token)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func (s *PostgresStore) ExpirePending(ctx context.Context, now time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 500
	}
	tag, err := s.Pool.Exec(ctx, `
		UPDATE payment_intents
		SET status='expired', updated_at=$1
		WHERE status='pending' AND token IN (
			SELECT token FROM payment_intents
			WHERE status='pending' AND expires_at <= $1
			ORDER BY expires_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
	`, now, limit)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, rec *models.ProcessedWebhook) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		INSERT INTO processed_webhooks (idempotency_key, provider, reference, event_type, received_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, rec.Key, rec.Provider, rec.Reference, rec.EventType, rec.ReceivedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) FlagForReview(ctx context.Context, flag *models.ReviewFlag) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO review_flags (kind, provider, reference, intent_token, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, flag.Kind, flag.Provider, flag.Reference, flag.IntentToken, flag.Detail, flag.CreatedAt)
	return err
}

func (s *PostgresStore) ListReviewFlags(ctx context.Context, limit int) ([]models.ReviewFlag, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT kind, provider, reference, intent_token, detail, created_at
		FROM review_flags
		ORDER BY id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flags []models.ReviewFlag
	for rows.Next() {
		var f models.ReviewFlag
		if err := rows.Scan(&f.Kind, &f.Provider, &f.Reference, &f.IntentToken, &f.Detail, &f.CreatedAt); err != nil {
			return nil, err
		}
		flags = append(flags, f)
	}
	return flags, rows.Err()
}

func scanIntent(row pgx.Row) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	var reference sql.NullString
	var amount string
	err := row.Scan(
		&intent.Token,
		&intent.OfferID,
		&intent.UserID,
		&intent.Provider,
		&reference,
		&intent.Status,
		&intent.Credits,
		&amount,
		&intent.Currency,
		&intent.FailureReason,
		&intent.CreatedAt,
		&intent.ExpiresAt,
		&intent.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if reference.Valid {
		intent.Reference = reference.String
	}
	intent.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("intent %s: amount: %w", intent.Token, err)
	}
	return &intent, nil
}
