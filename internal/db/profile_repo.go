package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"subsync/internal/types"
)

// profileColumns is the canonical column list for scanning a user_profiles row.
const profileColumns = `id, clerk_user_id, subscription_plan, subscription_status,
	monthly_usage_limit, trial_ends_at, last_active_date, created_at, updated_at,
	polar_customer_id, polar_subscription_id, current_period_end`

// ProfileRepo manages the user_profiles table: one row per identity-provider
// user id, carrying the local subscription state.
//
// Key invariants:
//   - Update writes only the columns named in the ProfileUpdate; everything
//     else is left untouched, so two concurrent partial updates can never
//     blindly overwrite each other's columns.
//   - Rows are never hard-deleted; a reset restores free-tier defaults.
type ProfileRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewProfileRepo creates a new ProfileRepo backed by the given database
// connection (pool or transaction).
func NewProfileRepo(db DBTX, logger *slog.Logger) *ProfileRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProfileRepo{db: db, logger: logger}
}

func scanProfile(row pgx.Row) (*types.UserProfile, error) {
	var p types.UserProfile
	var plan, customerID, subscriptionID *string
	err := row.Scan(
		&p.ID, &p.ClerkUserID, &plan, &p.Status,
		&p.MonthlyUsageLimit, &p.TrialEndsAt, &p.LastActiveAt, &p.CreatedAt, &p.UpdatedAt,
		&customerID, &subscriptionID, &p.CurrentPeriodEnd,
	)
	if err != nil {
		return nil, err
	}
	if plan != nil {
		p.Plan = types.Plan(*plan)
	}
	if customerID != nil {
		p.PolarCustomerID = *customerID
	}
	if subscriptionID != nil {
		p.PolarSubscriptionID = *subscriptionID
	}
	return &p, nil
}

// GetByClerkID fetches the profile for an identity-provider user id.
// Returns ErrCodeNotFoundProfile when no row exists.
func (r *ProfileRepo) GetByClerkID(ctx context.Context, clerkUserID string) (*types.UserProfile, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM user_profiles WHERE clerk_user_id = $1`,
		clerkUserID,
	)
	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundProfile, "profile not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to fetch profile", err)
	}
	return p, nil
}

// GetByPolarCustomerID fetches the profile linked to a billing-provider
// customer id. Used to resolve webhook events that carry no user metadata.
func (r *ProfileRepo) GetByPolarCustomerID(ctx context.Context, customerID string) (*types.UserProfile, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM user_profiles WHERE polar_customer_id = $1`,
		customerID,
	)
	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundProfile, "no profile for customer", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to fetch profile by customer", err)
	}
	return p, nil
}

// Create inserts a fresh free-tier profile for the given user id. Returns
// ErrCodeConflictProfileExists when a row for that user already exists.
func (r *ProfileRepo) Create(ctx context.Context, clerkUserID string) (*types.UserProfile, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO user_profiles
		   (id, clerk_user_id, subscription_status, monthly_usage_limit, last_active_date)
		 VALUES ($1, $2, $3, $4, NOW())
		 RETURNING `+profileColumns,
		uuid.NewString(), clerkUserID, types.StatusInactive, types.FreeUsageLimit,
	)
	p, err := scanProfile(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, types.NewAppError(types.ErrCodeConflictProfileExists, "profile already exists", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to create profile", err)
	}
	return p, nil
}

// GetOrCreate returns the existing profile for the user, refreshing its
// last_active_date, or creates a free-tier row when none exists. Concurrent
// first calls race on the insert; the loser falls back to the winner's row.
func (r *ProfileRepo) GetOrCreate(ctx context.Context, clerkUserID string) (*types.UserProfile, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE user_profiles
		 SET last_active_date = NOW(), updated_at = NOW()
		 WHERE clerk_user_id = $1
		 RETURNING `+profileColumns,
		clerkUserID,
	)
	p, err := scanProfile(row)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to touch profile", err)
	}

	p, err = r.Create(ctx, clerkUserID)
	if err == nil {
		return p, nil
	}
	var appErr *types.AppError
	if errors.As(err, &appErr) && appErr.Code == types.ErrCodeConflictProfileExists {
		return r.GetByClerkID(ctx, clerkUserID)
	}
	return nil, err
}

// Update applies a partial update to the profile row for clerkUserID. Only
// fields set on the ProfileUpdate are written; Clear* sentinels null out
// their columns. Returns ErrCodeNotFoundProfile when no row matches, and the
// updated row otherwise.
func (r *ProfileRepo) Update(ctx context.Context, clerkUserID string, u types.ProfileUpdate) (*types.UserProfile, error) {
	if u.IsZero() {
		return r.GetByClerkID(ctx, clerkUserID)
	}

	sets := []string{"updated_at = NOW()"}
	args := []any{clerkUserID}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if u.Plan != nil {
		if *u.Plan == types.PlanNone {
			sets = append(sets, "subscription_plan = NULL")
		} else {
			sets = append(sets, "subscription_plan = "+arg(*u.Plan))
		}
	}
	if u.Status != nil {
		sets = append(sets, "subscription_status = "+arg(*u.Status))
	}
	if u.MonthlyUsageLimit != nil {
		sets = append(sets, "monthly_usage_limit = "+arg(*u.MonthlyUsageLimit))
	}
	if u.ClearTrialEndsAt {
		sets = append(sets, "trial_ends_at = NULL")
	} else if u.TrialEndsAt != nil {
		sets = append(sets, "trial_ends_at = "+arg(*u.TrialEndsAt))
	}
	if u.LastActiveAt != nil {
		sets = append(sets, "last_active_date = "+arg(*u.LastActiveAt))
	}
	if u.ClearPolarCustomerID {
		sets = append(sets, "polar_customer_id = NULL")
	} else if u.PolarCustomerID != nil {
		sets = append(sets, "polar_customer_id = "+arg(*u.PolarCustomerID))
	}
	if u.ClearPolarSubscriptionID {
		sets = append(sets, "polar_subscription_id = NULL")
	} else if u.PolarSubscriptionID != nil {
		sets = append(sets, "polar_subscription_id = "+arg(*u.PolarSubscriptionID))
	}
	if u.ClearCurrentPeriodEnd {
		sets = append(sets, "current_period_end = NULL")
	} else if u.CurrentPeriodEnd != nil {
		sets = append(sets, "current_period_end = "+arg(*u.CurrentPeriodEnd))
	}

	query := `UPDATE user_profiles SET ` + strings.Join(sets, ", ") +
		` WHERE clerk_user_id = $1 RETURNING ` + profileColumns

	row := r.db.QueryRow(ctx, query, args...)
	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundProfile, "profile not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to update profile", err)
	}
	return p, nil
}

// TouchLastActive refreshes last_active_date without touching billing state.
func (r *ProfileRepo) TouchLastActive(ctx context.Context, clerkUserID string, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE user_profiles SET last_active_date = $2, updated_at = NOW() WHERE clerk_user_id = $1`,
		clerkUserID, at,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to touch profile", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundProfile, "profile not found", nil)
	}
	return nil
}
