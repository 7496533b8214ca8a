package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	obligationdomain "github.com/smallbiznis/renewd/internal/obligation/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() obligationdomain.Repository {
	return &repo{}
}

const obligationColumns = `id, title, description, status, billing_timezone, current_price_amount,
	 current_price_currency, next_billing_at, last_billed_at, metadata, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, obligation *obligationdomain.Obligation) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO obligations (
			id, title, description, status, billing_timezone, current_price_amount,
			current_price_currency, next_billing_at, last_billed_at, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		obligation.ID,
		obligation.Title,
		obligation.Description,
		obligation.Status,
		obligation.BillingTimezone,
		obligation.CurrentPriceAmount,
		obligation.CurrentPriceCurrency,
		obligation.NextBillingAt,
		obligation.LastBilledAt,
		obligation.Metadata,
		obligation.CreatedAt,
		obligation.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*obligationdomain.Obligation, error) {
	var obligation obligationdomain.Obligation
	err := db.WithContext(ctx).Raw(
		`SELECT `+obligationColumns+`
		 FROM obligations WHERE id = ?`,
		id,
	).Scan(&obligation).Error
	if err != nil {
		return nil, err
	}
	if obligation.ID == 0 {
		return nil, nil
	}
	return &obligation, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*obligationdomain.Obligation, error) {
	var obligation obligationdomain.Obligation
	err := db.WithContext(ctx).Raw(
		`SELECT `+obligationColumns+`
		 FROM obligations WHERE id = ? FOR UPDATE`,
		id,
	).Scan(&obligation).Error
	if err != nil {
		return nil, err
	}
	if obligation.ID == 0 {
		return nil, nil
	}
	return &obligation, nil
}

func (r *repo) UpdateNextBilling(ctx context.Context, db *gorm.DB, id snowflake.ID, nextBillingAt, updatedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE obligations SET next_billing_at = ?, updated_at = ? WHERE id = ?`,
		nextBillingAt,
		updatedAt,
		id,
	).Error
}

func (r *repo) UpdateCurrentPrice(ctx context.Context, db *gorm.DB, id snowflake.ID, amount decimal.Decimal, currency string, updatedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE obligations
		 SET current_price_amount = ?, current_price_currency = ?, updated_at = ?
		 WHERE id = ?`,
		amount,
		currency,
		updatedAt,
		id,
	).Error
}

func (r *repo) UpdateLastBilled(ctx context.Context, db *gorm.DB, id snowflake.ID, lastBilledAt, updatedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE obligations SET last_billed_at = ?, updated_at = ? WHERE id = ?`,
		lastBilledAt,
		updatedAt,
		id,
	).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error) {
	result := db.WithContext(ctx).Exec(`DELETE FROM obligations WHERE id = ?`, id)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
