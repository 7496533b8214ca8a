package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	pricetimelinedomain "github.com/smallbiznis/renewd/internal/pricetimeline/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() pricetimelinedomain.Repository {
	return &repo{}
}

const entryColumns = `id, obligation_id, amount, currency, effective_from, effective_to, reason, source, created_at`

func (r *repo) FindOpen(ctx context.Context, db *gorm.DB, obligationID snowflake.ID) (*pricetimelinedomain.PriceEntry, error) {
	var entry pricetimelinedomain.PriceEntry
	err := db.WithContext(ctx).Raw(
		`SELECT `+entryColumns+`
		 FROM price_entries
		 WHERE obligation_id = ? AND effective_to IS NULL
		 ORDER BY effective_from DESC
		 LIMIT 1`,
		obligationID,
	).Scan(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.ID == 0 {
		return nil, nil
	}
	return &entry, nil
}

func (r *repo) Close(ctx context.Context, db *gorm.DB, id snowflake.ID, effectiveTo time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE price_entries SET effective_to = ? WHERE id = ? AND effective_to IS NULL`,
		effectiveTo,
		id,
	).Error
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *pricetimelinedomain.PriceEntry) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO price_entries (
			id, obligation_id, amount, currency, effective_from, effective_to, reason, source, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.ObligationID,
		entry.Amount,
		entry.Currency,
		entry.EffectiveFrom,
		entry.EffectiveTo,
		entry.Reason,
		entry.Source,
		entry.CreatedAt,
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, obligationID snowflake.ID) ([]pricetimelinedomain.PriceEntry, error) {
	var entries []pricetimelinedomain.PriceEntry
	err := db.WithContext(ctx).Raw(
		`SELECT `+entryColumns+`
		 FROM price_entries
		 WHERE obligation_id = ?
		 ORDER BY effective_from ASC, id ASC`,
		obligationID,
	).Scan(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) FindEffectiveAt(ctx context.Context, db *gorm.DB, obligationID snowflake.ID, at time.Time) (*pricetimelinedomain.PriceEntry, error) {
	var entry pricetimelinedomain.PriceEntry
	err := db.WithContext(ctx).Raw(
		`SELECT `+entryColumns+`
		 FROM price_entries
		 WHERE obligation_id = ? AND effective_from <= ?
		   AND (effective_to IS NULL OR effective_to > ?)
		 ORDER BY effective_from DESC
		 LIMIT 1`,
		obligationID,
		at,
		at,
	).Scan(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.ID == 0 {
		return nil, nil
	}
	return &entry, nil
}

func (r *repo) DeleteByObligation(ctx context.Context, db *gorm.DB, obligationID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM price_entries WHERE obligation_id = ?`,
		obligationID,
	).Error
}
