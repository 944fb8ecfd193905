package sqlstore

import (
	"database/sql"
	"fmt"
	"time"

	"finance/internal/core"
)

type scanner interface {
	Scan(dest ...any) error
}

func scanBudget(row scanner) (core.Budget, error) {
	var (
		b           core.Budget
		description sql.NullString
		createdAt   timeValue
	)
	err := row.Scan(&b.ID, &b.Name, &b.Amount, &b.Opening, &b.Type, &description, &b.OwnerID, &createdAt, &b.Version)
	if err != nil {
		return core.Budget{}, err
	}
	if description.Valid {
		d := description.String
		b.Description = &d
	}
	b.CreatedAt = createdAt.Time
	return b, nil
}

func scanTransaction(row scanner) (core.Transaction, error) {
	var (
		t    core.Transaction
		kind string
		date timeValue
	)
	if err := row.Scan(&t.ID, &t.BudgetID, &t.OwnerID, &t.Amount, &t.Label, &kind, &date); err != nil {
		return core.Transaction{}, err
	}
	t.Type = core.Kind(kind)
	t.Date = date.Time
	return t, nil
}

func scanAttachment(row scanner) (core.Attachment, error) {
	var (
		a         core.Attachment
		createdAt timeValue
	)
	err := row.Scan(&a.ID, &a.TransactionID, &a.OwnerID, &a.FileName, &a.StoredName, &a.ContentType, &a.Size, &createdAt)
	if err != nil {
		return core.Attachment{}, err
	}
	a.CreatedAt = createdAt.Time
	return a, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// timeValue accepts the shapes drivers hand back for timestamp columns:
// time.Time from lib/pq and usually from modernc, text when SQLite stored a
// value in a column it does not recognise as a date.
type timeValue struct {
	time.Time
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC3339Nano,
}

func (v *timeValue) Scan(src any) error {
	switch s := src.(type) {
	case nil:
		v.Time = time.Time{}
		return nil
	case time.Time:
		v.Time = s
		return nil
	case string:
		return v.parse(s)
	case []byte:
		return v.parse(string(s))
	default:
		return fmt.Errorf("cannot scan %T into time", src)
	}
}

func (v *timeValue) parse(s string) error {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			v.Time = t
			return nil
		}
	}
	return fmt.Errorf("unrecognised time %q", s)
}
