package store

import (
	"database/sql"
	"time"
)

// ListRecord is a grocery_lists row as it is stored.
type ListRecord struct {
	ID          int64
	Name        string
	Description sql.NullString
	Owner       string
	Stores      sql.NullString
	ListDate    sql.NullTime
	IsClosed    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ItemRecord is a grocery_items row as it is stored.
type ItemRecord struct {
	ID        int64
	ListID    int64
	Name      string
	Quantity  float64
	Unit      sql.NullString
	Category  sql.NullString
	Store     sql.NullString
	Notes     sql.NullString
	Purchased bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NullString converts an optional value to its column form.
func NullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func NullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// StringPtr is the inverse of NullString.
func StringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func TimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
