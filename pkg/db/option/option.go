package option

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// QueryOption decorates a query built by repository.Repository.
type QueryOption func(*gorm.DB) *gorm.DB

type Operator string

const (
	EQ  Operator = "="
	NEQ Operator = "<>"
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
	IN  Operator = "IN"
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

// ApplyOperator adds a single comparison on Field. Unknown operators are ignored.
func ApplyOperator(c Condition) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		switch c.Operator {
		case EQ, NEQ, GT, GTE, LT, LTE:
			return db.Where(fmt.Sprintf("%s %s ?", c.Field, c.Operator), c.Value)
		case IN:
			return db.Where(fmt.Sprintf("%s IN ?", c.Field), c.Value)
		default:
			return db
		}
	}
}

// WithSortBy orders the result. The column must be listed in Allow.
func WithSortBy(s QuerySortBy) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		if s.SortBy == "" || !s.Allow[s.SortBy] {
			return db
		}

		direction := "ASC"
		if strings.EqualFold(s.OrderBy, "desc") {
			direction = "DESC"
		}

		return db.Order(fmt.Sprintf("%s %s", s.SortBy, direction))
	}
}

func WithLimit(limit int) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return db
		}
		return db.Limit(limit)
	}
}
