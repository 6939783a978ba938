package store

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrTableNotAllowed  = errors.New("table not allowed")
	ErrColumnNotAllowed = errors.New("column not allowed")
)

type Table string

const (
	TableUsers         Table = "users"
	TableSubscriptions Table = "subscriptions"
	TablePayments      Table = "payments"
	TableActivityLogs  Table = "activity_logs"
)

var (
	userColumns         = []string{"telegram_id", "username", "first_name", "created_at"}
	subscriptionColumns = []string{"id", "user_id", "status", "plan_type", "amount_paid", "start_date", "end_date", "created_at", "updated_at"}
	paymentColumns      = []string{"id", "btcpay_invoice_id", "user_id", "amount", "currency", "status", "invoice_url", "created_at", "paid_at", "subscription_id"}
	activityLogColumns  = []string{"id", "user_id", "action", "details", "created_at"}
)

var allowedColumns = map[Table]map[string]struct{}{
	TableUsers:         columnSet(userColumns),
	TableSubscriptions: columnSet(subscriptionColumns),
	TablePayments:      columnSet(paymentColumns),
	TableActivityLogs:  columnSet(activityLogColumns),
}

func columnSet(cols []string) map[string]struct{} {
	m := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		m[c] = struct{}{}
	}
	return m
}

func checkColumns(t Table, cols ...string) error {
	allowed, ok := allowedColumns[t]
	if !ok {
		return fmt.Errorf("%w: %q", ErrTableNotAllowed, string(t))
	}
	for _, c := range cols {
		if _, ok := allowed[c]; !ok {
			return fmt.Errorf("%w: %s.%s", ErrColumnNotAllowed, t, c)
		}
	}
	return nil
}

type Op string

const (
	OpEq  Op = "="
	OpGte Op = ">="
	OpLte Op = "<="
)

// Filter is one typed predicate; filters are joined with AND.
type Filter struct {
	Field string
	Op    Op
	Value any
}

func Eq(field string, v any) Filter  { return Filter{Field: field, Op: OpEq, Value: v} }
func Gte(field string, v any) Filter { return Filter{Field: field, Op: OpGte, Value: v} }
func Lte(field string, v any) Filter { return Filter{Field: field, Op: OpLte, Value: v} }

type args []any

func (a *args) bind(v any) string {
	*a = append(*a, v)
	return "$" + strconv.Itoa(len(*a))
}

func buildWhere(t Table, filters []Filter, a *args) (string, error) {
	if len(filters) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		if err := checkColumns(t, f.Field); err != nil {
			return "", err
		}
		switch f.Op {
		case OpEq, OpGte, OpLte:
		default:
			return "", fmt.Errorf("unsupported operator %q", string(f.Op))
		}
		parts = append(parts, f.Field+" "+string(f.Op)+" "+a.bind(f.Value))
	}
	return " WHERE " + strings.Join(parts, " AND "), nil
}

func returning(t Table, cols []string) (string, error) {
	if len(cols) == 0 {
		return "", nil
	}
	if err := checkColumns(t, cols...); err != nil {
		return "", err
	}
	return " RETURNING " + strings.Join(cols, ", "), nil
}

type Select struct {
	Table     Table
	Columns   []string
	Filters   []Filter
	OrderBy   string
	Desc      bool
	Limit     int
	ForUpdate bool
}

func (q Select) Build() (string, []any, error) {
	if len(q.Columns) == 0 {
		return "", nil, errors.New("select: no columns")
	}
	if err := checkColumns(q.Table, q.Columns...); err != nil {
		return "", nil, err
	}
	var a args
	var b strings.Builder
	b.WriteString("SELECT " + strings.Join(q.Columns, ", ") + " FROM " + string(q.Table))
	where, err := buildWhere(q.Table, q.Filters, &a)
	if err != nil {
		return "", nil, err
	}
	b.WriteString(where)
	if q.OrderBy != "" {
		if err := checkColumns(q.Table, q.OrderBy); err != nil {
			return "", nil, err
		}
		b.WriteString(" ORDER BY " + q.OrderBy)
		if q.Desc {
			b.WriteString(" DESC")
		}
	}
	if q.Limit > 0 {
		b.WriteString(" LIMIT " + strconv.Itoa(q.Limit))
	}
	if q.ForUpdate {
		b.WriteString(" FOR UPDATE")
	}
	return b.String(), a, nil
}

type Insert struct {
	Table   Table
	Columns []string
	Values  []any
	// ConflictTarget without ConflictUpdate means ON CONFLICT DO NOTHING.
	ConflictTarget []string
	ConflictUpdate []string
	Returning      []string
}

func (q Insert) Build() (string, []any, error) {
	if len(q.Columns) == 0 || len(q.Columns) != len(q.Values) {
		return "", nil, fmt.Errorf("insert: %d columns for %d values", len(q.Columns), len(q.Values))
	}
	if err := checkColumns(q.Table, q.Columns...); err != nil {
		return "", nil, err
	}
	var a args
	placeholders := make([]string, len(q.Values))
	for i, v := range q.Values {
		placeholders[i] = a.bind(v)
	}
	var b strings.Builder
	b.WriteString("INSERT INTO " + string(q.Table) + " (" + strings.Join(q.Columns, ", ") + ") VALUES (" + strings.Join(placeholders, ", ") + ")")
	if len(q.ConflictTarget) > 0 {
		if err := checkColumns(q.Table, q.ConflictTarget...); err != nil {
			return "", nil, err
		}
		b.WriteString(" ON CONFLICT (" + strings.Join(q.ConflictTarget, ", ") + ")")
		if len(q.ConflictUpdate) == 0 {
			b.WriteString(" DO NOTHING")
		} else {
			if err := checkColumns(q.Table, q.ConflictUpdate...); err != nil {
				return "", nil, err
			}
			sets := make([]string, len(q.ConflictUpdate))
			for i, c := range q.ConflictUpdate {
				sets[i] = c + " = EXCLUDED." + c
			}
			b.WriteString(" DO UPDATE SET " + strings.Join(sets, ", "))
		}
	}
	ret, err := returning(q.Table, q.Returning)
	if err != nil {
		return "", nil, err
	}
	b.WriteString(ret)
	return b.String(), a, nil
}

// Assignment sets one column in an Update.
type Assignment struct {
	Column string
	Value  any
}

func Set(column string, v any) Assignment { return Assignment{Column: column, Value: v} }

type Update struct {
	Table     Table
	Set       []Assignment
	Filters   []Filter
	Returning []string
}

func (q Update) Build() (string, []any, error) {
	if len(q.Set) == 0 {
		return "", nil, errors.New("update: nothing to set")
	}
	if len(q.Filters) == 0 {
		return "", nil, errors.New("update: refusing to update without filters")
	}
	var a args
	sets := make([]string, len(q.Set))
	for i, s := range q.Set {
		if err := checkColumns(q.Table, s.Column); err != nil {
			return "", nil, err
		}
		sets[i] = s.Column + " = " + a.bind(s.Value)
	}
	where, err := buildWhere(q.Table, q.Filters, &a)
	if err != nil {
		return "", nil, err
	}
	ret, err := returning(q.Table, q.Returning)
	if err != nil {
		return "", nil, err
	}
	return "UPDATE " + string(q.Table) + " SET " + strings.Join(sets, ", ") + where + ret, a, nil
}
