// Package convert maps domain values to and from the structpb messages of the gRPC API.
package convert

import (
	"fmt"
	"math"
	"time"

	u "github.com/gofrs/uuid/v5"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/bookloan/internal/errs"
	model "github.com/and161185/bookloan/internal/model"
	"github.com/and161185/bookloan/internal/policy"
)

// --- helpers ---

func str(s string) *structpb.Value { return structpb.NewStringValue(s) }
func num(n int64) *structpb.Value  { return structpb.NewNumberValue(float64(n)) }

// ts renders t as RFC3339 with nanoseconds; the zero time becomes null.
func ts(t time.Time) *structpb.Value {
	if t.IsZero() {
		return structpb.NewNullValue()
	}
	return str(t.UTC().Format(time.RFC3339Nano))
}

func list(vs []*structpb.Value) *structpb.Value {
	return structpb.NewListValue(&structpb.ListValue{Values: vs})
}

func obj(fields map[string]*structpb.Value) *structpb.Struct {
	return &structpb.Struct{Fields: fields}
}

// --- Loan ---

// ToStructLoan renders a loan; display_status is derived against now.
func ToStructLoan(l model.Loan, now time.Time) *structpb.Struct {
	return obj(map[string]*structpb.Value{
		"id":             str(l.ID.String()),
		"book_id":        str(l.BookID.String()),
		"user_id":        str(l.UserID.String()),
		"status":         str(string(l.Status)),
		"display_status": str(string(l.DisplayStatus(now))),
		"borrowed_at":    ts(l.BorrowedAt),
		"due_date":       ts(l.DueDate),
		"returned_at":    ts(l.ReturnedAt),
		"renewal_count":  num(int64(l.RenewalCount)),
		"justification":  str(l.Justification),
		"admin_notes":    str(l.AdminNotes),
		"requested_at":   ts(l.RequestedAt),
		"created_at":     ts(l.CreatedAt),
		"version":        num(l.Version),
	})
}

// ToStructLoans wraps loans as {"loans": [...]}.
func ToStructLoans(ls []model.Loan, now time.Time) *structpb.Struct {
	vs := make([]*structpb.Value, 0, len(ls))
	for _, l := range ls {
		vs = append(vs, structpb.NewStructValue(ToStructLoan(l, now)))
	}
	return obj(map[string]*structpb.Value{"loans": list(vs)})
}

// --- Stock ---

// ToStructStock renders the counters of a book.
func ToStructStock(s model.BookStock) *structpb.Struct {
	return obj(map[string]*structpb.Value{
		"book_id":            str(s.BookID.String()),
		"stock_for_loan":     num(int64(s.StockForLoan)),
		"available_for_loan": num(int64(s.AvailableForLoan)),
		"stock_for_sale":     num(int64(s.StockForSale)),
		"available_for_sale": num(int64(s.AvailableForSale)),
		"updated_at":         ts(s.UpdatedAt),
	})
}

// --- Sale ---

// ToStructSale renders a sale.
func ToStructSale(s model.Sale) *structpb.Struct {
	return obj(map[string]*structpb.Value{
		"id":           str(s.ID.String()),
		"book_id":      str(s.BookID.String()),
		"user_id":      str(s.UserID.String()),
		"quantity":     num(int64(s.Quantity)),
		"amount_cents": num(s.AmountCents),
		"payment":      str(string(s.Payment)),
		"created_at":   ts(s.CreatedAt),
		"resolved_at":  ts(s.ResolvedAt),
		"version":      num(s.Version),
	})
}

// --- Pending ---

// ToStructPending wraps the admin queue as {"items": [...]}.
func ToStructPending(items []model.PendingItem) *structpb.Struct {
	vs := make([]*structpb.Value, 0, len(items))
	for _, it := range items {
		vs = append(vs, structpb.NewStructValue(obj(map[string]*structpb.Value{
			"kind":          str(string(it.Kind)),
			"ref_id":        str(it.RefID.String()),
			"book_id":       str(it.BookID.String()),
			"book_title":    str(it.BookTitle),
			"user_id":       str(it.UserID.String()),
			"user_name":     str(it.UserName),
			"user_email":    str(it.UserEmail),
			"requested_at":  ts(it.RequestedAt),
			"justification": str(it.Justification),
			"renewal_count": num(int64(it.RenewalCount)),
			"quantity":      num(int64(it.Quantity)),
			"amount_cents":  num(it.AmountCents),
		})))
	}
	return obj(map[string]*structpb.Value{"items": list(vs)})
}

// --- Settings ---

// ToStructSettings renders the business rules.
func ToStructSettings(s policy.Settings) *structpb.Struct {
	return obj(map[string]*structpb.Value{
		"max_simultaneous_loans": num(int64(s.MaxSimultaneousLoans)),
		"loan_duration_days":     num(int64(s.LoanDurationDays)),
		"max_renewals":           num(int64(s.MaxRenewals)),
		"renewal_duration_days":  num(int64(s.RenewalDurationDays)),
	})
}

// FromStructSettings reads rules from r; absent fields keep the values of base.
func FromStructSettings(r Fields, base policy.Settings) (policy.Settings, error) {
	var err error
	read := func(name string, dst *int) {
		if err != nil || !r.Has(name) {
			return
		}
		*dst, err = r.Int(name)
	}
	read("max_simultaneous_loans", &base.MaxSimultaneousLoans)
	read("loan_duration_days", &base.LoanDurationDays)
	read("max_renewals", &base.MaxRenewals)
	read("renewal_duration_days", &base.RenewalDurationDays)
	return base, err
}

// --- request fields ---

// Fields reads typed request parameters from a Struct. Missing or mistyped fields
// yield errs.ErrValidation.
type Fields struct{ s *structpb.Struct }

// NewFields wraps s; nil reads as an empty request.
func NewFields(s *structpb.Struct) Fields { return Fields{s: s} }

// Has reports whether name is present and not null.
func (f Fields) Has(name string) bool {
	v, ok := f.s.GetFields()[name]
	if !ok {
		return false
	}
	_, null := v.GetKind().(*structpb.Value_NullValue)
	return !null
}

// String returns the string field name, or "" if absent.
func (f Fields) String(name string) (string, error) {
	if !f.Has(name) {
		return "", nil
	}
	v, ok := f.s.GetFields()[name].GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", errs.ErrValidation, name)
	}
	return v.StringValue, nil
}

// UUID returns the required UUID field name.
func (f Fields) UUID(name string) (u.UUID, error) {
	s, err := f.String(name)
	if err != nil {
		return u.Nil, err
	}
	if s == "" {
		return u.Nil, fmt.Errorf("%w: %s is required", errs.ErrValidation, name)
	}
	id, err := u.FromString(s)
	if err != nil {
		return u.Nil, fmt.Errorf("%w: %s: %v", errs.ErrValidation, name, err)
	}
	return id, nil
}

// Int returns the integral number field name, or 0 if absent.
func (f Fields) Int(name string) (int, error) {
	n, err := f.Int64(name)
	if err != nil {
		return 0, err
	}
	if n > math.MaxInt32 || n < math.MinInt32 {
		return 0, fmt.Errorf("%w: %s out of range", errs.ErrValidation, name)
	}
	return int(n), nil
}

// Int64 returns the integral number field name, or 0 if absent.
func (f Fields) Int64(name string) (int64, error) {
	if !f.Has(name) {
		return 0, nil
	}
	v, ok := f.s.GetFields()[name].GetKind().(*structpb.Value_NumberValue)
	if !ok || v.NumberValue != math.Trunc(v.NumberValue) || math.Abs(v.NumberValue) > 1<<53 {
		return 0, fmt.Errorf("%w: %s must be an integer", errs.ErrValidation, name)
	}
	return int64(v.NumberValue), nil
}

// Bool returns the boolean field name, or false if absent.
func (f Fields) Bool(name string) (bool, error) {
	if !f.Has(name) {
		return false, nil
	}
	v, ok := f.s.GetFields()[name].GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return false, fmt.Errorf("%w: %s must be a boolean", errs.ErrValidation, name)
	}
	return v.BoolValue, nil
}

// Statuses returns the optional list of loan statuses in field name.
func (f Fields) Statuses(name string) ([]model.LoanStatus, error) {
	if !f.Has(name) {
		return nil, nil
	}
	lv, ok := f.s.GetFields()[name].GetKind().(*structpb.Value_ListValue)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a list", errs.ErrValidation, name)
	}
	out := make([]model.LoanStatus, 0, len(lv.ListValue.GetValues()))
	for _, v := range lv.ListValue.GetValues() {
		st, ok := model.ParseLoanStatus(v.GetStringValue())
		if !ok {
			return nil, fmt.Errorf("%w: unknown status %q", errs.ErrValidation, v.GetStringValue())
		}
		out = append(out, st)
	}
	return out, nil
}
