package main

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mcclellann/oliveMill/pkg/models"
	"github.com/mcclellann/oliveMill/pkg/settlement"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type containerLineRequest struct {
	Kind  string `json:"kind" validate:"required,oneof=plastic metal"`
	Count int64  `json:"count" validate:"gte=0"`
}

type settlementRequest struct {
	OilAmount   decimal.Decimal        `json:"oil_amount"`
	Containers  []containerLineRequest `json:"containers" validate:"max=2,dive"`
	PaymentMode string                 `json:"payment_mode" validate:"required,oneof=oil cash mixed"`
	Notes       string                 `json:"notes" validate:"max=500"`
}

func (r settlementRequest) containers() []models.ContainerLine {
	lines := make([]models.ContainerLine, 0, len(r.Containers))
	for _, c := range r.Containers {
		lines = append(lines, models.ContainerLine{Kind: models.ContainerKind(c.Kind), Count: c.Count})
	}
	return lines
}

type queueRequest struct {
	CustomerID   string `json:"customer_id" validate:"max=64"`
	CustomerName string `json:"customer_name" validate:"required,max=120"`
	Phone        string `json:"phone" validate:"omitempty,max=32"`
	Notes        string `json:"notes" validate:"max=500"`
}

type tradeRequest struct {
	Kind         string          `json:"kind" validate:"required,oneof=buy sell"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Counterparty string          `json:"counterparty" validate:"max=120"`
	Notes        string          `json:"notes" validate:"max=500"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateRequest reports the first failing field as a settlement.FieldError so the client
// gets the same field-addressed shape as calculator validation.
func validateRequest(v *validator.Validate, req any) error {
	err := v.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return errors.Wrap(err, "validate request")
	}
	first := verrs[0]
	field := first.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	return &settlement.FieldError{Field: field, Reason: reasonFor(first), Err: settlement.ErrInvalidInput}
}

func reasonFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	default:
		return "failed " + fe.Tag() + " validation"
	}
}
