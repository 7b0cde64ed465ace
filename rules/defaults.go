package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Rule groups used by the storefront
const (
	GroupOrder    = "order"
	GroupPayment  = "payment"
	GroupProduct  = "product"
	GroupCustomer = "customer"
)

// Entity and context field names read by the default rules
const (
	FieldOrderTotal    = "total_amount_usd"
	FieldProductPrice  = "price"
	FieldPaymentAmount = "amount"
	FieldIsNewCustomer = "isNewCustomer"
	ContextItems       = "items"
	ContextOrderAmount = "orderAmount"
	ContextDelivery    = "deliveryTime"
	ContextPayment     = "paymentData"
	ContextCustomer    = "customerData"
)

// Clock returns the current time. Tests pin it.
type Clock func() time.Time

var (
	minOrderAmount        = decimal.NewFromInt(1)
	maxOrderAmount        = decimal.RequireFromString("10000.01") // cent of headroom for float rounding
	maxItemsPerOrder      = 50
	deliveryOpensAt       = 8
	deliveryClosesAt      = 20
	minProductPrice       = decimal.NewFromInt(5)
	maxProductPrice       = decimal.NewFromInt(1000)
	minPaymentAmount      = decimal.NewFromInt(1)
	maxPaymentAmount      = decimal.NewFromInt(5000)
	newCustomerReviewOver = decimal.NewFromInt(100)
)

type defaultRule struct {
	group string
	name  string
	spec  RuleSpec
}

// RegisterDefaultRules seeds store with the storefront rule set. A nil clock uses time.Now.
func RegisterDefaultRules(store *Store, clock Clock) error {
	if clock == nil {
		clock = time.Now
	}

	for _, d := range defaultRules(clock) {
		if err := store.AddRule(d.group, d.name, d.spec); err != nil {
			return fmt.Errorf("failed to register default rule %s: %w", RuleID(d.group, d.name), err)
		}
	}
	return nil
}

func defaultRules(clock Clock) []defaultRule {
	return []defaultRule{
		{GroupOrder, "minimum_order_amount", RuleSpec{
			Type:        TypeBusiness,
			Severity:    SeverityLow,
			Description: "Orders below the minimum amount are flagged",
			Condition:   amountAtLeast(FieldOrderTotal, minOrderAmount),
			Message: Template(func(e Entity, _ Context) string {
				return fmt.Sprintf("Order total %s is below the minimum of %s",
					formatUSD(FieldAmountOrZero(e, FieldOrderTotal)), formatUSD(minOrderAmount))
			}),
			Context: map[string]any{"minimumAmountUsd": minOrderAmount.InexactFloat64()},
		}},
		{GroupOrder, "maximum_order_amount", RuleSpec{
			Type:        TypeRisk,
			Severity:    SeverityHigh,
			Description: "Orders above the maximum amount are rejected",
			Condition:   amountAtMost(FieldOrderTotal, maxOrderAmount),
			Message: Template(func(e Entity, _ Context) string {
				return fmt.Sprintf("Order total %s exceeds the maximum of $10000.00",
					formatUSD(FieldAmountOrZero(e, FieldOrderTotal)))
			}),
			Context: map[string]any{"maximumAmountUsd": 10000},
		}},
		{GroupOrder, "maximum_items_per_order", RuleSpec{
			Type:        TypeBusiness,
			Severity:    SeverityMedium,
			Description: "Orders may contain a limited number of line items",
			Condition: func(_ context.Context, _ Entity, rc Context) (bool, error) {
				return SliceLen(rc[ContextItems]) <= maxItemsPerOrder, nil
			},
			Message: Template(func(_ Entity, rc Context) string {
				return fmt.Sprintf("Order has %d items, the maximum is %d", SliceLen(rc[ContextItems]), maxItemsPerOrder)
			}),
			Context: map[string]any{"maximumItems": maxItemsPerOrder},
		}},
		{GroupOrder, "business_hours_delivery", RuleSpec{
			Type:        TypeBusiness,
			Severity:    SeverityLow,
			Description: "Deliveries are scheduled during business hours",
			Condition: func(_ context.Context, _ Entity, rc Context) (bool, error) {
				at, err := deliveryTime(rc, clock)
				if err != nil {
					return false, err
				}
				hour := at.Hour()
				return hour >= deliveryOpensAt && hour <= deliveryClosesAt, nil
			},
			Message: Literal(fmt.Sprintf("Delivery is only available between %d:00 and %d:00", deliveryOpensAt, deliveryClosesAt)),
			Context: map[string]any{"opensAt": deliveryOpensAt, "closesAt": deliveryClosesAt},
		}},
		{GroupProduct, "minimum_price", RuleSpec{
			Type:        TypeValidation,
			Severity:    SeverityHigh,
			Description: "Products must be priced at or above the minimum",
			Condition:   amountAtLeast(FieldProductPrice, minProductPrice),
			Message: Template(func(e Entity, _ Context) string {
				return fmt.Sprintf("Product price %s is below the minimum of %s",
					formatUSD(FieldAmountOrZero(e, FieldProductPrice)), formatUSD(minProductPrice))
			}),
			Context: map[string]any{"minimumPriceUsd": minProductPrice.InexactFloat64()},
		}},
		{GroupProduct, "maximum_price", RuleSpec{
			Type:        TypeValidation,
			Severity:    SeverityMedium,
			Description: "Products must be priced at or below the maximum",
			Condition:   amountAtMost(FieldProductPrice, maxProductPrice),
			Message: Template(func(e Entity, _ Context) string {
				return fmt.Sprintf("Product price %s exceeds the maximum of %s",
					formatUSD(FieldAmountOrZero(e, FieldProductPrice)), formatUSD(maxProductPrice))
			}),
			Context: map[string]any{"maximumPriceUsd": maxProductPrice.InexactFloat64()},
		}},
		{GroupPayment, "minimum_payment_amount", RuleSpec{
			Type:        TypeValidation,
			Severity:    SeverityMedium,
			Description: "Payments below the minimum amount are rejected",
			Condition:   amountAtLeast(FieldPaymentAmount, minPaymentAmount),
			Message:     Literal(fmt.Sprintf("Payment amount must be at least %s", formatUSD(minPaymentAmount))),
			Context:     map[string]any{"minimumAmountUsd": minPaymentAmount.InexactFloat64()},
		}},
		{GroupPayment, "maximum_payment_amount", RuleSpec{
			Type:        TypeRisk,
			Severity:    SeverityHigh,
			Description: "Payments above the maximum amount are rejected",
			Condition:   amountAtMost(FieldPaymentAmount, maxPaymentAmount),
			Message:     Literal(fmt.Sprintf("Payment amount must not exceed %s", formatUSD(maxPaymentAmount))),
			Context:     map[string]any{"maximumAmountUsd": maxPaymentAmount.InexactFloat64()},
		}},
		{GroupCustomer, "new_customer_verification", RuleSpec{
			Type:        TypeCompliance,
			Severity:    SeverityHigh,
			Description: "Large orders from new customers need manual verification",
			Condition: func(_ context.Context, e Entity, rc Context) (bool, error) {
				isNew, _ := e[FieldIsNewCustomer].(bool)
				return !(isNew && FieldAmountOrZero(rc, ContextOrderAmount).GreaterThan(newCustomerReviewOver)), nil
			},
			Message: Template(func(_ Entity, rc Context) string {
				return fmt.Sprintf("Orders over %s from new customers require manual verification (order total %s)",
					formatUSD(newCustomerReviewOver), formatUSD(FieldAmountOrZero(rc, ContextOrderAmount)))
			}),
			Context: map[string]any{"verificationThresholdUsd": newCustomerReviewOver.InexactFloat64()},
		}},
	}
}

func amountAtLeast(field string, minimum decimal.Decimal) Condition {
	return func(_ context.Context, e Entity, _ Context) (bool, error) {
		amount, err := FieldAmount(e, field)
		if err != nil {
			return false, err
		}
		return amount.GreaterThanOrEqual(minimum), nil
	}
}

func amountAtMost(field string, maximum decimal.Decimal) Condition {
	return func(_ context.Context, e Entity, _ Context) (bool, error) {
		amount, err := FieldAmount(e, field)
		if err != nil {
			return false, err
		}
		return amount.LessThanOrEqual(maximum), nil
	}
}

func deliveryTime(rc Context, clock Clock) (time.Time, error) {
	switch v := rc[ContextDelivery].(type) {
	case nil:
		return clock(), nil
	case time.Time:
		return v, nil
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("%s: %w", ContextDelivery, err)
		}
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("%s has unsupported type %T", ContextDelivery, v)
	}
}
