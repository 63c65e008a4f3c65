package executor

import (
	"context"
	"errors"
	"fmt"

	"digit-trader/internal/deriv"
	"digit-trader/internal/session"
)

// Category is the failure class recorded on a trade.
type Category string

// Failure categories
const (
	CategoryInsufficientBalance Category = "insufficient_balance"
	CategoryInvalidSymbol       Category = "invalid_symbol"
	CategoryMarketClosed        Category = "market_closed"
	CategoryInvalidContract     Category = "invalid_contract"
	CategoryAuthorization       Category = "authorization"
	CategoryTimeout             Category = "timeout"
	CategoryConnectionLost      Category = "connection_lost"
	CategoryOther               Category = "other"
)

// Executor errors.
var (
	ErrInvalidIntent   = errors.New("invalid trade intent")
	ErrUnexpectedReply = errors.New("unexpected reply")
	ErrWithdrawn       = errors.New("trade withdrawn while waiting for a slot")
)

var codeCategories = map[string]Category{
	"InsufficientBalance":        CategoryInsufficientBalance,
	"InvalidSymbol":              CategoryInvalidSymbol,
	"MarketIsClosed":             CategoryMarketClosed,
	"InvalidContractType":        CategoryInvalidContract,
	"ContractBuyValidationError": CategoryInvalidContract,
	"ContractCreationFailure":    CategoryInvalidContract,
	"InvalidToken":               CategoryAuthorization,
	"AuthorizationRequired":      CategoryAuthorization,
}

var categoryLabels = map[Category]string{
	CategoryInsufficientBalance: "insufficient balance",
	CategoryInvalidSymbol:       "invalid symbol",
	CategoryMarketClosed:        "market closed",
	CategoryInvalidContract:     "invalid contract",
	CategoryAuthorization:       "authorization error",
	CategoryTimeout:             "request timed out",
	CategoryConnectionLost:      "connection lost",
}

// Classify maps a failure onto its category and the message recorded on
// the trade.
func Classify(err error) (Category, string) {
	if err == nil {
		return "", ""
	}

	var apiErr *deriv.APIError
	if errors.As(err, &apiErr) {
		cat, ok := codeCategories[apiErr.Code]
		if !ok {
			return CategoryOther, apiErr.Error()
		}
		return cat, fmt.Sprintf("%s: %s", categoryLabels[cat], apiErr.Message)
	}

	switch {
	case errors.Is(err, deriv.ErrRequestTimeout), errors.Is(err, context.DeadlineExceeded):
		return CategoryTimeout, categoryLabels[CategoryTimeout]
	case errors.Is(err, deriv.ErrConnectionLost), errors.Is(err, session.ErrNotConnected),
		errors.Is(err, deriv.ErrClosed), errors.Is(err, session.ErrClosed):
		return CategoryConnectionLost, categoryLabels[CategoryConnectionLost]
	case errors.Is(err, session.ErrAuthorization):
		return CategoryAuthorization, err.Error()
	}
	return CategoryOther, err.Error()
}
