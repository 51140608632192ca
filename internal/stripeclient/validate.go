package stripeclient

import (
	"errors"
	"fmt"

	stripe "github.com/stripe/stripe-go/v82"
	stripeapi "github.com/stripe/stripe-go/v82/client"

	"bursar/pkg/models"
)

// ValidateAPIKey checks a candidate API key with a cheap balance retrieve
// before a credential is persisted. Invalid keys map to ErrAuthExpired so the
// connect flow reports the same taxonomy as sync.
func ValidateAPIKey(apiKey string) error {
	sc := &stripeapi.API{}
	sc.Init(apiKey, nil)

	if _, err := sc.Balance.Get(&stripe.BalanceParams{}); err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == 401 {
			return fmt.Errorf("api key rejected: %w", models.ErrAuthExpired)
		}
		return fmt.Errorf("api key validation: %w", err)
	}
	return nil
}
