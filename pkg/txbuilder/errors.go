package txbuilder

import "fmt"

type InsufficientFundsError struct {
	Required  int64
	Available int64
}

var _ error = (*InsufficientFundsError)(nil)

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: need %d, have %d", e.Required, e.Available)
}
