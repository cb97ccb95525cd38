package orders

import "errors"

var (
	// ErrOrderNotFound means no order exists for the given reference or
	// checkout id. On the webhook path this is an operational alarm: the
	// linkage between session creation and the notification is lost.
	ErrOrderNotFound = errors.New("order not found")

	// ErrOrderAlreadyFinal means the order is in failed or cancelled and a
	// later success notification arrived. The order is not reopened.
	ErrOrderAlreadyFinal = errors.New("order already in terminal failure state")

	ErrProductNotFound   = errors.New("product not found")
	ErrProductInactive   = errors.New("product no longer active")
	ErrInsufficientStock = errors.New("insufficient stock")
)
