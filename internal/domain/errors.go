package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks bad input: configuration, empty batches, malformed items.
	ErrValidation = errors.New("validation error")

	// ErrContent marks a document whose content could not be turned into transactions.
	ErrContent = errors.New("content error")

	// ErrNoTransactions is returned when extraction yields nothing.
	ErrNoTransactions = fmt.Errorf("%w: no transactions found", ErrContent)
)
