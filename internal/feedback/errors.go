package feedback

import "errors"

var (
	// ErrInsufficientData indicates a section had fewer samples than the
	// configured minimum. The section is skipped, never fabricated.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrDegenerateInput indicates an empty corpus or a zero-variance series.
	// Results degrade to empty sets.
	ErrDegenerateInput = errors.New("degenerate input")

	// ErrInvalidRecord indicates a record failed validation on import.
	ErrInvalidRecord = errors.New("invalid record")
)
