package table

import "errors"

var (
	// ErrUnknownColumn indicates a reference to a column the table does not have.
	ErrUnknownColumn = errors.New("unknown column")
	// ErrTypeMismatch indicates a value or operation incompatible with a column kind.
	ErrTypeMismatch = errors.New("type mismatch")
	// ErrDuplicateColumn indicates two columns with the same name.
	ErrDuplicateColumn = errors.New("duplicate column")
	// ErrLengthMismatch indicates columns with different row counts.
	ErrLengthMismatch = errors.New("column length mismatch")
)
