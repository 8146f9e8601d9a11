package engine

// MaxColumnCount defines the maximum number of columns allowed in a table
const MaxColumnCount = 2000

// ValidateColumnCount checks if the number of columns is within acceptable limits
func ValidateColumnCount(columnCount int) error {
	if columnCount > MaxColumnCount {
		return ErrTooManyColumns
	}
	return nil
}
