package engine

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownDatasetID                   = errors.New("unknown dataset id")
	ErrDatasetLoadingInfoProviderMismatch = errors.New("dataset metadata has an unexpected loading info type")
	ErrUnknownOperator                    = errors.New("unknown operator")
	ErrOperatorAlreadyRegistered          = errors.New("operator already registered")
	ErrQueryProcessorTypeMismatch         = errors.New("query processor has a different type")
	ErrEmptyDispatch                      = errors.New("no handler for type")
)

// InvalidNumberOfRasterInputsError is returned when an operator gets too few or too many raster sources.
type InvalidNumberOfRasterInputsError struct {
	Expected [2]int
	Found    int
}

func (e InvalidNumberOfRasterInputsError) Error() string {
	return fmt.Sprintf("invalid number of raster inputs: expected %d..%d, found %d", e.Expected[0], e.Expected[1], e.Found)
}

type InvalidNumberOfVectorInputsError struct {
	Expected [2]int
	Found    int
}

func (e InvalidNumberOfVectorInputsError) Error() string {
	return fmt.Sprintf("invalid number of vector inputs: expected %d..%d, found %d", e.Expected[0], e.Expected[1], e.Found)
}

type InvalidOperatorSpecError struct {
	Reason string
}

func (e InvalidOperatorSpecError) Error() string {
	return "invalid operator specification: " + e.Reason
}

type ColumnDoesNotExistError struct {
	Column string
}

func (e ColumnDoesNotExistError) Error() string {
	return fmt.Sprintf(`column "%s" does not exist`, e.Column)
}

// InvalidTypeError reports a value of an unexpected type.
type InvalidTypeError struct {
	Expected string
	Found    string
}

func (e InvalidTypeError) Error() string {
	return fmt.Sprintf("invalid type: expected %s, found %s", e.Expected, e.Found)
}

// CheckRasterSources validates the number of raster sources against the inclusive range.
func CheckRasterSources(n, lo, hi int) error {
	if n < lo || n > hi {
		return InvalidNumberOfRasterInputsError{Expected: [2]int{lo, hi}, Found: n}
	}
	return nil
}

func CheckVectorSources(n, lo, hi int) error {
	if n < lo || n > hi {
		return InvalidNumberOfVectorInputsError{Expected: [2]int{lo, hi}, Found: n}
	}
	return nil
}
