package types

import "errors"

var (
	ErrDoubleInit     = errors.New("type registry already initialised")
	ErrNotInitialised = errors.New("type registry not initialised")
	ErrUnknownType    = errors.New("unknown type")
	ErrRedefined      = errors.New("type redefined")
	ErrNotObject      = errors.New("not an object type")
	ErrNotNumeric     = errors.New("not a numerical type")
	ErrNotLambda      = errors.New("not a lambda type")
	ErrUndefinedClass = errors.New("class declared but not defined")
)
