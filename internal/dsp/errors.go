package dsp

import "errors"

// ErrEmptyInput is returned when an estimator receives a zero-length sequence.
// The mean of an empty sequence is undefined, so neither delay nor phase can be estimated.
var ErrEmptyInput = errors.New("dsp: empty input")
