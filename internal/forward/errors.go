package forward

import "errors"

// ErrDisposed is returned when an operation is attempted on a
// controller that has been closed.
var ErrDisposed = errors.New("forward: controller is disposed")
