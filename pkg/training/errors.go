package training

import "errors"

// ErrCorruptCheckpoint marks a checkpoint or stats file that cannot be restored.
var ErrCorruptCheckpoint = errors.New("corrupt training checkpoint")
