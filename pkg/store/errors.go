package store

import "errors"

var (
	// ErrCorruptArray marks an array file that exists but cannot be decoded.
	ErrCorruptArray = errors.New("corrupt array file")
	// ErrWidthMismatch marks a row whose width differs from the stored array.
	ErrWidthMismatch = errors.New("row width mismatch")
	// ErrInvalidNoise marks noise line numbers that would break the partition
	// of original lines (out of order, duplicated, or already classified).
	ErrInvalidNoise = errors.New("invalid noise line numbers")
	// ErrResumeInconsistency marks arrays that disagree with the last
	// committed manifest entry, e.g. after a torn flush or a manual edit.
	ErrResumeInconsistency = errors.New("resume inconsistency")
	// ErrStoreLocked marks a dataset already opened by another writer.
	ErrStoreLocked = errors.New("store locked by another writer")
	// ErrUnknownFormat marks an unsupported storage.format value.
	ErrUnknownFormat = errors.New("unknown storage format")
)
