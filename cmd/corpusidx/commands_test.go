package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corpusidx/internal/config"
	"corpusidx/pkg/converter"
)

func TestKindsFor(t *testing.T) {
	kinds, err := kindsFor("all")
	require.NoError(t, err)
	assert.Equal(t, config.DatasetKinds, kinds)

	kinds, err = kindsFor("val")
	require.NoError(t, err)
	assert.Equal(t, []string{"val"}, kinds)

	_, err = kindsFor("dev")
	assert.ErrorIs(t, err, converter.ErrUnknownDatasetKind)
}
