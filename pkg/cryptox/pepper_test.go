package cryptox

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPepperIsCreatedOnceAndReloaded(t *testing.T) {
	file := filepath.Join(t.TempDir(), "keys", "pepper")

	first, err := loadOrCreatePepper(file)
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	second, err := loadOrCreatePepper(file)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPepperFilesDiffer(t *testing.T) {
	dir := t.TempDir()

	a, err := loadOrCreatePepper(filepath.Join(dir, "a"))
	require.NoError(t, err)
	b, err := loadOrCreatePepper(filepath.Join(dir, "b"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}
