package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionFallsBackToDev(t *testing.T) {
	old := CommitHash
	t.Cleanup(func() { CommitHash = old })

	CommitHash = ""
	assert.Equal(t, "dev", Version())

	CommitHash = "a1b2c3d"
	assert.Equal(t, "a1b2c3d", Version())
	assert.Equal(t, "a1b2c3d", Fields()["version"])
	assert.NotEmpty(t, Fields()["started"])
}
