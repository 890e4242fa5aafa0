package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentity_Base64ID(t *testing.T) {
	id := New([6]byte{1, 2, 3, 4, 5, 6}, [16]byte{})
	assert.Equal(t, "AQIDBAUG", id.Base64ID())
}
