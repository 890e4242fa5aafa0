package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidAppKey(t *testing.T) {
	cases := map[string]bool{
		"APP00001":       true,
		"app_00001":      true,
		"":               false,
		"APP 00001":      false,
		"APP;DROP TABLE": false,
		"APP00001--":     false,
	}
	for key, want := range cases {
		assert.Equal(t, want, ValidAppKey(key), "ValidAppKey(%q)", key)
	}
}
