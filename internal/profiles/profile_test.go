package profiles

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	assert.Equal(t, "my_profile", Sanitize("My Profile"))
	assert.Equal(t, "gaming-oc_v2.1", Sanitize("Gaming-OC v2.1"))
	// path separators are dropped, traversal cannot escape the store dir
	assert.Equal(t, "....etcpasswd", Sanitize("../../etc/passwd"))
	assert.Equal(t, "rm_-rf", Sanitize("rm -rf /"))
	assert.Equal(t, "", Sanitize("///"))
	assert.Equal(t, "quiet", Sanitize("  Quiet  "))
}

func TestSanitize_Collision(t *testing.T) {
	// distinct display names can map to the same identifier
	assert.Equal(t, Sanitize("My Profile"), Sanitize("my profile"))
	assert.Equal(t, Sanitize("a/b"), Sanitize("ab"))
}

func TestBuiltins(t *testing.T) {
	builtins := Builtins()
	assert.Len(t, builtins, 3)

	names := make([]string, 0, len(builtins))
	for _, b := range builtins {
		names = append(names, b.Name)
	}
	assert.Equal(t, []string{"Stock", "Quiet", "Performance"}, names)

	stock := builtins[0]
	assert.Equal(t, 0, *stock.CoreOffsetMHz)
	assert.Equal(t, 0, *stock.MemoryOffsetMHz)
	assert.Equal(t, FanModeAuto, stock.FanMode)
}
