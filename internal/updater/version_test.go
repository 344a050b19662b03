package updater

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsGreaterVersion(t *testing.T) {
	tests := []struct {
		remote, local string
		want          bool
	}{
		{"1.0.1", "1.0.0", true},
		{"1.0.0", "1.0.0", false},
		{"1.0.0", "1.0.1", false},
		{"2.0", "1.9.9.9", true},
		{"1.10", "1.9", true},
		{"1.0.0.1", "1.0.0", true},
		{"1.0.0.0.5", "1.0.0.0", false},
		{"1.0", "", true},
		{"", "", false},
		{"1.a.3", "1.0.2", true},
		{"beta", "0", false},
		{"202405011200", "202404301200", true},
	}

	for _, tt := range tests {
		t.Run(tt.remote+"_vs_"+tt.local, func(t *testing.T) {
			assert.Equal(t, tt.want, IsGreaterVersion(tt.remote, tt.local))
		})
	}
}
