package reporter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressBar(t *testing.T) {
	tests := []struct {
		name    string
		percent int
		width   int
		want    string
	}{
		{"empty", 0, 20, "[                    ]"},
		{"full", 100, 20, "[====================]"},
		{"half", 50, 20, "[==========          ]"},
		{"quarter", 25, 20, "[=====               ]"},
		{"rounds down", 50, 5, "[==   ]"},
		{"negative clamps to zero", -10, 10, "[          ]"},
		{"over 100 clamps", 150, 10, "[==========]"},
		{"zero width", 50, 0, "[]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ProgressBar(tt.percent, tt.width))
		})
	}
}
