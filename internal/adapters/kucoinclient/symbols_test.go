package kucoinclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSymbolConversion(t *testing.T) {
	tests := []struct {
		pair     string
		contract string
	}{
		{"BTCUSDT", "XBTUSDTM"},
		{"ETHUSDT", "ETHUSDTM"},
		{"HYPEUSDT", "HYPEUSDTM"},
		{"SOLUSDT", "SOLUSDTM"},
	}

	for _, tt := range tests {
		t.Run(tt.pair, func(t *testing.T) {
			assert.Equal(t, tt.contract, ToContract(tt.pair))
			assert.Equal(t, tt.pair, FromContract(tt.contract))
		})
	}
}

func TestHashOrderIDStable(t *testing.T) {
	a := hashOrderID("5f1234abcd9876")
	b := hashOrderID("5f1234abcd9876")
	c := hashOrderID("5f1234abcd9877")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.GreaterOrEqual(t, a, int64(0))
}
