package sale_test

import (
	"encoding/json"
	"testing"

	"github.com/Mohsinsiddi/w3sale/internal/sale"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateJSONRoundTrip(t *testing.T) {
	s := deployed(t)
	require.NoError(t, s.AddMultipleWhitelist(by(admin), []common.Address{alice, bob}))
	_, err := s.BuyTokens(paying(alice, 1234))
	require.NoError(t, err)
	s.Payments[common.HexToHash("0xbeef")] = struct{}{}

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var got sale.State
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, s, &got)
}

func TestStateJSONAmountsAreDecimalStrings(t *testing.T) {
	s := deployed(t)
	data, err := json.Marshal(s)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "42000", raw["individual_cap"])
	assert.Equal(t, "84000", raw["maximum_raise"])
	assert.Equal(t, "0", raw["amount_raised"])
}

func TestStateJSONRejectsBadContribution(t *testing.T) {
	tests := map[string]string{
		"bad address": `{"contributions":{"nope":"1"}}`,
		"bad amount":  `{"contributions":{"0x00000000000000000000000000000000000000a1":"x"}}`,
		"bad cap":     `{"individual_cap":"-1"}`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			var s sale.State
			assert.Error(t, json.Unmarshal([]byte(doc), &s))
		})
	}
}

func TestParseAmount(t *testing.T) {
	v, err := sale.ParseAmount("42000")
	require.NoError(t, err)
	assert.Equal(t, "42000", v.Dec())

	v, err = sale.ParseAmount("0xa410")
	require.NoError(t, err)
	assert.Equal(t, "42000", v.Dec())

	for _, bad := range []string{"", "-5", "1.5", "0xzz"} {
		_, err := sale.ParseAmount(bad)
		assert.Error(t, err, bad)
	}
}

func TestKindCodes(t *testing.T) {
	want := []string{"NotAdmin", "RequirementNotMet", "SalePaused", "SaleEnded", "NotWhitelisted", "InidividualExceed", "MaxExceed"}
	kinds := sale.Kinds()
	require.Len(t, kinds, len(want))
	for i, k := range kinds {
		assert.Equal(t, want[i], k.String())
		parsed, ok := sale.ParseKind(want[i])
		require.True(t, ok)
		assert.Equal(t, k, parsed)
	}
	_, ok := sale.ParseKind("IndividualExceed")
	assert.False(t, ok)
}

func TestErrorMatchesByKind(t *testing.T) {
	s := deployed(t)
	err := s.PauseSale(by(bob))

	assert.ErrorIs(t, err, sale.ErrNotAdmin)
	assert.NotErrorIs(t, err, sale.ErrSalePaused)
	assert.Contains(t, err.Error(), "NotAdmin")

	kind, ok := sale.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, sale.NotAdmin, kind)

	_, ok = sale.KindOf(sale.ErrDispatchFailed)
	assert.False(t, ok)
}
