package romaneio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	for _, status := range Statuses {
		parsed, err := ParseStatus(string(status))
		require.NoError(t, err)
		require.Equal(t, status, parsed)

		byCode, err := ParseStatus(status.RemoteCode())
		require.NoError(t, err)
		require.Equal(t, status, byCode)
	}
	_, err := ParseStatus("X")
	require.ErrorIs(t, err, ErrInvalidStatus)
	_, err = ParseStatus("")
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestStatusLabels(t *testing.T) {
	require.Equal(t, "Open", StatusOpen.Label())
	require.Equal(t, "A", StatusOpen.RemoteCode())
	require.True(t, StatusFinalized.Terminal())
	require.False(t, StatusReceived.Terminal())
}

func TestGuards(t *testing.T) {
	cases := []struct {
		name      string
		r         Romaneio
		canVerify bool
		canDelete bool
	}{
		{name: "fresh pending", r: Romaneio{Status: StatusPending}, canVerify: true, canDelete: true},
		{name: "attempted pending", r: Romaneio{Status: StatusPending, AttemptCount: 1}, canVerify: true},
		{name: "exhausted", r: Romaneio{Status: StatusPending, AttemptCount: 3}},
		{name: "open", r: Romaneio{Status: StatusOpen, AttemptCount: 1}, canVerify: true},
		{name: "finalized", r: Romaneio{Status: StatusFinalized}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.canVerify, tc.r.CanVerify(3))
			require.Equal(t, tc.canDelete, tc.r.CanDelete())
		})
	}
}

func TestItemDiverges(t *testing.T) {
	require.True(t, Item{QuantityInvoiced: 1}.Diverges())
	require.True(t, Item{QuantityInvoiced: 1, QuantityCounted: int64Ptr(2)}.Diverges())
	require.False(t, Item{QuantityInvoiced: 2, QuantityCounted: int64Ptr(2)}.Diverges())
}

func TestListFilterNormalize(t *testing.T) {
	f := ListFilter{}.normalize()
	require.Equal(t, 1, f.Page)
	require.Equal(t, 10, f.PerPage)
	require.Equal(t, 0, f.offset())
	require.Equal(t, 20, ListFilter{Page: 3, PerPage: 10}.offset())
}
