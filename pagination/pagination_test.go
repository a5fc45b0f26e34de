package pagination

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/feerouter-go/errs"
	"github.com/bitfsorg/feerouter-go/policy"
)

func ids(from, n int) []policy.InvestorID {
	out := make([]policy.InvestorID, n)
	for i := range out {
		out[i] = policy.InvestorID{byte(from + i)}
	}
	return out
}

func TestCheck(t *testing.T) {
	st, err := Check(3, 5)
	require.NoError(t, err)
	assert.Equal(t, AlreadyProcessed, st)

	st, err = Check(5, 5)
	require.NoError(t, err)
	assert.Equal(t, Accepted, st)

	st, err = Check(7, 5)
	assert.Equal(t, Rejected, st)
	var ce *CursorError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, uint32(7), ce.Requested)
	assert.Equal(t, uint32(5), ce.Current)
	assert.ErrorIs(t, err, ErrInvalidPaginationCursor)
	assert.Equal(t, errs.Refetch, errs.ActionFor(err))
}

func TestPageValidate(t *testing.T) {
	last := policy.InvestorID{19}
	tests := []struct {
		name string
		page Page
		want error
	}{
		{"first full page", Page{Start: 0, Size: 20, Investors: ids(0, 20), InvestorCount: 55}, nil},
		{"final short page", Page{Start: 40, Size: 20, Investors: ids(40, 15), InvestorCount: 55, Last: &last}, nil},
		{"empty set", Page{Start: 0, Size: 20, InvestorCount: 0}, nil},
		{"zero size", Page{Size: 0}, ErrInvalidPageSize},
		{"size above max", Page{Size: 51}, ErrInvalidPageSize},
		{"too many", Page{Size: 2, Investors: ids(0, 3), InvestorCount: 3}, ErrPageTooLarge},
		{"out of range", Page{Start: 50, Size: 10, Investors: ids(50, 10), InvestorCount: 55}, ErrPageOutOfRange},
		{"short non-final", Page{Start: 0, Size: 20, Investors: ids(0, 10), InvestorCount: 55}, ErrShortPage},
		{"duplicate", Page{Size: 2, Investors: []policy.InvestorID{{1}, {1}}, InvestorCount: 2}, ErrInvestorOrder},
		{"descending", Page{Size: 2, Investors: []policy.InvestorID{{2}, {1}}, InvestorCount: 2}, ErrInvestorOrder},
		{"not after last", Page{Start: 20, Size: 20, Investors: ids(10, 20), InvestorCount: 40, Last: &last}, ErrInvestorOrder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.page.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPageEndFinal(t *testing.T) {
	p := Page{Start: 40, Size: 20, Investors: ids(40, 15), InvestorCount: 55}
	assert.Equal(t, uint32(55), p.End())
	assert.True(t, p.Final())
}

func TestBounds(t *testing.T) {
	assert.Equal(t, [][2]uint32{{0, 20}, {20, 40}, {40, 55}}, Bounds(55, 20))
	assert.Equal(t, [][2]uint32{{0, 20}, {20, 40}}, Bounds(40, 20))
	assert.Nil(t, Bounds(0, 20))
	assert.Nil(t, Bounds(10, 0))
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "accepted", Accepted.String())
	assert.Equal(t, "already-processed", AlreadyProcessed.String())
	assert.Equal(t, "rejected", Rejected.String())
}
