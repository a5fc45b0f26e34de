package vesting

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/feerouter-go/errs"
	"github.com/bitfsorg/feerouter-go/policy"
)

var (
	mint   = policy.CurrencyID{0xaa}
	stream = policy.StreamID{0x01}
)

func linear(recipient byte, deposited uint64) Schedule {
	return Schedule{
		Recipient: policy.InvestorID{recipient},
		Mint:      mint,
		Deposited: deposited,
		Start:     1000,
		End:       2000,
	}
}

// --------------------------------------------------------------------------
// Schedule
// --------------------------------------------------------------------------

func TestLockedAt(t *testing.T) {
	s := linear(1, 1000)
	s.Cliff = 1200

	tests := []struct {
		name string
		at   int64
		want uint64
	}{
		{"before start", 500, 1000},
		{"at start", 1000, 1000},
		{"before cliff", 1100, 1000},
		{"at cliff", 1200, 800},
		{"halfway", 1500, 500},
		{"at end", 2000, 0},
		{"after end", 5000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.LockedAt(tt.at))
		})
	}
}

func TestLockedAtWithdrawnAndClosed(t *testing.T) {
	s := linear(1, 1000)
	s.Withdrawn = 300
	assert.Equal(t, uint64(700), s.LockedAt(0))
	// vested 500 of 1000 at halfway, 700 available
	assert.Equal(t, uint64(200), s.LockedAt(1500))
	// vested 800 exceeds available 700
	assert.Zero(t, s.LockedAt(1800))

	s.ClosedAt = 1
	assert.Zero(t, s.LockedAt(0))
}

func TestScheduleValidate(t *testing.T) {
	s := linear(1, 10)
	assert.NoError(t, s.Validate(mint))

	assert.ErrorIs(t, s.Validate(policy.CurrencyID{1}), ErrMintMismatch)

	bad := s
	bad.End = bad.Start
	assert.ErrorIs(t, bad.Validate(mint), ErrInvalidScheduleData)

	bad = s
	bad.Cliff = 3000
	assert.ErrorIs(t, bad.Validate(mint), ErrInvalidScheduleData)

	bad = s
	bad.Withdrawn = 11
	err := bad.Validate(mint)
	assert.ErrorIs(t, err, ErrInvalidScheduleData)
	assert.ErrorIs(t, err, errs.ErrExternalData)
}

func TestSerializeSchedule(t *testing.T) {
	s := linear(7, 12345)
	s.Cliff = 1500
	s.Withdrawn = 45
	data := SerializeSchedule(&s)
	require.Len(t, data, ScheduleSize)

	got, err := DeserializeSchedule(data, mint)
	require.NoError(t, err)
	assert.Equal(t, s, *got)

	_, err = DeserializeSchedule(data[:10], mint)
	assert.ErrorIs(t, err, ErrInvalidScheduleData)

	_, err = DeserializeSchedule(data, policy.CurrencyID{2})
	assert.ErrorIs(t, err, ErrMintMismatch)
}

// --------------------------------------------------------------------------
// Book and Registry
// --------------------------------------------------------------------------

func TestBook(t *testing.T) {
	b := NewBook(mint)
	require.NoError(t, b.Add(linear(3, 1000)))
	require.NoError(t, b.Add(linear(1, 400)))
	extra := linear(1, 600)
	require.NoError(t, b.AddRecord(SerializeSchedule(&extra)))

	assert.Equal(t, []policy.InvestorID{{1}, {3}}, b.Investors())

	locked, err := b.Locked(policy.InvestorID{1}, 1500)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), locked)

	total, err := b.LockedTotal(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(2000), total)

	_, err = b.Locked(policy.InvestorID{9}, 0)
	assert.ErrorIs(t, err, ErrUnknownInvestor)

	assert.ErrorIs(t, b.Add(Schedule{Mint: policy.CurrencyID{5}, Start: 1, End: 2}), ErrMintMismatch)
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	b := NewBook(mint)
	require.NoError(t, b.Add(linear(2, 1000)))
	r := NewRegistry()
	r.Put(stream, b)

	got, err := r.LockedAmount(ctx, stream, policy.InvestorID{2}, 1500)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), got)

	ids, err := r.Investors(ctx, stream)
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	total, err := r.LockedTotal(ctx, stream, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), total)

	_, err = r.LockedAmount(ctx, policy.StreamID{9}, policy.InvestorID{2}, 0)
	assert.ErrorIs(t, err, ErrUnknownStream)
	assert.Equal(t, errs.RetryNow, errs.ActionFor(err))
}

func TestMockOracle(t *testing.T) {
	m := &MockOracle{}
	v, err := m.LockedAmount(context.Background(), stream, policy.InvestorID{}, 0)
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestLoadRegistryFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vesting.yaml")
	content := `streams:
  - stream: "` + stream.String() + `"
    mint: "` + mint.String() + `"
    schedules:
      - recipient: "` + policy.InvestorID{4}.String() + `"
        deposited: 1000
        start: 1000
        end: 2000
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	r, err := LoadRegistryFile(path)
	require.NoError(t, err)
	total, err := r.LockedTotal(context.Background(), stream, 1500)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), total)

	badPath := filepath.Join(t.TempDir(), "bad.yaml")
	bad := `streams:
  - stream: "` + stream.String() + `"
    mint: "` + mint.String() + `"
    schedules:
      - recipient: "` + policy.InvestorID{4}.String() + `"
        deposited: 1000
        start: 2000
        end: 1000
`
	require.NoError(t, os.WriteFile(badPath, []byte(bad), 0600))
	_, err = LoadRegistryFile(badPath)
	assert.ErrorIs(t, err, ErrInvalidScheduleData)
}
