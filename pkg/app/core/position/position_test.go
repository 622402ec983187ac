package position

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/stakedex/pkg/app/core/fixed"
	"github.com/uhyunpark/stakedex/pkg/app/core/orderbook"
	"github.com/uhyunpark/stakedex/pkg/app/core/state"
)

var (
	alice = common.HexToAddress("0xa11ce")
	bob   = common.HexToAddress("0xb0b")
)

func rate(num, den uint64) *uint256.Int {
	v, _ := fixed.MulDiv(uint256.NewInt(num), fixed.P(), uint256.NewInt(den))
	return v
}

func newPosition(owner common.Address, pending uint64) Position {
	return Position{
		Owner:       owner,
		BookID:      1,
		Price:       uint256.NewInt(fixed.DefaultScale),
		PendingIn:   uint256.NewInt(pending),
		Filled:      fixed.Zero(),
		FeeRewarded: fixed.Zero(),
	}
}

func TestSettleAppliesCheckpointsInOrder(t *testing.T) {
	p := newPosition(alice, 1000)
	cps := []orderbook.Checkpoint{
		{FillRate: rate(1, 4), FeeRate: rate(1, 100)},
		{FillRate: rate(1, 2), FeeRate: fixed.Zero()},
	}
	s := p.Settle(cps, 2)

	// 1000 -> fill 250 (fee 2), then 750 -> fill 375
	require.Equal(t, uint64(625), s.Filled.Uint64())
	require.Equal(t, uint64(2), s.FeeRewarded.Uint64())
	require.Equal(t, uint64(375), s.PendingIn.Uint64())
	require.Equal(t, uint64(2), s.LastSettled)
	require.Equal(t, uint64(1000), p.PendingIn.Uint64(), "receiver must not change")

	scale := uint256.NewInt(fixed.DefaultScale)
	require.Equal(t, uint64(627), s.Proceeds(scale).Uint64())
	require.Equal(t, uint64(375), s.PendingOut(scale).Uint64())
}

func TestSettleFullRateClearsPending(t *testing.T) {
	p := newPosition(alice, 333)
	s := p.Settle([]orderbook.Checkpoint{{FillRate: fixed.P(), FeeRate: fixed.Zero()}}, 1)
	require.True(t, s.PendingIn.IsZero())
	require.Equal(t, uint64(333), s.Filled.Uint64())
}

func TestStoreEnumeratesOwners(t *testing.T) {
	s := NewStore(state.NewJournal())
	ids := make([]uint64, 3)
	for i := range ids {
		id, err := s.Mint(newPosition(alice, 1))
		require.NoError(t, err)
		ids[i] = id
	}
	require.Equal(t, []uint64{1, 2, 3}, ids)
	require.Equal(t, 3, s.BalanceOf(alice))

	require.NoError(t, s.Transfer(alice, bob, 1))
	require.Equal(t, 2, s.BalanceOf(alice))
	owner, err := s.OwnerOf(1)
	require.NoError(t, err)
	require.Equal(t, bob, owner)

	got, err := s.TokenOfOwnerByIndex(alice, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(3), got, "last id moves into the freed slot")

	require.ErrorIs(t, s.Transfer(alice, bob, 1), ErrUnauthorized)

	require.NoError(t, s.Burn(2))
	require.Equal(t, []uint64{3}, s.IDsOf(alice))
	_, err = s.Get(2)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStoreRevertRestoresEnumeration(t *testing.T) {
	j := state.NewJournal()
	s := NewStore(j)
	_ = j.Atomic(func() error { _, err := s.Mint(newPosition(alice, 1)); return err })

	_ = j.Atomic(func() error {
		if _, err := s.Mint(newPosition(alice, 1)); err != nil {
			return err
		}
		if err := s.Burn(1); err != nil {
			return err
		}
		return ErrNotFound
	})
	require.Equal(t, []uint64{1}, s.IDsOf(alice))
	require.Equal(t, uint64(2), s.NextID())
}
