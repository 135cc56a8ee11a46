package store

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toole-brendan/plotproto/canvas"
)

func hashFromByte(b byte) chainhash.Hash {
	var h chainhash.Hash
	h[0] = b
	return h
}

func sampleState() *canvas.State {
	e := canvas.NewEngine()
	s0 := canvas.NewGenesisState()
	claim := canvas.Event{
		Type: canvas.EventClaim, PlotID: hashFromByte(1),
		X0: 10, Y0: 20, W: 5, H: 5,
		NewDeed: canvas.Outpoint{Hash: hashFromByte(9), Index: 0}, NewOwner: "addrA",
	}
	return e.ApplyBlock(s0, hashFromByte(100), chainhash.Hash{}, 1, 1, []canvas.Event{claim})
}

func TestSaveAndLoadTipRoundTrips(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, "regtest", "0000000000000000000000000000000000000000000000000000000000000001")
	require.NoError(t, err)
	defer s.Close()

	want := sampleState()
	require.NoError(t, s.SaveState(want))

	got, err := s.LoadTip()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.BlockHash, got.BlockHash)
	assert.Equal(t, want.BlockHeight, got.BlockHeight)
	assert.Equal(t, want.PlotCount(), got.PlotCount())

	wantPlot, _ := want.Plot(hashFromByte(1))
	gotPlot, ok := got.Plot(hashFromByte(1))
	require.True(t, ok)
	assert.Equal(t, wantPlot.X0, gotPlot.X0)
	assert.Equal(t, wantPlot.Status, gotPlot.Status)
	assert.Equal(t, *wantPlot.CurrentDeed, *gotPlot.CurrentDeed)
}

func TestLoadTipOnFreshStoreReturnsNil(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, "regtest", "0000000000000000000000000000000000000000000000000000000000000001")
	require.NoError(t, err)
	defer s.Close()

	got, err := s.LoadTip()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLookupDeedReflectsLatestSave(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, "regtest", "0000000000000000000000000000000000000000000000000000000000000001")
	require.NoError(t, err)
	defer s.Close()

	state := sampleState()
	require.NoError(t, s.SaveState(state))

	deed := canvas.Outpoint{Hash: hashFromByte(9), Index: 0}
	id, ok, err := s.LookupDeed(deed)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, hashFromByte(1), id)

	_, ok, err = s.LookupDeed(canvas.Outpoint{Hash: hashFromByte(250), Index: 0})
	require.NoError(t, err)
	assert.False(t, ok)
}
