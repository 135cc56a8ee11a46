package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btclog"
	"github.com/stretchr/testify/require"
)

func TestInitWiresEverySetter(t *testing.T) {
	dir := t.TempDir()

	var got []btclog.Logger
	setter := func(l btclog.Logger) { got = append(got, l) }

	r, err := Init(dir, "TEST", btclog.LevelDebug, setter, setter)
	require.NoError(t, err)
	defer r.Close()

	require.Len(t, got, 2)
	for _, l := range got {
		require.NotNil(t, l)
		require.NotEqual(t, btclog.Disabled, l)
	}

	_, err = os.Stat(filepath.Join(dir, "plotproto.log"))
	require.NoError(t, err)
}
