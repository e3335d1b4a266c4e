package ruleset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRules(t *testing.T) {
	r := Default()
	assert.Equal(t, 10, r.BoardSize)
	assert.Equal(t, []int{5, 4, 3, 3, 2}, r.Fleet)
	assert.Equal(t, TurnAlternate, r.TurnPolicy)
	assert.Equal(t, 1000, r.Elo.Initial)
	assert.Positive(t, r.Elo.WinDelta)
	assert.Negative(t, r.Elo.LossDelta)
}

func TestLoadOverridesOnlyGivenKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("board_size: 6\nfleet: [3, 2]\nturn_policy: extra_turn_on_hit\n"), 0o644))

	r, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 6, r.BoardSize)
	assert.Equal(t, []int{3, 2}, r.Fleet)
	assert.Equal(t, TurnExtraOnHit, r.TurnPolicy)
	assert.Equal(t, 25, r.Elo.WinDelta)
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"ship too long":  "board_size: 4\nfleet: [5]\n",
		"unknown policy": "turn_policy: bonus\n",
		"zero board":     "board_size: 0\n",
	} {
		path := filepath.Join(dir, name+".yaml")
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		_, err := Load(path)
		assert.Error(t, err, name)
	}
}
