package sentiment

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feedbackd/internal/feedback"
)

func TestNewLexiconWatcher(t *testing.T) {
	c := NewLexiconClassifier(nil)

	_, err := NewLexiconWatcher("", c, zap.NewNop(), nil)
	assert.Error(t, err)

	_, err = NewLexiconWatcher("lex.toml", nil, zap.NewNop(), nil)
	assert.ErrorContains(t, err, "classifier cannot be nil")

	_, err = NewLexiconWatcher("lex.toml", c, nil, nil)
	assert.ErrorContains(t, err, "logger cannot be nil")

	w, err := NewLexiconWatcher("lex.toml", c, zap.NewNop(), nil)
	require.NoError(t, err)
	w.Stop()
}

func TestLexiconWatcher_Reload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lexicon.toml")
	require.NoError(t, os.WriteFile(path, []byte("[positive]\nkudos = 2.0\n"), 0o600))

	c := NewLexiconClassifier(nil)
	var reloads atomic.Int32
	w, err := NewLexiconWatcher(path, c, zap.NewNop(), func() { reloads.Add(1) })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("[positive]\nzorp = 3.0\n"), 0o600))

	require.Eventually(t, func() bool {
		res, err := c.Classify(context.Background(), "zorp")
		return err == nil && res.Label == feedback.SentimentPositive
	}, 5*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, reloads.Load(), int32(1))
}

func TestLexiconWatcher_InvalidReloadKeepsLexicon(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lexicon.toml")
	require.NoError(t, os.WriteFile(path, []byte("[positive\n"), 0o600))

	c := NewLexiconClassifier(&Lexicon{NeutralBand: 0.05, Positive: map[string]float64{"kudos": 2}})
	called := false
	w, err := NewLexiconWatcher(path, c, zap.NewNop(), func() { called = true })
	require.NoError(t, err)

	w.reload()

	assert.False(t, called)
	assert.Contains(t, c.Lexicon().Positive, "kudos")
	w.Stop()
}
