package recorder

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatingFileNaming(t *testing.T) {
	dir := t.TempDir()
	f := newRotatingFile(dir, "events_aggTrade")
	at := time.Date(2023, 11, 14, 22, 13, 0, 0, time.UTC)

	require.NoError(t, f.Append(at, []byte(`{"time":1}`)))
	require.NoError(t, f.Close())

	assert.True(t, strings.HasSuffix(f.Path(at), "events_aggTrade_20231114_22.jsonl"))
	data, err := os.ReadFile(f.Path(at))
	require.NoError(t, err)
	assert.Equal(t, "{\"time\":1}\n", string(data))
}

func TestRotatingFileRollsOnHourChange(t *testing.T) {
	dir := t.TempDir()
	f := newRotatingFile(dir, "snapshots")
	first := time.Date(2023, 11, 14, 22, 59, 59, 0, time.UTC)
	second := time.Date(2023, 11, 14, 23, 0, 1, 0, time.UTC)

	require.NoError(t, f.Append(first, []byte(`{"n":1}`)))
	require.NoError(t, f.Append(second, []byte(`{"n":2}`)))
	require.NoError(t, f.Close())

	old, err := os.ReadFile(f.Path(first))
	require.NoError(t, err)
	fresh, err := os.ReadFile(f.Path(second))
	require.NoError(t, err)

	assert.Equal(t, "{\"n\":1}\n", string(old))
	assert.Equal(t, "{\"n\":2}\n", string(fresh))
}

func TestRotatingFileAppendsAfterReopen(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2023, 11, 14, 22, 30, 0, 0, time.UTC)

	f := newRotatingFile(dir, "events_bookTicker")
	require.NoError(t, f.Append(at, []byte(`{"n":1}`)))
	require.NoError(t, f.Close())

	// A restart inside the same hour continues the same file.
	g := newRotatingFile(dir, "events_bookTicker")
	require.NoError(t, g.Append(at.Add(time.Minute), []byte(`{"n":2}`)))
	require.NoError(t, g.Close())

	data, err := os.ReadFile(g.Path(at))
	require.NoError(t, err)
	assert.Equal(t, "{\"n\":1}\n{\"n\":2}\n", string(data))
}
