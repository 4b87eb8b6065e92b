package present

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSingleGroup(t *testing.T) {
	body := []byte("!> cache-control max-age=60\nhello world")
	d, ok := Parse(body)
	require.True(t, ok)
	require.Len(t, d.Groups, 1)
	assert.Equal(t, "cache-control", d.Groups[0].Name)
	assert.Equal(t, []string{"max-age=60"}, d.Groups[0].Args)
	assert.Equal(t, "hello world", string(d.Body))
}

func TestParseMultipleGroups(t *testing.T) {
	body := []byte("!> md-render &> cache-control no-cache\nbody")
	d, ok := Parse(body)
	require.True(t, ok)
	require.Len(t, d.Groups, 2)
	assert.Equal(t, "md-render", d.Groups[0].Name)
	assert.Empty(t, d.Groups[0].Args)
	assert.Equal(t, "cache-control", d.Groups[1].Name)
	assert.Equal(t, []string{"no-cache"}, d.Groups[1].Args)
}

func TestParseNoDirectivePrefix(t *testing.T) {
	body := []byte("plain file contents, no directive")
	d, ok := Parse(body)
	assert.False(t, ok)
	assert.Equal(t, body, d.Body)
}

func TestParseEmptyGroupNameRejected(t *testing.T) {
	body := []byte("!>  \nbody")
	_, ok := Parse(body)
	assert.False(t, ok)
}

func TestParseNoNewlineRejected(t *testing.T) {
	body := []byte("!> name arg")
	_, ok := Parse(body)
	assert.False(t, ok)
}

func TestReconstructRoundTrip(t *testing.T) {
	body := []byte("!> a x y &> b z\nrest of file")
	d, ok := Parse(body)
	require.True(t, ok)
	assert.Equal(t, "!> a x y &> b z\n", d.Reconstruct())
}

func TestParseCRLFNewline(t *testing.T) {
	body := []byte("!> name arg\r\nbody")
	d, ok := Parse(body)
	require.True(t, ok)
	assert.Equal(t, "body", string(d.Body))
}
