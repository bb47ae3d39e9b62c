package merge

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV(t *testing.T) {
	in := "\ufeffName, Email,\nAda,ada@example.com,x\nGrace\n"

	header, rows, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []string{"Name", "Email", ""}, header)
	require.Len(t, rows, 2)

	assert.Equal(t, "Ada", *rows[0]["Name"])
	assert.Equal(t, "ada@example.com", *rows[0]["Email"])
	assert.NotContains(t, rows[0], "")

	assert.Equal(t, "Grace", *rows[1]["Name"])
	v, ok := rows[1]["Email"]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestReadCSVEmpty(t *testing.T) {
	_, _, err := ReadCSV(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrEmptyCSV)
}

func TestReadCSVRoundTripsWrittenText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, []string{"Body"}, [][]string{{"line one\nline, \"two\""}}))

	_, rows, err := ReadCSV(&buf)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "line one\nline, \"two\"", *rows[0]["Body"])
}
