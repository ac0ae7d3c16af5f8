package bench

import (
	"context"
	"encoding/csv"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sg6/epub-translator/internal/deepl"
	"github.com/sg6/epub-translator/internal/mockserver"
)

func TestRunReportsOneLinePerRow(t *testing.T) {
	srv := httptest.NewServer(mockserver.New(mockserver.DefaultUsage).Handler())
	defer srv.Close()

	client := deepl.New("mock_auth_key", srv.URL+"/v2")

	input := "id,text,target_lang\n1,Hello,ES\n2,World,FR\n"
	var out strings.Builder

	var skipped []int
	err := Run(context.Background(), strings.NewReader(input), &out, client, func(n int) { skipped = append(skipped, n) })
	require.NoError(t, err)
	assert.Empty(t, skipped)

	rows, err := csv.NewReader(strings.NewReader(out.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "1", rows[0][0])
	assert.Equal(t, "5", rows[0][1]) // char count of "Hello"
	assert.Equal(t, "ES", rows[0][3])
	assert.Contains(t, rows[0][6], "Translated to ES")
}

func TestRunSkipsMalformedRows(t *testing.T) {
	srv := httptest.NewServer(mockserver.New(mockserver.DefaultUsage).Handler())
	defer srv.Close()

	client := deepl.New("mock_auth_key", srv.URL+"/v2")

	input := "id,text,target_lang\n1,Hello,ES,extra\n2,World,FR\n"
	var out strings.Builder

	var skipped []int
	err := Run(context.Background(), strings.NewReader(input), &out, client, func(n int) { skipped = append(skipped, n) })
	require.NoError(t, err)
	assert.Equal(t, []int{2}, skipped, "the malformed row (line 2) must be skipped, not line 3")

	rows, err := csv.NewReader(strings.NewReader(out.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2", rows[0][0])
}
