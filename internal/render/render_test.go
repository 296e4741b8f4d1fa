package render

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rate struct {
	Currency string `json:"currency" yaml:"currency"`
	Rate     string `json:"rate" yaml:"rate"`
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatTable, f)

	f, err = ParseFormat(" NDJSON ")
	require.NoError(t, err)
	assert.Equal(t, FormatNDJSON, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}

func TestRender(t *testing.T) {
	headers := []string{"CURRENCY", "RATE"}
	rows := [][]string{{"EUR", "1.1"}, {"GBP", "1.27"}}
	items := []interface{}{rate{"EUR", "1.1"}, rate{"GBP", "1.27"}}

	tests := []struct {
		format Format
		want   []string
	}{
		{FormatTable, []string{"CURRENCY  RATE", "--------  ----", "EUR       1.1"}},
		{FormatTSV, []string{"CURRENCY\tRATE", "GBP\t1.27"}},
		{FormatJSON, []string{`"currency": "EUR"`}},
		{FormatNDJSON, []string{`{"currency":"EUR","rate":"1.1"}`, `{"currency":"GBP","rate":"1.27"}`}},
		{FormatYAML, []string{"- currency: EUR", "  rate: \"1.27\""}},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, NewRenderer(&buf, Options{Format: tt.format}).Render(headers, rows, items))
			for _, want := range tt.want {
				assert.Contains(t, buf.String(), want)
			}
		})
	}
}

func TestRender_EmptyJSONIsArray(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewRenderer(&buf, Options{Format: FormatJSON}).Render(nil, nil, nil))
	assert.Equal(t, "[]", strings.TrimSpace(buf.String()))
}

func TestRenderObject(t *testing.T) {
	obj := rate{"EUR", "1.1"}
	rows := [][]string{{"currency", "EUR"}, {"rate", "1.1"}}

	var buf bytes.Buffer
	require.NoError(t, NewRenderer(&buf, Options{Format: FormatNDJSON}).RenderObject(obj, rows))
	assert.Equal(t, "{\"currency\":\"EUR\",\"rate\":\"1.1\"}\n", buf.String())

	buf.Reset()
	require.NoError(t, NewRenderer(&buf, Options{Format: FormatTSV}).RenderObject(obj, rows))
	assert.Equal(t, "FIELD\tVALUE\ncurrency\tEUR\nrate\t1.1\n", buf.String())
}

func TestRenderTable_Porcelain(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, Options{Format: FormatTable, Porcelain: true})
	require.NoError(t, r.RenderTable([]string{"ID", "STATUS"}, [][]string{{"IMP-00001", "success"}}))
	assert.Equal(t, "ID\tSTATUS\nIMP-00001\tsuccess\n", buf.String())
}
