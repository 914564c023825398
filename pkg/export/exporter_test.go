package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDataset() Dataset {
	ds := Dataset{Headers: []string{"Student", "Score"}}
	ds.Append("Ana, B.", "4")
	ds.Append("Budi", "2")
	return ds
}

func TestCSVExporterRender(t *testing.T) {
	out, err := NewCSVExporter().Render(sampleDataset(), "")
	require.NoError(t, err)
	assert.Equal(t, "Student,Score\n\"Ana, B.\",4\nBudi,2\n", string(out))

	_, err = NewCSVExporter().Render(Dataset{}, "")
	assert.Error(t, err)
}

func TestCSVExporterNeutralizesFormulas(t *testing.T) {
	ds := Dataset{Headers: []string{"Student", "Score"}}
	ds.Append("=HYPERLINK(\"http://x\")", "-5")
	ds.Append("@SUM(A1)", "+3")
	out, err := NewCSVExporter().Render(ds, "")
	require.NoError(t, err)
	assert.Equal(t, "Student,Score\n\"'=HYPERLINK(\"\"http://x\"\")\",-5\n'@SUM(A1),+3\n", string(out))
}

func TestPDFExporterRender(t *testing.T) {
	out, err := NewPDFExporter().Render(sampleDataset(), "Quiz 1 results")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = ParseFormat("pdf")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", f.ContentType())

	_, err = ParseFormat("xlsx")
	assert.Error(t, err)
}
