package service

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/pkg/export"
)

type failingRenderer struct{}

func (failingRenderer) Render(export.Dataset, string) ([]byte, error) {
	return nil, errors.New("renderer broke")
}

func resultsDataset() export.Dataset {
	data := export.Dataset{Headers: []string{"Student", "Score", "Percentage"}}
	data.Append("Ana", "8", "80")
	data.Append("Budi", "6", "60")
	return data
}

func newTestExportService(csv, pdf datasetRenderer) *ExportService {
	svc := NewExportService(zap.NewNop(), csv, pdf)
	svc.now = func() time.Time { return time.Date(2024, 3, 9, 14, 30, 0, 0, time.UTC) }
	return svc
}

func TestExportServiceRenderCSV(t *testing.T) {
	file, err := newTestExportService(nil, nil).Render(export.FormatCSV, resultsDataset(), "Quiz 1", "Quiz 1: Results")
	require.NoError(t, err)

	assert.Equal(t, "quiz_1-_results_20240309_143000.csv", file.Filename)
	assert.Equal(t, "text/csv; charset=utf-8", file.ContentType)
	assert.Contains(t, string(file.Data), "Student,Score,Percentage")
	assert.Contains(t, string(file.Data), "Ana,8,80")
}

func TestExportServiceRenderPDF(t *testing.T) {
	file, err := newTestExportService(nil, nil).Render(export.FormatPDF, resultsDataset(), "Quiz 1", "quiz")
	require.NoError(t, err)

	assert.Equal(t, "application/pdf", file.ContentType)
	assert.True(t, bytes.HasPrefix(file.Data, []byte("%PDF")))
	assert.Equal(t, "quiz_20240309_143000.pdf", file.Filename)
}

func TestExportServiceRenderErrors(t *testing.T) {
	_, err := newTestExportService(nil, nil).Render(export.Format("xlsx"), resultsDataset(), "t", "b")
	assert.Error(t, err)

	_, err = newTestExportService(failingRenderer{}, nil).Render(export.FormatCSV, resultsDataset(), "t", "b")
	assert.EqualError(t, err, "renderer broke")
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "na", sanitizeFilename(""))
	assert.Equal(t, "a_b-c", sanitizeFilename("a b/c"))
	assert.Len(t, sanitizeFilename(string(make([]byte, 150))), 100)
}
