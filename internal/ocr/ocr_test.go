package ocr

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hartproperty/propsync/pkg/anthropic"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if r := args.Get(0); r != nil {
		return r.(*anthropic.MessageResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func writeImage(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("fake image bytes"), 0o600))
	return path
}

func textResponse(s string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{Content: []anthropic.ContentBlock{{Type: "text", Text: s}}}
}

func TestExtract_SendsImageAndParsesRows(t *testing.T) {
	path := writeImage(t, "page1.PNG")
	client := &mockClient{}
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return len(req.Messages) == 1 &&
			len(req.Messages[0].Images) == 1 &&
			req.Messages[0].Images[0].MediaType == "image/png" &&
			string(req.Messages[0].Images[0].Data) == "fake image bytes" &&
			req.Model == "claude-test"
	})).Return(textResponse("```json\n[{\"date\":\"23 Dec 2025\",\"level\":12,\"unit\":5,\"price\":1650000,\"sale_type\":\"Resale\"}]\n```"), nil)

	rows, err := NewVision(client, "claude-test", 0).Extract(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "23 Dec 2025", rows[0].Date)
	assert.Equal(t, float64(12), rows[0].Level)
	assert.Equal(t, "Resale", rows[0].SaleType)
	assert.Nil(t, rows[0].Sqft)
	client.AssertExpectations(t)
}

func TestExtract_UnsupportedExtension(t *testing.T) {
	path := writeImage(t, "notes.pdf")
	client := &mockClient{}

	_, err := NewVision(client, "claude-test", 0).Extract(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported image")
	client.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestExtract_ClientError(t *testing.T) {
	path := writeImage(t, "page.jpg")
	client := &mockClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("overloaded"))

	_, err := NewVision(client, "claude-test", 0).Extract(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page.jpg")
}

func TestParseRows(t *testing.T) {
	rows, err := ParseRows(`Here you go: [{"date":"2025-01-02"},{"date":null}] done`)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Nil(t, rows[1].Date)

	_, err = ParseRows("I could not read the image.")
	assert.Error(t, err)

	_, err = ParseRows(`[{"date": ]`)
	assert.Error(t, err)
}

func TestMediaType(t *testing.T) {
	mt, ok := MediaType("a/b/c.JPEG")
	assert.True(t, ok)
	assert.Equal(t, "image/jpeg", mt)

	_, ok = MediaType("c.tiff")
	assert.False(t, ok)
}
