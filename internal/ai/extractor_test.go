package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/maltedev/business-contact-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

const pageURL = "https://haisan.vn/lien-he"

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantNames []string
		wantErr   error
	}{
		{
			name:      "Fenced single object",
			raw:       "```json\n{\"name\": \"Hải Sản Phố\", \"phone\": \"0912 345 678\", \"email\": null}\n```",
			wantNames: []string{"Hải Sản Phố"},
		},
		{
			name:      "Businesses envelope drops entries without contact",
			raw:       `{"businesses": [{"name": "A", "phone": "0901111222"}, {"name": "B"}, {"name": "C", "email": "c@shop.vn"}]}`,
			wantNames: []string{"A", "C"},
		},
		{
			name:      "Bare array",
			raw:       `[{"name": "A", "email": "a@shop.vn"}]`,
			wantNames: []string{"A"},
		},
		{
			name:      "Numeric phone",
			raw:       `{"name": "Quán Ốc", "phone": 912345678}`,
			wantNames: []string{"Quán Ốc"},
		},
		{
			name:    "Empty object",
			raw:     `{}`,
			wantErr: ErrNoData,
		},
		{
			name:    "No contact at all",
			raw:     `{"name": "Hải Sản Phố", "address": "25 Hàng Bè"}`,
			wantErr: ErrNoData,
		},
		{
			name:    "Not JSON",
			raw:     `Sorry, I cannot help with that.`,
			wantErr: ErrNoData,
		},
		{
			name:    "Empty response",
			raw:     "  ",
			wantErr: ErrNoData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := ParseResponse(tt.raw, pageURL)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, records)
				return
			}
			require.NoError(t, err)

			var names []string
			for _, r := range records {
				names = append(names, r.Name)
				assert.Equal(t, pageURL, r.Website)
				assert.Equal(t, models.SourceSearch, r.Source)
				assert.True(t, r.Phone != "" || r.Email != "")
			}
			assert.Equal(t, tt.wantNames, names)
		})
	}
}

func TestParseResponseNormalizesPhone(t *testing.T) {
	records, err := ParseResponse(`{"name": "X", "phone": "+84 912.345.678"}`, pageURL)
	require.NoError(t, err)
	assert.Equal(t, "+84912345678", records[0].Phone)
}

func TestAdapterExtractOne(t *testing.T) {
	gen := new(MockGenerator)
	gen.On("Generate", mock.Anything, mock.MatchedBy(func(prompt string) bool {
		return strings.Contains(prompt, pageURL) && strings.Contains(prompt, "single JSON object")
	})).Return(`{"name": "Hải Sản Phố", "email": "lienhe@haisan.vn"}`, nil)

	adapter := NewAdapter(gen, 0, nil)
	business, err := adapter.ExtractOne(context.Background(), "Liên hệ lienhe@haisan.vn", pageURL)

	require.NoError(t, err)
	assert.Equal(t, "Hải Sản Phố", business.Name)
	assert.Equal(t, "lienhe@haisan.vn", business.Email)
	gen.AssertExpectations(t)
}

func TestAdapterTruncatesInput(t *testing.T) {
	tests := []struct {
		name    string
		call    func(a *Adapter, text string) error
		maxText int
	}{
		{
			name: "Single entity",
			call: func(a *Adapter, text string) error {
				_, err := a.ExtractOne(context.Background(), text, pageURL)
				return err
			},
			maxText: singleTextLimit,
		},
		{
			name: "Multi entity",
			call: func(a *Adapter, text string) error {
				_, err := a.ExtractMany(context.Background(), text, pageURL)
				return err
			},
			maxText: multiTextLimit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sent string
			gen := new(MockGenerator)
			gen.On("Generate", mock.Anything, mock.Anything).
				Run(func(args mock.Arguments) { sent = args.String(1) }).
				Return(`{}`, nil)

			text := strings.Repeat("ă", 20000)
			err := tt.call(NewAdapter(gen, 0, nil), text)

			assert.ErrorIs(t, err, ErrNoData)
			assert.Equal(t, tt.maxText, strings.Count(sent, "ă"))
			assert.True(t, utf8.ValidString(sent))
		})
	}
}

func TestAdapterGeneratorFailure(t *testing.T) {
	gen := new(MockGenerator)
	gen.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("deadline exceeded"))

	records, err := NewAdapter(gen, 0, nil).ExtractMany(context.Background(), "text", pageURL)

	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoData)
	assert.Nil(t, records)
}

func TestDisabled(t *testing.T) {
	var extractor Extractor = Disabled{}

	_, err := extractor.ExtractOne(context.Background(), "text", pageURL)
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = extractor.ExtractMany(context.Background(), "text", pageURL)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestNewWithoutKeyIsDisabled(t *testing.T) {
	extractor, err := New(context.Background(), Config{}, nil)
	require.NoError(t, err)
	assert.IsType(t, Disabled{}, extractor)
}

func TestDescribeErr(t *testing.T) {
	assert.Contains(t, describeErr(genai.APIError{Code: 429}).Error(), "rate limited")
	assert.Contains(t, describeErr(genai.APIError{Code: 503}).Error(), "server error 503")
	assert.Contains(t, describeErr(errors.New("boom")).Error(), "request failed")
}
