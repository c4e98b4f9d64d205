package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/maltedev/business-contact-scraper/internal/browser"
	"github.com/maltedev/business-contact-scraper/internal/models"
	"github.com/maltedev/business-contact-scraper/internal/scraper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSink struct {
	mock.Mock
}

func (m *MockSink) CreateRun(ctx context.Context, run *models.Run) error {
	return m.Called(ctx, run).Error(0)
}

func (m *MockSink) MarkProcessing(ctx context.Context, runID string) error {
	return m.Called(ctx, runID).Error(0)
}

func (m *MockSink) SaveBusiness(ctx context.Context, runID string, b models.Business) error {
	return m.Called(ctx, runID, b).Error(0)
}

func (m *MockSink) CompleteRun(ctx context.Context, runID string, total int) error {
	return m.Called(ctx, runID, total).Error(0)
}

func (m *MockSink) FailRun(ctx context.Context, runID, reason string) error {
	return m.Called(ctx, runID, reason).Error(0)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) RunFinished(ctx context.Context, result *models.RunResult) error {
	return m.Called(ctx, result).Error(0)
}

type stubSession struct {
	closed bool
}

func (s *stubSession) Load(context.Context, string, browser.LoadOptions) (*browser.Snapshot, error) {
	return nil, errors.New("not served")
}

func (s *stubSession) OpenFeed(context.Context, string) (browser.Feed, error) {
	return nil, browser.ErrFeedNotFound
}

func (s *stubSession) Close() error {
	s.closed = true
	return nil
}

type stubConnector struct {
	candidates []models.Business
	err        error
	panicWith  any
}

func (c *stubConnector) Source() models.SourceTag {
	return models.SourceSearch
}

func (c *stubConnector) Run(ctx context.Context, _ scraper.Session, _ models.Request, out scraper.Collector) error {
	if c.panicWith != nil {
		panic(c.panicWith)
	}
	for _, b := range c.candidates {
		if out.Done() {
			break
		}
		out.Offer(b)
	}
	return c.err
}

func sessionOf(s *stubSession) SessionFactory {
	return func(context.Context) (scraper.Session, error) {
		return s, nil
	}
}

var searchRequest = models.Request{Source: models.SourceSearch, Keyword: "hải sản", Location: "đà nẵng", MaxResults: 10}

func candidates() []models.Business {
	return []models.Business{
		{Name: "Hải Sản Năm Đảnh", Phone: "0905 123 456", Source: models.SourceSearch},
		{Name: "Hải Sản Bé Mặn", Phone: "0905.123.456", Source: models.SourceSearch},
		{Name: "Nhà hàng Trần", Email: "info@tran.vn", Source: models.SourceSearch},
	}
}

func TestOrchestratorRunCompletes(t *testing.T) {
	sink := new(MockSink)
	sink.On("CreateRun", mock.Anything, mock.AnythingOfType("*models.Run")).Return(nil)
	sink.On("MarkProcessing", mock.Anything, mock.Anything).Return(nil)
	sink.On("SaveBusiness", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	sink.On("CompleteRun", mock.Anything, mock.Anything, 2).Return(nil)

	notifier := new(MockNotifier)
	notifier.On("RunFinished", mock.Anything, mock.MatchedBy(func(r *models.RunResult) bool {
		return r.Status == models.RunCompleted && r.Total == 2
	})).Return(nil)

	session := &stubSession{}
	o := New(sessionOf(session), sink, nil, &stubConnector{candidates: candidates()}).WithNotifier(notifier)

	result, err := o.Run(context.Background(), searchRequest)
	require.NoError(t, err)

	assert.Equal(t, models.RunCompleted, result.Status)
	assert.Equal(t, 2, result.Total)
	require.Len(t, result.Records, 2)
	assert.Equal(t, "0905123456", result.Records[0].Phone)
	assert.Empty(t, result.Reason)
	assert.True(t, session.closed)

	sink.AssertNumberOfCalls(t, "SaveBusiness", 2)
	sink.AssertNotCalled(t, "FailRun", mock.Anything, mock.Anything, mock.Anything)
	notifier.AssertExpectations(t)

	created := sink.Calls[0].Arguments.Get(1).(*models.Run)
	assert.Equal(t, "hải sản", created.Keyword)
	assert.Equal(t, "đà nẵng", created.Location)
	assert.NotEmpty(t, created.ID)
}

func TestOrchestratorSessionFailure(t *testing.T) {
	sink := new(MockSink)
	sink.On("CreateRun", mock.Anything, mock.Anything).Return(nil)
	sink.On("MarkProcessing", mock.Anything, mock.Anything).Return(nil)
	sink.On("FailRun", mock.Anything, mock.Anything, mock.MatchedBy(func(reason string) bool {
		return reason != ""
	})).Return(nil)

	failing := func(context.Context) (scraper.Session, error) {
		return nil, errors.New("executable doesn't exist")
	}
	o := New(failing, sink, nil, &stubConnector{candidates: candidates()})

	result, err := o.Run(context.Background(), searchRequest)
	require.NoError(t, err)

	assert.True(t, result.Failed())
	assert.Contains(t, result.Reason, "executable doesn't exist")
	assert.Zero(t, result.Total)
	assert.Empty(t, result.Records)
	sink.AssertNotCalled(t, "SaveBusiness", mock.Anything, mock.Anything, mock.Anything)
	sink.AssertNotCalled(t, "CompleteRun", mock.Anything, mock.Anything, mock.Anything)
}

func TestOrchestratorRecoversPanics(t *testing.T) {
	sink := new(MockSink)
	sink.On("CreateRun", mock.Anything, mock.Anything).Return(nil)
	sink.On("MarkProcessing", mock.Anything, mock.Anything).Return(nil)
	sink.On("FailRun", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	notifier := new(MockNotifier)
	notifier.On("RunFinished", mock.Anything, mock.MatchedBy(func(r *models.RunResult) bool {
		return r.Failed()
	})).Return(errors.New("redis down"))

	session := &stubSession{}
	o := New(sessionOf(session), sink, nil, &stubConnector{panicWith: "nil map"}).WithNotifier(notifier)

	var result *models.RunResult
	require.NotPanics(t, func() {
		var err error
		result, err = o.Run(context.Background(), searchRequest)
		require.NoError(t, err)
	})

	assert.True(t, result.Failed())
	assert.Equal(t, "internal error: nil map", result.Reason)
	assert.True(t, session.closed)
	notifier.AssertExpectations(t)
}

func TestOrchestratorConnectorError(t *testing.T) {
	sink := new(MockSink)
	sink.On("CreateRun", mock.Anything, mock.Anything).Return(nil)
	sink.On("MarkProcessing", mock.Anything, mock.Anything).Return(nil)
	sink.On("FailRun", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	o := New(sessionOf(&stubSession{}), sink, nil,
		&stubConnector{candidates: candidates(), err: context.Canceled})

	result, err := o.Run(context.Background(), searchRequest)
	require.NoError(t, err)

	assert.True(t, result.Failed())
	assert.Contains(t, result.Reason, "context canceled")
	sink.AssertNotCalled(t, "SaveBusiness", mock.Anything, mock.Anything, mock.Anything)
}

func TestOrchestratorSaveFailureDoesNotFailRun(t *testing.T) {
	sink := new(MockSink)
	sink.On("CreateRun", mock.Anything, mock.Anything).Return(nil)
	sink.On("MarkProcessing", mock.Anything, mock.Anything).Return(errors.New("timeout"))
	sink.On("SaveBusiness", mock.Anything, mock.Anything, mock.MatchedBy(func(b models.Business) bool {
		return b.Phone != ""
	})).Return(errors.New("duplicate key"))
	sink.On("SaveBusiness", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	sink.On("CompleteRun", mock.Anything, mock.Anything, 2).Return(nil)

	o := New(sessionOf(&stubSession{}), sink, nil, &stubConnector{candidates: candidates()})

	result, err := o.Run(context.Background(), searchRequest)
	require.NoError(t, err)

	assert.Equal(t, models.RunCompleted, result.Status)
	assert.Equal(t, 2, result.Total)
	sink.AssertExpectations(t)
}

func TestOrchestratorRespectsMaxResults(t *testing.T) {
	sink := new(MockSink)
	sink.On("CreateRun", mock.Anything, mock.Anything).Return(nil)
	sink.On("MarkProcessing", mock.Anything, mock.Anything).Return(nil)
	sink.On("SaveBusiness", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	sink.On("CompleteRun", mock.Anything, mock.Anything, 1).Return(nil)

	o := New(sessionOf(&stubSession{}), sink, nil, &stubConnector{candidates: candidates()})

	req := searchRequest
	req.MaxResults = 1
	result, err := o.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Total)
	sink.AssertNumberOfCalls(t, "SaveBusiness", 1)
}

func TestOrchestratorStartRejects(t *testing.T) {
	tests := []struct {
		name string
		req  models.Request
	}{
		{name: "missing keyword", req: models.Request{Source: models.SourceSearch, MaxResults: 5}},
		{name: "unknown source", req: models.Request{Source: "yelp", Keyword: "phở", MaxResults: 5}},
		{name: "unregistered connector", req: models.Request{Source: models.SourceMap, Keyword: "phở", MaxResults: 5}},
		{name: "zero max results", req: models.Request{Source: models.SourceSearch, Keyword: "phở"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := new(MockSink)
			o := New(sessionOf(&stubSession{}), sink, nil, &stubConnector{})

			run, err := o.Start(context.Background(), tt.req)
			assert.Error(t, err)
			assert.Nil(t, run)
			sink.AssertNotCalled(t, "CreateRun", mock.Anything, mock.Anything)
		})
	}
}

func TestOrchestratorCreateRunError(t *testing.T) {
	sink := new(MockSink)
	sink.On("CreateRun", mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	o := New(sessionOf(&stubSession{}), sink, nil, &stubConnector{})
	_, err := o.Run(context.Background(), searchRequest)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create run")
}
