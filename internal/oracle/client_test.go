package oracle

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockedClient(t *testing.T) *Client {
	t.Helper()
	c := New("http://classifier.test", 5*time.Second)
	httpmock.ActivateNonDefault(c.HTTPClient)
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func TestClassifySuccess(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodPost, "http://classifier.test/predict_with_urls",
		httpmock.NewJsonResponderOrPanic(200, map[string]any{
			"predicted_class":     "plastic",
			"confidence":          0.93,
			"recommended_dustbin": "yellow",
			"points":              20,
		}))

	res, err := c.Classify(context.Background(), "https://img.example/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "plastic", res.PredictedClass)
	assert.InDelta(t, 0.93, res.Confidence, 1e-9)
	assert.Equal(t, "yellow", res.RecommendedDustbin)
	assert.Equal(t, 20, res.Points)
}

func TestClassifyStringConfidence(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodPost, "http://classifier.test/predict_with_urls",
		httpmock.NewJsonResponderOrPanic(200, map[string]any{
			"predicted_class": "glass",
			"confidence":      "87.31%",
			"points":          15,
		}))

	res, err := c.Classify(context.Background(), "https://img.example/a.jpg")
	require.NoError(t, err)
	assert.InDelta(t, 0.8731, res.Confidence, 1e-9)
}

func TestClassifyNon200(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodPost, "http://classifier.test/predict_with_urls",
		httpmock.NewStringResponder(500, "boom"))

	_, err := c.Classify(context.Background(), "https://img.example/a.jpg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestClassifyTransportError(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodPost, "http://classifier.test/predict_with_urls",
		httpmock.NewErrorResponder(context.DeadlineExceeded))

	_, err := c.Classify(context.Background(), "https://img.example/a.jpg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "classifier unreachable")
}

func TestClassifyMissingClass(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodPost, "http://classifier.test/predict_with_urls",
		httpmock.NewJsonResponderOrPanic(200, map[string]any{"points": 5}))

	_, err := c.Classify(context.Background(), "https://img.example/a.jpg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "predicted_class")
}

func TestClassifyRequiresEndpoint(t *testing.T) {
	c := &Client{}
	_, err := c.Classify(context.Background(), "https://img.example/a.jpg")
	require.Error(t, err)
}

func TestParseConfidence(t *testing.T) {
	cases := []struct {
		raw  string
		want float64
	}{
		{`0.5`, 0.5},
		{`"42%"`, 0.42},
		{`"87.31%"`, 0.8731},
		{`"  99.9% "`, 0.999},
		{`"garbage"`, 0},
		{``, 0},
	}
	for _, tc := range cases {
		got := parseConfidence([]byte(tc.raw))
		assert.InDelta(t, tc.want, got, 1e-9, "raw %q", tc.raw)
	}
}

func TestFailureResult(t *testing.T) {
	res := FailureResult()
	assert.Equal(t, "ERROR", res.PredictedClass)
	assert.Zero(t, res.Points)
}
