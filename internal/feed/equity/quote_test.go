package equity_test

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"portfoliopricing/internal/cache"
	"portfoliopricing/internal/feed/equity"
	"portfoliopricing/internal/pricing"
)

func chartBody(symbol string, price float64, currency string) io.ReadCloser {
	body := fmt.Sprintf(`{"chart":{"result":[{"meta":{"symbol":%q,"currency":%q,"shortName":"%s Inc.","regularMarketPrice":%g,"regularMarketTime":1735800000}}],"error":null}}`,
		symbol, currency, symbol, price)
	return io.NopCloser(bytes.NewBufferString(body))
}

func emptyChartBody() io.ReadCloser {
	return io.NopCloser(bytes.NewBufferString(`{"chart":{"result":[],"error":{"code":"Not Found"}}}`))
}

func TestQuote_ReturnsNormalizedQuote(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: http.StatusOK, Body: chartBody("AAPL", 187.5, "USD")}, nil
		}).
		Times(1)

	client, err := equity.NewClient(cache.New(), equity.WithHTTPClient(httpClient))
	require.NoError(t, err)

	q, err := client.Quote(t.Context(), "aapl")
	require.NoError(t, err)
	require.Equal(t, "AAPL", q.Symbol, "ticker must be normalized to upper case")
	require.Equal(t, 187.5, q.Price)
	require.Equal(t, "USD", q.Currency)
	require.Equal(t, pricing.SourceAPI, q.Source)
	require.False(t, q.Stale)
}

func TestQuote_ConcurrentCallsShareOneOutboundRequest(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			// Hold the request open long enough for the second caller to join.
			time.Sleep(50 * time.Millisecond)
			return &http.Response{StatusCode: http.StatusOK, Body: chartBody("AAPL", 187.5, "USD")}, nil
		}).
		Times(1)

	client, err := equity.NewClient(cache.New(), equity.WithHTTPClient(httpClient))
	require.NoError(t, err)

	var wg sync.WaitGroup
	quotes := make([]*pricing.Quote, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			quotes[i], errs[i] = client.Quote(t.Context(), "AAPL")
		}(i)
	}
	wg.Wait()

	for i := 0; i < 2; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, quotes[i])
		require.Equal(t, 187.5, quotes[i].Price)
	}
}

func TestQuote_FailedRefreshServesStaleValue(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	gomock.InOrder(
		httpClient.EXPECT().
			Do(gomock.Any()).
			Return(&http.Response{StatusCode: http.StatusOK, Body: chartBody("MSFT", 410.2, "USD")}, nil),
		httpClient.EXPECT().
			Do(gomock.Any()).
			Return(nil, errors.New("connection refused")),
	)

	client, err := equity.NewClient(cache.New(),
		equity.WithHTTPClient(httpClient),
		equity.WithTTL(time.Nanosecond), // expire immediately so the second call refetches
	)
	require.NoError(t, err)

	first, err := client.Quote(t.Context(), "MSFT")
	require.NoError(t, err)
	require.False(t, first.Stale)

	time.Sleep(time.Millisecond)

	second, err := client.Quote(t.Context(), "MSFT")
	require.NoError(t, err, "a failed refresh must degrade to the stale value, not an error")
	require.True(t, second.Stale)
	require.Equal(t, first.Price, second.Price)
}

func TestQuote_UnknownTickerIsTypedNotFound(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		Return(&http.Response{StatusCode: http.StatusOK, Body: emptyChartBody()}, nil)

	client, err := equity.NewClient(cache.New(), equity.WithHTTPClient(httpClient))
	require.NoError(t, err)

	q, err := client.Quote(t.Context(), "ZZZZINVALID")
	require.Nil(t, q)
	require.True(t, pricing.IsNotFound(err), "expected NotFoundError, got %v", err)
}

func TestQuotes_PartialResultOmitsFailedTickers(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			if bytes.Contains([]byte(req.URL.Path), []byte("AAPL")) {
				return &http.Response{StatusCode: http.StatusOK, Body: chartBody("AAPL", 187.5, "USD")}, nil
			}
			return &http.Response{StatusCode: http.StatusOK, Body: emptyChartBody()}, nil
		}).
		Times(2)

	client, err := equity.NewClient(cache.New(), equity.WithHTTPClient(httpClient))
	require.NoError(t, err)

	got := client.Quotes(t.Context(), []string{"AAPL", "ZZZZINVALID"})
	require.Len(t, got, 1)
	q, ok := got["AAPL"]
	require.True(t, ok)
	require.Greater(t, q.Price, 0.0)
}

func TestQuote_RateLimitedIsTypedError(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		Return(&http.Response{StatusCode: http.StatusTooManyRequests, Body: io.NopCloser(bytes.NewBufferString("slow down"))}, nil)

	client, err := equity.NewClient(cache.New(), equity.WithHTTPClient(httpClient))
	require.NoError(t, err)

	_, err = client.Quote(t.Context(), "AAPL")
	require.True(t, pricing.IsRateLimited(err), "expected RateLimitError, got %v", err)
}
