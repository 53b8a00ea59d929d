package contentunderstanding

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIVersion = "2024-12-01-preview"

type fakeService struct {
	mu         sync.Mutex
	requests   []*http.Request
	bodies     map[string]string
	polls      atomic.Int32
	pendingFor int32
	finalBody  string
	deleteCode int
	server     *httptest.Server
}

func newFakeService(t *testing.T) *fakeService {
	return startFakeService(t, httptest.NewServer)
}

func startFakeService(t *testing.T, start func(http.Handler) *httptest.Server) *fakeService {
	f := &fakeService{
		bodies:     make(map[string]string),
		finalBody:  `{"status":"Succeeded","result":{"contents":[{"fields":{"tags":["cat"]}}]}}`,
		deleteCode: http.StatusNoContent,
	}
	f.server = start(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

type staticCredential struct {
	mu     sync.Mutex
	scopes []string
}

func (c *staticCredential) GetToken(_ context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scopes = opts.Scopes
	return azcore.AccessToken{Token: "tok", ExpiresOn: time.Now().Add(time.Hour)}, nil
}

func (f *fakeService) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, r)
	f.bodies[r.Method+" "+r.URL.Path] = string(body)
	f.mu.Unlock()

	switch {
	case r.Method == http.MethodPut:
		w.Header().Set("Operation-Location", f.server.URL+"/operations/create")
		w.WriteHeader(http.StatusCreated)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, ":analyze"):
		w.Header().Set("Operation-Location", f.server.URL+"/operations/analyze")
		w.WriteHeader(http.StatusAccepted)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/operations/"):
		if f.polls.Add(1) <= f.pendingFor {
			_, _ = w.Write([]byte(`{"status":"Running"}`))
			return
		}
		_, _ = w.Write([]byte(f.finalBody))
	case r.Method == http.MethodDelete:
		w.WriteHeader(f.deleteCode)
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func (f *fakeService) client(t *testing.T) *Client {
	c, err := NewClient(f.server.URL, testAPIVersion, &ClientOptions{
		SubscriptionKey: "secret-key",
		PollInterval:    5 * time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient("https://example.cognitiveservices.azure.com", testAPIVersion, &ClientOptions{})
	assert.Error(t, err)

	_, err = NewClient("not a url", testAPIVersion, &ClientOptions{SubscriptionKey: "k"})
	assert.Error(t, err)

	_, err = NewClient("https://example.cognitiveservices.azure.com", "", &ClientOptions{SubscriptionKey: "k"})
	assert.Error(t, err)
}

func TestCreateAnalyzeAndDelete(t *testing.T) {
	f := newFakeService(t)
	f.pendingFor = 2
	c := f.client(t)
	ctx := context.Background()

	template := []byte(`{"description":"tags","fieldSchema":{"fields":{}}}`)
	op, err := c.BeginCreateAnalyzer(ctx, "video_tag_1", template)
	require.NoError(t, err)
	assert.Equal(t, f.server.URL+"/operations/create", op.Location)
	assert.JSONEq(t, string(template), f.bodies["PUT /contentunderstanding/analyzers/video_tag_1"])

	_, err = c.PollResult(ctx, op, time.Second)
	require.NoError(t, err)
	assert.EqualValues(t, 3, f.polls.Load())

	op, err = c.BeginAnalyze(ctx, "video_tag_1", "https://acct.blob.core.windows.net/videos/a.mp4?sig=x")
	require.NoError(t, err)
	var analyzeBody map[string]string
	require.NoError(t, json.Unmarshal([]byte(f.bodies["POST /contentunderstanding/analyzers/video_tag_1:analyze"]), &analyzeBody))
	assert.Equal(t, "https://acct.blob.core.windows.net/videos/a.mp4?sig=x", analyzeBody["url"])

	body, err := c.PollResult(ctx, op, time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, f.finalBody, string(body))

	require.NoError(t, c.DeleteAnalyzer(ctx, "video_tag_1"))

	for _, r := range f.requests {
		assert.Equal(t, "secret-key", r.Header.Get("Ocp-Apim-Subscription-Key"), r.URL.Path)
		assert.Equal(t, "video-tagging-api", r.Header.Get("x-ms-useragent"))
		if !strings.HasPrefix(r.URL.Path, "/operations/") {
			assert.Equal(t, testAPIVersion, r.URL.Query().Get("api-version"), r.URL.Path)
		}
	}
	last := f.requests[len(f.requests)-1]
	assert.Equal(t, http.MethodDelete, last.Method)
	assert.Equal(t, "/contentunderstanding/analyzers/video_tag_1", last.URL.Path)
}

func TestBearerTokenWithoutSubscriptionKey(t *testing.T) {
	f := startFakeService(t, httptest.NewTLSServer)
	cred := &staticCredential{}

	opts := &ClientOptions{Credential: cred, PollInterval: 5 * time.Millisecond}
	opts.Transport = f.server.Client()
	c, err := NewClient(f.server.URL, testAPIVersion, opts)
	require.NoError(t, err)

	ctx := context.Background()
	op, err := c.BeginCreateAnalyzer(ctx, "video_tag_1", []byte(`{}`))
	require.NoError(t, err)
	_, err = c.PollResult(ctx, op, time.Second)
	require.NoError(t, err)
	require.NoError(t, c.DeleteAnalyzer(ctx, "video_tag_1"))

	assert.Equal(t, []string{TokenScope}, cred.scopes)
	assert.Equal(t, "https://cognitiveservices.azure.com/.default", TokenScope)
	require.NotEmpty(t, f.requests)
	for _, r := range f.requests {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"), r.URL.Path)
		assert.Empty(t, r.Header.Get("Ocp-Apim-Subscription-Key"), r.URL.Path)
	}
}

func TestCreateRejectsInvalidTemplate(t *testing.T) {
	f := newFakeService(t)
	_, err := f.client(t).BeginCreateAnalyzer(context.Background(), "video_tag_1", []byte("{"))
	assert.Error(t, err)
	assert.Empty(t, f.requests)
}

func TestPollStatusIsCaseInsensitive(t *testing.T) {
	f := newFakeService(t)
	f.finalBody = `{"status":"succeeded"}`
	c := f.client(t)

	body, err := c.PollResult(context.Background(), &Operation{Location: f.server.URL + "/operations/x"}, time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"succeeded"}`, string(body))
}

func TestPollFailedOperation(t *testing.T) {
	f := newFakeService(t)
	f.finalBody = `{"status":"Failed","error":{"code":"InvalidFieldSchema","message":"field tags has no type"}}`
	c := f.client(t)

	_, err := c.PollResult(context.Background(), &Operation{Location: f.server.URL + "/operations/x"}, time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOperationFailed))
	assert.Contains(t, err.Error(), "InvalidFieldSchema")
	assert.Contains(t, err.Error(), "field tags has no type")
}

func TestPollTimeout(t *testing.T) {
	f := newFakeService(t)
	f.pendingFor = 1 << 30
	c := f.client(t)

	start := time.Now()
	_, err := c.PollResult(context.Background(), &Operation{Location: f.server.URL + "/operations/x"}, 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPollTimeout))
	assert.Equal(t, "operation timed out after 0.05 seconds", err.Error())
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestPollCancelledByCaller(t *testing.T) {
	f := newFakeService(t)
	f.pendingFor = 1 << 30
	c := f.client(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := c.PollResult(ctx, &Operation{Location: f.server.URL + "/operations/x"}, time.Minute)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrPollTimeout))
}

func TestDeleteMissingAnalyzerSucceeds(t *testing.T) {
	f := newFakeService(t)
	f.deleteCode = http.StatusNotFound
	assert.NoError(t, f.client(t).DeleteAnalyzer(context.Background(), "video_tag_gone"))
}

func TestDeleteFailure(t *testing.T) {
	f := newFakeService(t)
	f.deleteCode = http.StatusConflict
	assert.Error(t, f.client(t).DeleteAnalyzer(context.Background(), "video_tag_busy"))
}
