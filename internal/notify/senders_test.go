package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-scheduler/pkg/logging"
)

func newTestTwilio(url string) *TwilioSender {
	s := NewTwilioSender("AC123", "token", "+15550001111", logging.New("error"))
	s.baseURL = url
	s.backoff = func(int) time.Duration { return time.Millisecond }
	return s
}

func TestTwilioSenderPostsForm(t *testing.T) {
	var gotTo, gotBody, gotUser string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", r.URL.Path)
		require.NoError(t, r.ParseForm())
		gotTo, gotBody = r.PostForm.Get("To"), r.PostForm.Get("Body")
		gotUser, _, _ = r.BasicAuth()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM1","status":"queued"}`))
	}))
	defer srv.Close()

	require.NoError(t, newTestTwilio(srv.URL).SendSMS(context.Background(), "+94771234567", "hello"))
	assert.Equal(t, "+94771234567", gotTo)
	assert.Equal(t, "hello", gotBody)
	assert.Equal(t, "AC123", gotUser)
}

func TestTwilioSenderRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	require.NoError(t, newTestTwilio(srv.URL).SendSMS(context.Background(), "+94771234567", "hello"))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestTwilioSenderDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"Invalid 'To' Phone Number"}`))
	}))
	defer srv.Close()

	err := newTestTwilio(srv.URL).SendSMS(context.Background(), "bogus", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code 21211")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTwilioSenderRequiresCredentials(t *testing.T) {
	err := NewTwilioSender("", "", "", nil).SendSMS(context.Background(), "+1", "x")
	assert.Error(t, err)
}

type stubSQS struct {
	input *sqs.SendMessageInput
	err   error
}

func (s *stubSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	s.input = params
	if s.err != nil {
		return nil, s.err
	}
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func TestSQSSenderEnqueuesJSON(t *testing.T) {
	api := &stubSQS{}
	queuedAt := time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC)
	s := &SQSSender{client: api, queueURL: "https://sqs.local/queue/sms", now: func() time.Time { return queuedAt }}

	require.NoError(t, s.SendSMS(context.Background(), "+94771234567", "hello"))
	assert.Equal(t, "https://sqs.local/queue/sms", aws.ToString(api.input.QueueUrl))

	var msg OutboundSMS
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(api.input.MessageBody)), &msg))
	assert.Equal(t, OutboundSMS{To: "+94771234567", Body: "hello", QueuedAt: queuedAt}, msg)
}

func TestSQSSenderWrapsErrors(t *testing.T) {
	s := &SQSSender{client: &stubSQS{err: errors.New("throttled")}, queueURL: "q", now: time.Now}
	err := s.SendSMS(context.Background(), "+1", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}
