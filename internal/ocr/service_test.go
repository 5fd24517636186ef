package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timonen87/ocr-microservices/internal/broker"
)

// onePixelPNG is a valid 1x1 transparent PNG.
const onePixelPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="

type stubEngine struct {
	text string
	err  error
	got  []byte
}

func (s *stubEngine) Name() string { return "stub" }

func (s *stubEngine) Recognize(ctx context.Context, image []byte) (string, error) {
	s.got = image
	return s.text, s.err
}

type fakeNotifier struct {
	to, subject, body string
	calls             int
	err               error
}

func (f *fakeNotifier) Enqueue(ctx context.Context, to, subject, body string) error {
	f.calls++
	f.to, f.subject, f.body = to, subject, body
	return f.err
}

type fakeStatuses struct {
	statuses map[string][]string
}

func (f *fakeStatuses) SetStatus(ctx context.Context, id, status string) error {
	if f.statuses == nil {
		f.statuses = make(map[string][]string)
	}
	f.statuses[id] = append(f.statuses[id], status)
	return nil
}

func requestBody(t *testing.T, userID int64, name, email, file string) []byte {
	t.Helper()
	b, err := json.Marshal(Request{UserName: name, UserEmail: email, UserID: userID, File: file})
	require.NoError(t, err)
	return b
}

func TestHandleRequestMirrorsIdentityFields(t *testing.T) {
	engine := &stubEngine{text: ""}
	notifier := &fakeNotifier{}
	svc := NewService(engine, notifier, nil, nil)

	body, err := svc.HandleRequest(context.Background(),
		requestBody(t, 7, "alice", "a@b.com", onePixelPNG))
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(body, &resp))
	require.Equal(t, int64(7), resp.UserID)
	require.Equal(t, "alice", resp.UserName)
	require.Equal(t, "a@b.com", resp.UserEmail)
	require.Equal(t, "", resp.OCRText)

	// The engine saw the decoded image, not the base64 text.
	raw, _ := base64.StdEncoding.DecodeString(onePixelPNG)
	require.Equal(t, raw, engine.got)
}

func TestHandleRequestEnqueuesNotification(t *testing.T) {
	engine := &stubEngine{text: "hello world"}
	notifier := &fakeNotifier{}
	svc := NewService(engine, notifier, nil, nil)

	_, err := svc.HandleRequest(context.Background(),
		requestBody(t, 7, "alice", "a@b.com", onePixelPNG))
	require.NoError(t, err)

	require.Equal(t, 1, notifier.calls)
	require.Equal(t, "a@b.com", notifier.to)
	require.Equal(t, "Text Recognition Completed", notifier.subject)
	require.Contains(t, notifier.body, "hello world")
}

func TestHandleRequestMalformedJSON(t *testing.T) {
	notifier := &fakeNotifier{}
	svc := NewService(&stubEngine{}, notifier, nil, nil)

	_, err := svc.HandleRequest(context.Background(), []byte(`{not json`))
	require.Error(t, err)
	require.Zero(t, notifier.calls)
}

func TestHandleRequestBadBase64(t *testing.T) {
	svc := NewService(&stubEngine{}, nil, nil, nil)

	_, err := svc.HandleRequest(context.Background(),
		requestBody(t, 1, "bob", "b@c.com", "@@not-base64@@"))
	require.Error(t, err)
}

func TestHandleRequestEngineFailure(t *testing.T) {
	engine := &stubEngine{err: errors.New("tesseract crashed")}
	notifier := &fakeNotifier{}
	svc := NewService(engine, notifier, nil, nil)

	_, err := svc.HandleRequest(context.Background(),
		requestBody(t, 1, "bob", "b@c.com", onePixelPNG))
	require.Error(t, err)
	require.Zero(t, notifier.calls, "no notification for failed processing")
}

func TestHandleRequestNotifierFailureDoesNotFailReply(t *testing.T) {
	engine := &stubEngine{text: "ok"}
	notifier := &fakeNotifier{err: errors.New("broker hiccup")}
	svc := NewService(engine, notifier, nil, nil)

	body, err := svc.HandleRequest(context.Background(),
		requestBody(t, 2, "carol", "c@d.com", onePixelPNG))
	require.NoError(t, err, "notification failure must not abort the reply path")
	require.NotEmpty(t, body)
}

func TestHandleRequestSkipsNotificationWithoutAddress(t *testing.T) {
	notifier := &fakeNotifier{}
	svc := NewService(&stubEngine{text: "x"}, notifier, nil, nil)

	_, err := svc.HandleRequest(context.Background(),
		requestBody(t, 3, "dave", "", onePixelPNG))
	require.NoError(t, err)
	require.Zero(t, notifier.calls)
}

func TestHandleRequestIsReplaySafe(t *testing.T) {
	// Redelivery after a crash replays the whole request. Processing must
	// succeed again; the duplicated notification is the documented cost.
	engine := &stubEngine{text: "same text"}
	notifier := &fakeNotifier{}
	svc := NewService(engine, notifier, nil, nil)
	payload := requestBody(t, 9, "frank", "f@g.com", onePixelPNG)

	first, err := svc.HandleRequest(context.Background(), payload)
	require.NoError(t, err)
	second, err := svc.HandleRequest(context.Background(), payload)
	require.NoError(t, err)

	require.Equal(t, string(first), string(second))
	require.Equal(t, 2, notifier.calls)
}

func TestHandleRequestRecordsStatuses(t *testing.T) {
	statuses := &fakeStatuses{}
	svc := NewService(&stubEngine{}, nil, statuses, nil)
	ctx := broker.ContextWithCorrelationID(context.Background(), "req-1")

	_, err := svc.HandleRequest(ctx, requestBody(t, 5, "eve", "e@f.com", onePixelPNG))
	require.NoError(t, err)
	require.Equal(t, []string{"processing", "succeeded"}, statuses.statuses["req-1"])

	_, err = svc.HandleRequest(broker.ContextWithCorrelationID(context.Background(), "req-2"),
		[]byte(`{broken`))
	require.Error(t, err)
	require.Equal(t, []string{"processing", "failed"}, statuses.statuses["req-2"])
}
