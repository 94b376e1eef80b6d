package events

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridoc-ai/veridoc/pkg/apperror"
)

func newTestGateway(t *testing.T) (*Service, *httptest.Server) {
	t.Helper()
	svc := newTestService(t, 0)
	h := NewHandler(svc, newTestLogger())

	e := echo.New()
	e.HTTPErrorHandler = apperror.HTTPErrorHandler(newTestLogger())
	RegisterRoutes(e, h)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return svc, srv
}

func dialJob(t *testing.T, srv *httptest.Server, jobID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/bulk-jobs/" + jobID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestStreamJobEvents_ConnectedFrameFirst(t *testing.T) {
	_, srv := newTestGateway(t)
	jobID := uuid.NewString()

	conn := dialJob(t, srv, jobID)

	ev := readEvent(t, conn)
	assert.Equal(t, EventConnected, ev.Type)
	assert.Equal(t, jobID, ev.JobID)
	assert.NotEmpty(t, ev.Timestamp)
}

func TestStreamJobEvents_DeliversPublishedEvents(t *testing.T) {
	svc, srv := newTestGateway(t)
	jobID := uuid.NewString()

	conn := dialJob(t, srv, jobID)
	_ = readEvent(t, conn) // connected frame

	// The subscription is registered after the connected frame is
	// written; wait for it before publishing.
	require.Eventually(t, func() bool {
		return svc.SubscriberCount(jobID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	svc.Publish(jobID, NewDocumentStarted(jobID, "doc-1", "statement.pdf", 12))
	svc.Publish(jobID, NewDocumentCompleted(jobID, "doc-1", "statement.pdf", 42, 3100))

	first := readEvent(t, conn)
	assert.Equal(t, EventDocumentStarted, first.Type)
	assert.Equal(t, "statement.pdf", first.DocumentName)

	second := readEvent(t, conn)
	assert.Equal(t, EventDocumentCompleted, second.Type)
	assert.Equal(t, 42, second.FieldsExtracted)
}

func TestStreamJobEvents_DisconnectUnsubscribes(t *testing.T) {
	svc, srv := newTestGateway(t)
	jobID := uuid.NewString()

	conn := dialJob(t, srv, jobID)
	_ = readEvent(t, conn)

	require.Eventually(t, func() bool {
		return svc.SubscriberCount(jobID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	conn.Close()

	assert.Eventually(t, func() bool {
		return svc.SubscriberCount(jobID) == 0
	}, 3*time.Second, 10*time.Millisecond, "closing the socket must release the subscription")
}

func TestStreamJobEvents_RejectsInvalidJobID(t *testing.T) {
	_, srv := newTestGateway(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/bulk-jobs/not-a-uuid"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)
}
