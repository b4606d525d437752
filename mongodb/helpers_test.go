package mongodb

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/velmie/sagastore"
)

type orderSaga struct {
	ID      string `bson:"_id"`
	OrderID string `bson:"orderId"`
	Total   int64  `bson:"total"`
}

func (s *orderSaga) SagaID() string { return s.ID }

// untaggedSaga has no _id element of its own.
type untaggedSaga struct {
	Key    string `bson:"key"`
	Status string `bson:"status"`
}

func (s *untaggedSaga) SagaID() string { return s.Key }

type shipmentSaga struct {
	ID      string `bson:"_id"`
	Status  string `bson:"status,omitempty"`
	Carrier string `bson:"carrier,omitempty"`
}

func (s *shipmentSaga) SagaID() string { return s.ID }

type logEntry struct {
	level string
	msg   string
	args  []any
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
	onWarn  func()
}

func (l *recordingLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
	l.mu.Unlock()
}

func (l *recordingLogger) Debug(msg string, args ...any) { l.add("debug", msg, args) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.add("info", msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.add("error", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any) {
	l.add("warn", msg, args)
	if l.onWarn != nil {
		l.onWarn()
	}
}

func (l *recordingLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.level == level {
			n++
		}
	}
	return n
}

func newMock(t *testing.T) *mtest.T {
	t.Helper()
	return mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
}

func newMockPersistence(mt *mtest.T, opts ...Option) *Persistence {
	mt.Helper()
	opts = append([]Option{WithDatabaseName(mt.DB.Name())}, opts...)
	p, err := New(mt.Client, opts...)
	require.NoError(mt, err)
	return p
}

func ns(mt *mtest.T, coll string) string {
	return mt.DB.Name() + "." + coll
}

func updated(n int32) bson.D {
	return mtest.CreateSuccessResponse(
		bson.E{Key: "n", Value: n},
		bson.E{Key: "nModified", Value: n},
	)
}

func commandOf(mt *mtest.T, name string) bson.Raw {
	mt.Helper()
	evt := mt.GetStartedEvent()
	require.NotNil(mt, evt, "no %s command was sent", name)
	require.Equal(mt, name, evt.CommandName)
	return evt.Command
}

// fakeSession stands in for a driver session in transaction tests.
type fakeSession struct {
	mongo.Session
	commitErr error
	abortErr  error
	commits   int
	aborts    int
	ends      int
}

func (s *fakeSession) CommitTransaction(context.Context) error {
	s.commits++
	return s.commitErr
}

func (s *fakeSession) AbortTransaction(context.Context) error {
	s.aborts++
	return s.abortErr
}

func (s *fakeSession) EndSession(context.Context) {
	s.ends++
}

var _ sagastore.Logger = (*recordingLogger)(nil)
