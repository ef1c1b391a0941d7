package account

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"smallbiznis-loyalty/pkg/errutil"
	"smallbiznis-loyalty/pkg/es"
	"smallbiznis-loyalty/pkg/httpapi"
	"smallbiznis-loyalty/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var now = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func env(id string) Envelope {
	return Envelope{RequestID: "req-" + id, AccountID: id}
}

func TestDecideRollbackIsIdempotent(t *testing.T) {
	s := State{AccountID: "acc-1"}

	events, err := Decide(s, RollbackAccountCreation{Envelope: env("acc-1")}, now)
	require.NoError(t, err)
	require.Empty(t, events)

	events, err = Decide(s, CreateAccount{Envelope: env("acc-1"), FirstName: "Ana", Email: " Ana@Example.COM "}, now)
	require.NoError(t, err)
	s = Apply(s, events[0])
	require.Equal(t, "ana@example.com", s.Email)

	events, err = Decide(s, RollbackAccountCreation{Envelope: env("acc-1")}, now)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "rollback", events[0].(AccountDeleted).Reason)
	s = Apply(s, events[0])

	events, err = Decide(s, RollbackAccountCreation{Envelope: env("acc-1")}, now)
	require.NoError(t, err)
	require.Empty(t, events)

	_, err = Decide(s, UpdateAccount{Envelope: env("acc-1"), FirstName: "Bo"}, now)
	require.ErrorIs(t, err, ErrAccountDeleted)
}

func TestDecideRollbackSkipsForeignCreation(t *testing.T) {
	events, err := Decide(State{AccountID: "acc-1"}, CreateAccount{Envelope: env("acc-1"), FirstName: "Ana", Email: "ana@example.com"}, now)
	require.NoError(t, err)
	s := Apply(State{AccountID: "acc-1"}, events[0])
	require.Equal(t, "req-acc-1", s.CreatedBy)

	events, err = Decide(s, RollbackAccountCreation{Envelope: Envelope{RequestID: "req-other", AccountID: "acc-1"}}, now)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestDecideUpdate(t *testing.T) {
	s := Apply(State{AccountID: "acc-1"}, AccountCreated{AccountID: "acc-1", FirstName: "Ana", LastName: "Lee", Email: "ana@example.com"})

	events, err := Decide(s, UpdateAccount{Envelope: env("acc-1"), Email: "ANA@example.com"}, now)
	require.NoError(t, err)
	require.Empty(t, events)

	events, err = Decide(s, UpdateAccount{Envelope: env("acc-1"), LastName: "Park"}, now)
	require.NoError(t, err)
	require.Len(t, events, 1)
	updated := events[0].(AccountUpdated)
	require.Equal(t, "Ana", updated.FirstName)
	require.Equal(t, "Park", updated.LastName)
	require.Equal(t, "ana@example.com", updated.Email)

	_, err = Decide(State{}, DeleteAccount{Envelope: env("acc-2")}, now)
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestUniqueEmailAndLookup(t *testing.T) {
	db := testutil.NewTestDB(t, &es.Record{}, &es.Token{}, &Lookup{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	store := es.NewStore(db)
	svc := NewService(ServiceParams{DB: db, Runner: es.NewRunner(es.RunnerParams{Store: store, Node: node})})
	processor := es.NewProcessor("account-test", db, store, []es.Handler{NewLookupProjection(db)})
	ctx := context.Background()

	project := func() {
		_, err := processor.ProcessBatch(ctx)
		require.NoError(t, err)
	}

	err = svc.CreateAccount(ctx, CreateAccount{Envelope: env("acc-1"), FirstName: "Ana", Email: "not-an-email"})
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))

	require.NoError(t, svc.CreateAccount(ctx, CreateAccount{Envelope: env("acc-1"), FirstName: "Ana", Email: "ana@example.com"}))
	project()

	err = svc.CreateAccount(ctx, CreateAccount{Envelope: env("acc-2"), FirstName: "Bo", Email: "ANA@example.com"})
	require.ErrorIs(t, err, ErrEmailTaken)
	require.Equal(t, errutil.StatusConflict, errutil.StatusOf(err))

	err = svc.UpdateAccount(ctx, UpdateAccount{Envelope: env("acc-9"), FirstName: "Cy"})
	require.ErrorIs(t, err, ErrAccountNotFound)

	// keeping one's own email is not a conflict
	require.NoError(t, svc.UpdateAccount(ctx, UpdateAccount{Envelope: env("acc-1"), FirstName: "Anna", Email: "ana@example.com"}))
	project()

	var row Lookup
	require.NoError(t, db.First(&row, "id = ?", "acc-1").Error)
	require.Equal(t, "Anna", row.FirstName)

	applied, err := svc.RollbackAccountCreation(ctx, RollbackAccountCreation{Envelope: env("acc-1")})
	require.NoError(t, err)
	require.True(t, applied)
	project()

	var count int64
	require.NoError(t, db.Model(&Lookup{}).Count(&count).Error)
	require.Zero(t, count)

	// the email is free again once the lookup row is gone
	require.NoError(t, svc.CreateAccount(ctx, CreateAccount{Envelope: env("acc-2"), FirstName: "Bo", Email: "ana@example.com"}))
}

func TestLookupProjectionSkipsEmailCollision(t *testing.T) {
	db := testutil.NewTestDB(t, &es.Record{}, &es.Token{}, &Lookup{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	store := es.NewStore(db)
	svc := NewService(ServiceParams{DB: db, Runner: es.NewRunner(es.RunnerParams{Store: store, Node: node})})
	processor := es.NewProcessor("account-test", db, store, []es.Handler{NewLookupProjection(db)})
	ctx := context.Background()

	// both pass the interceptor because the lookup has not caught up yet
	require.NoError(t, svc.CreateAccount(ctx, CreateAccount{Envelope: env("acc-1"), FirstName: "Ana", Email: "dup@example.com"}))
	require.NoError(t, svc.CreateAccount(ctx, CreateAccount{Envelope: env("acc-2"), FirstName: "Bo", Email: "dup@example.com"}))

	n, err := processor.ProcessBatch(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	var rows []Lookup
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	require.Equal(t, "acc-1", rows[0].ID)

	token, err := processor.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, es.TokenRunning, token.Status)
}

func TestHTTPRoutes(t *testing.T) {
	db := testutil.NewTestDB(t, &es.Record{}, &es.Token{}, &Lookup{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	store := es.NewStore(db)
	svc := NewService(ServiceParams{DB: db, Runner: es.NewRunner(es.RunnerParams{Store: store, Node: node})})
	processor := es.NewProcessor("account-http-test", db, store, []es.Handler{NewLookupProjection(db)})
	ctx := context.Background()

	mux := runtime.NewServeMux()
	require.NoError(t, svc.RegisterRoutes(mux))

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(httpapi.RequestIDHeader, "req-http")
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}

	require.NoError(t, svc.CreateAccount(ctx, CreateAccount{Envelope: env("acc-1"), FirstName: "Ana", Email: "ana@example.com"}))
	require.Equal(t, http.StatusNotFound, do(http.MethodPut, "/v1/accounts/acc-1", `{"first_name":"Anna"}`).Code)

	_, err = processor.ProcessBatch(ctx)
	require.NoError(t, err)

	require.Equal(t, http.StatusBadRequest, do(http.MethodPut, "/v1/accounts/acc-1", `{"email":"nope"}`).Code)

	rec := do(http.MethodPut, "/v1/accounts/acc-1", `{"first_name":"Anna"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"account_id":"acc-1","request_id":"req-http"}`, rec.Body.String())

	rec = do(http.MethodDelete, "/v1/accounts/acc-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"account_id":"acc-1","status":"deleted"}`, rec.Body.String())

	records, err := store.Load(ctx, AggregateType, "acc-1")
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, "req-acc-1", records[0].RequestID)
	require.Equal(t, "req-http", records[2].RequestID)
}
