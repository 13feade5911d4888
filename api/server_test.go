package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"zvote/api"
	"zvote/cache"
	"zvote/decryption"
	"zvote/devnet"
	"zvote/encryption"
	"zvote/proposals"
	"zvote/service"
	"zvote/storage"
	"zvote/voteerr"
	"zvote/wallet"
)

type testServer struct {
	handler  http.Handler
	contract *devnet.Contract
	account  *wallet.Wallet
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	n, err := devnet.NewNetwork(devnet.WithKeySize(512))
	require.NoError(t, err)
	c := devnet.NewContract(n)
	t.Cleanup(c.Close)
	w, err := wallet.Generate(devnet.DefaultChainID)
	require.NoError(t, err)
	engines := encryption.NewService(devnet.NewLocalEngine(n))
	svc, err := service.NewVotingService(service.Config{
		Ledger:    c,
		Writer:    c.Writer(w.Address()),
		Identity:  w,
		Encryptor: encryption.NewVoteEncryptor(engines, nil),
		Tracker:   proposals.NewTracker(c),
		Decrypter: decryption.NewProtocol(c, engines, n.Domain()),
		Cache:     cache.NewReconciler(storage.NewMemoryStore()),
	})
	require.NoError(t, err)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return &testServer{
		handler:  api.NewServer(svc, api.WithMetricsHandler(metrics)).Handler(),
		contract: c,
		account:  w,
	}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) api.ErrorResponse {
	t.Helper()
	var resp api.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestProposalLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/proposals", `{"title":"Budget","description":"Approve","duration":2,"unit":"hours"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created service.CreateReceipt
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, uint64(1), created.ProposalID)

	rec = ts.do(t, http.MethodPost, "/api/proposals/1/vote", `{"choice":"yes"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/proposals/1/vote", `{"choice":"no"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, voteerr.KindAlreadyVoted, decodeError(t, rec).Kind)

	rec = ts.do(t, http.MethodGet, "/api/proposals/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view service.ProposalView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "Budget", view.Proposal.Title)
	assert.True(t, view.IsCreator)
	require.NotNil(t, view.VoteStatus)
	assert.True(t, view.VoteStatus.HasVoted)

	rec = ts.do(t, http.MethodPost, "/api/proposals/1/decrypt", "")
	assert.Equal(t, http.StatusForbidden, rec.Code, "still active")

	_, err := ts.contract.Writer(ts.account.Address()).CloseProposal(t.Context(), 1)
	require.NoError(t, err)

	rec = ts.do(t, http.MethodPost, "/api/proposals/1/decrypt", `{"force":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result service.ResultView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, uint64(1), result.Tally.YesVotes)
	assert.Equal(t, uint64(0), result.Tally.NoVotes)

	rec = ts.do(t, http.MethodGet, "/api/voters/"+ts.account.Address().Hex()+"/votes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var votes []service.MyVote
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &votes))
	require.Len(t, votes, 1)
	assert.Equal(t, "yes", votes[0].Choice)

	rec = ts.do(t, http.MethodGet, "/api/proposals?status=closed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list service.ProposalList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.ClosedCount)
	require.Len(t, list.Items, 1)
}

func TestErrorMapping(t *testing.T) {
	defer goleak.VerifyNone(t)
	ts := newTestServer(t)

	cases := []struct {
		method, path, body string
		status             int
		kind               voteerr.Kind
	}{
		{http.MethodGet, "/api/proposals/7", "", http.StatusNotFound, voteerr.KindProposalNotFound},
		{http.MethodGet, "/api/proposals/abc", "", http.StatusBadRequest, voteerr.KindInvalidArgument},
		{http.MethodGet, "/api/proposals?status=pending", "", http.StatusBadRequest, voteerr.KindInvalidArgument},
		{http.MethodPost, "/api/proposals", `{"title":"x","duration":1,"unit":"weeks"}`, http.StatusBadRequest, voteerr.KindInvalidArgument},
		{http.MethodPost, "/api/proposals", `{"bogus":1}`, http.StatusBadRequest, voteerr.KindInvalidArgument},
		{http.MethodPost, "/api/proposals/1/vote", `{}`, http.StatusBadRequest, voteerr.KindInvalidArgument},
		{http.MethodPost, "/api/proposals/1/vote", `{"choice":"maybe"}`, http.StatusBadRequest, voteerr.KindInvalidArgument},
		{http.MethodGet, "/api/voters/0x123/votes", "", http.StatusBadRequest, voteerr.KindInvalidIdentity},
	}
	for _, tc := range cases {
		rec := ts.do(t, tc.method, tc.path, tc.body)
		assert.Equal(t, tc.status, rec.Code, "%s %s", tc.method, tc.path)
		assert.Equal(t, tc.kind, decodeError(t, rec).Kind, "%s %s", tc.method, tc.path)
	}
}

func TestRequestIDAndAuxiliaryRoutes(t *testing.T) {
	defer goleak.VerifyNone(t)
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, err := uuid.Parse(rec.Header().Get(api.RequestIDHeader))
	assert.NoError(t, err)

	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set(api.RequestIDHeader, id)
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Equal(t, id, rec.Header().Get(api.RequestIDHeader))

	rec = ts.do(t, http.MethodGet, "/api/account", "")
	var account api.AccountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &account))
	assert.Equal(t, ts.account.Address().Hex(), account.Address)
	assert.False(t, account.ReadOnly)
}
