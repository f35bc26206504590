package api_test

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mohsinsiddi/w3sale/internal/api"
	"github.com/Mohsinsiddi/w3sale/internal/ledger"
	"github.com/Mohsinsiddi/w3sale/internal/metrics"
	"github.com/Mohsinsiddi/w3sale/internal/sale"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

var (
	token = common.HexToAddress("0x0000000000000000000000000000000000001000")
	now   = time.Date(2021, 5, 19, 12, 44, 0, 0, time.UTC)
)

type party struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func newParty(t *testing.T) party {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return party{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

// sign produces an EIP-191 signature in the 27/28 convention.
func (p party) sign(t *testing.T, body []byte) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash(body), p.key)
	require.NoError(t, err)
	sig[64] += 27
	return hexutil.Encode(sig)
}

type gateway struct {
	srv   *httptest.Server
	admin party
	alice party
	book  *ledger.Book
	rec   *metrics.Recorder
	nonce int
}

func newGateway(t *testing.T) *gateway {
	t.Helper()
	g := &gateway{admin: newParty(t), alice: newParty(t), book: ledger.NewBook(), rec: metrics.New()}

	state, err := sale.Deploy(sale.Params{
		Administrator: g.admin.addr,
		Token:         sale.TokenTarget{Ledger: token},
		Rate:          2,
		IndividualCap: uint256.NewInt(42000),
		MaximumRaise:  uint256.NewInt(84000),
		StartTime:     now.Add(-48 * time.Hour),
		EndTime:       now.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, g.book.Mint(context.Background(), ledger.Key{Ledger: token, Owner: state.Address}, uint256.NewInt(1_000_000)))
	require.NoError(t, g.book.Mint(context.Background(), ledger.NativeKey(g.alice.addr), uint256.NewInt(50_000)))

	clock := func() time.Time { return now }
	c := sale.New(state,
		sale.WithTokenLedger(g.book),
		sale.WithTreasury(g.book),
		sale.WithObserver(g.rec),
		sale.WithClock(clock),
	)
	s := api.New(c, api.WithClock(clock), api.WithSignatureTTL(time.Minute), api.WithMetrics(g.rec.Handler()))
	g.srv = httptest.NewServer(s.Routes())
	t.Cleanup(g.srv.Close)
	return g
}

// post signs body with p and posts it; issued_at defaults to now and every
// body gets a fresh nonce.
func (g *gateway) post(t *testing.T, p party, path string, fields map[string]any) *http.Response {
	t.Helper()
	if _, ok := fields["issued_at"]; !ok {
		fields["issued_at"] = now
	}
	g.nonce++
	fields["nonce"] = fmt.Sprint(g.nonce)
	body, err := json.Marshal(fields)
	require.NoError(t, err)
	return g.postRaw(t, path, body, p.sign(t, body))
}

func (g *gateway) postRaw(t *testing.T, path string, body []byte, sig string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, g.srv.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	if sig != "" {
		req.Header.Set(api.SignatureHeader, sig)
	}
	resp, err := g.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (g *gateway) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := g.srv.Client().Get(g.srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

type errorResponse struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func (g *gateway) whitelistAlice(t *testing.T) {
	t.Helper()
	resp := g.post(t, g.admin, "/v1/whitelist", map[string]any{"address": g.alice.addr})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

// ---------------------------------------------------------------------------
// entry points
// ---------------------------------------------------------------------------

func TestBuyCreditsSignedCaller(t *testing.T) {
	g := newGateway(t)
	g.whitelistAlice(t)

	resp := g.post(t, g.alice, "/v1/buy", map[string]any{"amount": "1000"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode[struct {
		ID     string      `json:"id"`
		Status sale.Status `json:"status"`
	}](t, resp)
	assert.NotEmpty(t, out.ID)
	assert.Equal(t, "1000", out.Status.AmountRaised)
	assert.Equal(t, "1000", out.Status.Balance)

	credited, err := g.book.BalanceOf(context.Background(), ledger.Key{Ledger: token, Owner: g.alice.addr})
	require.NoError(t, err)
	assert.Equal(t, "2000", credited.Dec(), "rate 2")

	left, err := g.book.BalanceOf(context.Background(), ledger.NativeKey(g.alice.addr))
	require.NoError(t, err)
	assert.Equal(t, "49000", left.Dec())
}

func TestUnfundedBuyIsPaymentRequired(t *testing.T) {
	g := newGateway(t)
	bob := newParty(t)
	require.Equal(t, http.StatusOK, g.post(t, g.admin, "/v1/whitelist", map[string]any{"address": bob.addr}).StatusCode)

	resp := g.post(t, bob, "/v1/buy", map[string]any{"amount": "10"})
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.Contains(t, decode[errorResponse](t, resp).Error.Message, "not collected")

	status := decode[sale.Status](t, g.get(t, "/v1/status"))
	assert.Equal(t, "0", status.Balance)
	assert.Equal(t, 0, status.Contributors)
	credited, err := g.book.BalanceOf(context.Background(), ledger.Key{Ledger: token, Owner: bob.addr})
	require.NoError(t, err)
	assert.True(t, credited.IsZero())
}

func TestRejectionKindsMapToStatus(t *testing.T) {
	g := newGateway(t)

	resp := g.post(t, g.alice, "/v1/buy", map[string]any{"amount": "10"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "NotWhitelisted", decode[errorResponse](t, resp).Error.Kind)

	resp = g.post(t, g.alice, "/v1/pause", map[string]any{})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "NotAdmin", decode[errorResponse](t, resp).Error.Kind)

	g.whitelistAlice(t)
	resp = g.post(t, g.alice, "/v1/buy", map[string]any{"amount": "42001"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "InidividualExceed", decode[errorResponse](t, resp).Error.Kind)

	resp = g.post(t, g.admin, "/v1/withdraw", map[string]any{})
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
	assert.Equal(t, "RequirementNotMet", decode[errorResponse](t, resp).Error.Kind)

	require.Equal(t, http.StatusOK, g.post(t, g.admin, "/v1/pause", map[string]any{}).StatusCode)
	resp = g.post(t, g.alice, "/v1/buy", map[string]any{"amount": "10"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "SalePaused", decode[errorResponse](t, resp).Error.Kind)
}

func TestWhitelistBatchAndLookup(t *testing.T) {
	g := newGateway(t)
	bob := newParty(t)

	resp := g.post(t, g.admin, "/v1/whitelist/batch", map[string]any{"addresses": []common.Address{g.alice.addr, bob.addr}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode[map[string]any](t, g.get(t, "/v1/whitelist/"+bob.addr.Hex()))
	assert.Equal(t, true, out["whitelisted"])

	out = decode[map[string]any](t, g.get(t, "/v1/whitelist/"+g.admin.addr.Hex()))
	assert.Equal(t, false, out["whitelisted"])
}

func TestChangeAdminHandsOverPrivileges(t *testing.T) {
	g := newGateway(t)

	resp := g.post(t, g.admin, "/v1/admin", map[string]any{"new_admin": g.alice.addr})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, http.StatusForbidden, g.post(t, g.admin, "/v1/pause", map[string]any{}).StatusCode)
	assert.Equal(t, http.StatusOK, g.post(t, g.alice, "/v1/pause", map[string]any{}).StatusCode)
	assert.Equal(t, http.StatusOK, g.post(t, g.alice, "/v1/unpause", map[string]any{}).StatusCode)
}

func TestMissingArgumentsAreBadRequests(t *testing.T) {
	g := newGateway(t)
	assert.Equal(t, http.StatusBadRequest, g.post(t, g.admin, "/v1/whitelist", map[string]any{}).StatusCode)
	assert.Equal(t, http.StatusBadRequest, g.post(t, g.admin, "/v1/admin", map[string]any{}).StatusCode)
	assert.Equal(t, http.StatusBadRequest, g.post(t, g.alice, "/v1/buy", map[string]any{"amount": "-3"}).StatusCode)
}

// ---------------------------------------------------------------------------
// authentication
// ---------------------------------------------------------------------------

func TestUnsignedRequestsAreUnauthorized(t *testing.T) {
	g := newGateway(t)
	body := []byte(fmt.Sprintf(`{"issued_at":%q}`, now.Format(time.RFC3339)))

	assert.Equal(t, http.StatusUnauthorized, g.postRaw(t, "/v1/pause", body, "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, g.postRaw(t, "/v1/pause", body, "0xzz").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, g.postRaw(t, "/v1/pause", body, "0x"+strings.Repeat("00", 64)).StatusCode)
}

func TestSignatureBindsBody(t *testing.T) {
	g := newGateway(t)
	body := []byte(fmt.Sprintf(`{"issued_at":%q}`, now.Format(time.RFC3339)))
	sig := g.admin.sign(t, body)

	tampered := []byte(fmt.Sprintf(`{"issued_at":%q }`, now.Format(time.RFC3339)))
	resp := g.postRaw(t, "/v1/pause", tampered, sig)

	// A different body recovers a different address, which is not the admin.
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestStaleRequestsAreUnauthorized(t *testing.T) {
	g := newGateway(t)

	for _, at := range []time.Time{now.Add(-2 * time.Minute), now.Add(2 * time.Minute)} {
		resp := g.post(t, g.admin, "/v1/pause", map[string]any{"issued_at": at})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	body := []byte(`{}`)
	assert.Equal(t, http.StatusUnauthorized, g.postRaw(t, "/v1/pause", body, g.admin.sign(t, body)).StatusCode)
}

func TestReplayIsUnauthorized(t *testing.T) {
	g := newGateway(t)
	body := []byte(fmt.Sprintf(`{"issued_at":%q}`, now.Format(time.RFC3339)))
	sig := g.admin.sign(t, body)

	assert.Equal(t, http.StatusOK, g.postRaw(t, "/v1/pause", body, sig).StatusCode)
	resp := g.postRaw(t, "/v1/pause", body, sig)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, decode[errorResponse](t, resp).Error.Message, "already used")
}

// ---------------------------------------------------------------------------
// views
// ---------------------------------------------------------------------------

func TestViews(t *testing.T) {
	g := newGateway(t)
	g.whitelistAlice(t)
	require.Equal(t, http.StatusOK, g.post(t, g.alice, "/v1/buy", map[string]any{"amount": "500"}).StatusCode)

	status := decode[sale.Status](t, g.get(t, "/v1/status"))
	assert.Equal(t, g.admin.addr, status.Administrator)
	assert.Equal(t, "500", status.AmountRaised)
	assert.Equal(t, 1, status.Contributors)
	assert.False(t, status.Withdrawable)

	contrib := decode[map[string]string](t, g.get(t, "/v1/contributions/"+g.alice.addr.Hex()))
	assert.Equal(t, "500", contrib["contribution"])

	meta := decode[sale.Metadata](t, g.get(t, "/v1/metadata"))
	assert.Equal(t, []string{"TZIP-016"}, meta.Interfaces)

	resp := g.get(t, "/v1/contributions/not-an-address")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	g := newGateway(t)
	g.post(t, g.alice, "/v1/pause", map[string]any{})

	resp := g.get(t, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `w3sale_rejections_total{kind="NotAdmin"} 1`)
}
