package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/brojonat/txview/service/db"
	"github.com/brojonat/txview/service/metrics"
	"github.com/brojonat/txview/service/solana"
	"github.com/brojonat/txview/service/wallet"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testSender = "8Kag8CqNdCX55s4A5W4iraS71h6mv6uTHqsJbexdrrZm"

type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateTransaction(ctx context.Context, tx *wallet.TransactionInfo) (*db.Transaction, error) {
	args := m.Called(ctx, tx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.Transaction), args.Error(1)
}

func (m *mockStore) GetTransaction(ctx context.Context, id string) (*db.Transaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.Transaction), args.Error(1)
}

func (m *mockStore) ListTransactionsByAddress(ctx context.Context, params db.ListTransactionsByAddressParams) ([]*db.Transaction, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*db.Transaction), args.Error(1)
}

func (m *mockStore) CountTransactionsByAddress(ctx context.Context, address string) (int64, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(int64), args.Error(1)
}

type mockSolana struct {
	mock.Mock
}

func (m *mockSolana) BuildTransfer(ctx context.Context, params solana.TransferParams) (*wallet.SolanaTxData, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*wallet.SolanaTxData), args.Error(1)
}

func (m *mockSolana) FetchTxData(ctx context.Context, signature string) (*wallet.SolanaTxData, error) {
	args := m.Called(ctx, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*wallet.SolanaTxData), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixtureJSON is the backend record used across tests.
const fixtureJSON = `{
	"id": "tx-1",
	"fromAddress": "` + testSender + `",
	"txHash": "",
	"txStatus": "submitted",
	"txType": "solana_system_transfer",
	"chainId": "0x65",
	"txDataUnion": {
		"solanaTxData": {
			"recentBlockhash": "GZH3rNwZ7XfGgGJx4YxBV4rKcGF6bCiEYpZ9ht5nZzts",
			"lastValidBlockHeight": 18446744073709551615,
			"feePayer": "` + testSender + `",
			"toWalletAddress": "",
			"splTokenMintAddress": "",
			"lamports": 123456789012345,
			"amount": 0,
			"txType": "solana_system_transfer",
			"sendOptions": {"maxRetries": 3}
		}
	},
	"createdTime": {"microseconds": 4000000},
	"submittedTime": {"microseconds": 4500000},
	"confirmedTime": {"microseconds": 5000000}
}`

func fixture(t *testing.T) *wallet.TransactionInfo {
	t.Helper()
	var tx wallet.TransactionInfo
	require.NoError(t, json.Unmarshal([]byte(fixtureJSON), &tx))
	return &tx
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestCreateTransaction(t *testing.T) {
	t.Run("stores and returns serializable record", func(t *testing.T) {
		store := new(mockStore)
		store.On("CreateTransaction", mock.Anything, fixture(t)).
			Return(&db.Transaction{Info: *fixture(t)}, nil).Once()

		reg := prometheus.NewRegistry()
		m := metrics.NewMetrics(reg)
		handler := handleCreateTransaction(store, m, testLogger())

		req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", strings.NewReader(fixtureJSON))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		body := decodeBody(t, rec)
		assert.Equal(t, "tx-1", body["id"])
		assert.Equal(t, map[string]any{"microseconds": 5000000.0}, body["confirmedTime"])

		union := body["txDataUnion"].(map[string]any)
		assert.Nil(t, union["ethTxData"])
		sol := union["solanaTxData"].(map[string]any)
		assert.Equal(t, "123456789012345", sol["lamports"])
		assert.Equal(t, "18446744073709551615", sol["lastValidBlockHeight"])
		assert.Equal(t, map[string]any{"maxRetries": map[string]any{"maxRetries": 3.0}, "preflightCommitment": nil, "skipPreflight": nil}, sol["sendOptions"])

		store.AssertExpectations(t)
	})

	tests := []struct {
		name           string
		body           string
		storeErr       error
		expectedStatus int
		expectedError  string
	}{
		{
			name:           "malformed JSON",
			body:           `{"id":"tx-1",`,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "invalid request body",
		},
		{
			name:           "extremely large request body",
			body:           `{"id":"` + strings.Repeat("A", 2*maxRequestBodySize) + `"}`,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "request body too large",
		},
		{
			name:           "missing id",
			body:           `{"fromAddress":"` + testSender + `"}`,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "id is required",
		},
		{
			name:           "invalid from address",
			body:           `{"id":"tx-1","fromAddress":"abc; DROP TABLE transactions"}`,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "invalid fromAddress",
		},
		{
			name:           "duplicate id",
			body:           fixtureJSON,
			storeErr:       fmt.Errorf("%w: tx-1", db.ErrTransactionExists),
			expectedStatus: http.StatusConflict,
			expectedError:  "transaction already exists",
		},
		{
			name:           "store failure",
			body:           fixtureJSON,
			storeErr:       errors.New("connection reset"),
			expectedStatus: http.StatusInternalServerError,
			expectedError:  "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(mockStore)
			if tt.storeErr != nil {
				store.On("CreateTransaction", mock.Anything, mock.Anything).Return(nil, tt.storeErr)
			}
			handler := handleCreateTransaction(store, nil, testLogger())

			req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.Contains(t, decodeBody(t, rec)["error"], tt.expectedError)
			if tt.storeErr == nil {
				store.AssertNotCalled(t, "CreateTransaction", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestGetTransaction(t *testing.T) {
	store := new(mockStore)
	store.On("GetTransaction", mock.Anything, "tx-1").Return(&db.Transaction{Info: *fixture(t)}, nil)
	store.On("GetTransaction", mock.Anything, "missing").Return(nil, fmt.Errorf("%w: missing", db.ErrTransactionNotFound))
	store.On("GetTransaction", mock.Anything, "broken").Return(nil, errors.New("boom"))

	mux := http.NewServeMux()
	mux.Handle("GET /api/v1/transactions/{id}", handleGetTransaction(store, nil, testLogger()))

	tests := []struct {
		id     string
		status int
	}{
		{"tx-1", http.StatusOK},
		{"missing", http.StatusNotFound},
		{"broken", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/transactions/"+tt.id, nil))
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				body := decodeBody(t, rec)
				assert.Equal(t, "tx-1", body["id"])
				assert.Equal(t, map[string]any{"microseconds": 4000000.0}, body["createdTime"])
			}
		})
	}
}

func TestListTransactions(t *testing.T) {
	t.Run("paginates with total", func(t *testing.T) {
		store := new(mockStore)
		store.On("ListTransactionsByAddress", mock.Anything, db.ListTransactionsByAddressParams{
			Address: testSender, Limit: 2, Offset: 4,
		}).Return([]*db.Transaction{{Info: *fixture(t)}}, nil)
		store.On("CountTransactionsByAddress", mock.Anything, testSender).Return(int64(5), nil)

		handler := handleListTransactions(store, nil, testLogger())
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/transactions?address="+testSender+"&limit=2&offset=4", nil))

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp listTransactionsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, int64(5), resp.Total)
		assert.Equal(t, int32(2), resp.Limit)
		assert.Equal(t, int32(4), resp.Offset)
		require.Len(t, resp.Transactions, 1)
		assert.Equal(t, "123456789012345", resp.Transactions[0].TxDataUnion.SolanaTxData.Lamports)
	})

	t.Run("defaults and empty result", func(t *testing.T) {
		store := new(mockStore)
		store.On("ListTransactionsByAddress", mock.Anything, db.ListTransactionsByAddressParams{
			Address: testSender, Limit: defaultListLimit, Offset: 0,
		}).Return([]*db.Transaction{}, nil)
		store.On("CountTransactionsByAddress", mock.Anything, testSender).Return(int64(0), nil)

		handler := handleListTransactions(store, nil, testLogger())
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/transactions?address="+testSender, nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"transactions":[],"total":0,"limit":50,"offset":0}`, rec.Body.String())
	})

	tests := []struct {
		name          string
		query         string
		expectedError string
	}{
		{"missing address", "", "address query parameter is required"},
		{"bad address", "?address=abc%00def", "control characters"},
		{"non-integer limit", "?address=abc&limit=ten", "invalid limit parameter"},
		{"zero limit", "?address=abc&limit=0", "limit must be at least 1"},
		{"limit too large", "?address=abc&limit=501", "limit cannot exceed 500"},
		{"negative offset", "?address=abc&offset=-1", "offset cannot be negative"},
		{"non-integer offset", "?address=abc&offset=x", "invalid offset parameter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(mockStore)
			handler := handleListTransactions(store, nil, testLogger())
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/transactions"+tt.query, nil))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, decodeBody(t, rec)["error"], tt.expectedError)
			store.AssertNotCalled(t, "ListTransactionsByAddress", mock.Anything, mock.Anything)
		})
	}
}

func TestSerialize(t *testing.T) {
	handler := handleSerialize(nil, testLogger())

	t.Run("converts without storing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/serialize", strings.NewReader(fixtureJSON)))

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, map[string]any{"microseconds": 4500000.0}, body["submittedTime"])
		sol := body["txDataUnion"].(map[string]any)["solanaTxData"].(map[string]any)
		assert.Equal(t, "0", sol["amount"])
	})

	t.Run("record without solana payload", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/serialize",
			strings.NewReader(`{"id":"eth-1","txDataUnion":{"ethTxData":{"nonce":"0x1","to":"0xabc"}}}`)))

		require.Equal(t, http.StatusOK, rec.Code)
		union := decodeBody(t, rec)["txDataUnion"].(map[string]any)
		assert.Nil(t, union["solanaTxData"])
		assert.Equal(t, "0x1", union["ethTxData"].(map[string]any)["nonce"])
	})

	t.Run("bad body", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/serialize", strings.NewReader(`[`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestBuildSolanaTransfer(t *testing.T) {
	const to = "Hn2UhEGQaJfvT7v3EKvHfGvoAqqsmDRgi1f37RJdMVHr"

	t.Run("returns serializable payload", func(t *testing.T) {
		svc := new(mockSolana)
		svc.On("BuildTransfer", mock.Anything, solana.TransferParams{
			FeePayer: testSender,
			To:       to,
			Lamports: 18446744073709551615,
		}).Return(&wallet.SolanaTxData{
			RecentBlockhash:      "GZH3rNwZ7XfGgGJx4YxBV4rKcGF6bCiEYpZ9ht5nZzts",
			LastValidBlockHeight: 300,
			FeePayer:             testSender,
			ToWalletAddress:      to,
			Lamports:             18446744073709551615,
			TxType:               wallet.TxTypeSolanaSystemTransfer,
		}, nil)

		handler := handleBuildSolanaTransfer(svc, testLogger())
		body := `{"feePayer":"` + testSender + `","to":"` + to + `","lamports":18446744073709551615}`
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/solana/transfers", strings.NewReader(body)))

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		resp := decodeBody(t, rec)
		assert.Equal(t, "18446744073709551615", resp["lamports"])
		assert.Equal(t, "300", resp["lastValidBlockHeight"])
		assert.Nil(t, resp["sendOptions"])
	})

	t.Run("validation", func(t *testing.T) {
		svc := new(mockSolana)
		handler := handleBuildSolanaTransfer(svc, testLogger())

		for _, body := range []string{
			`{"to":"` + to + `"}`,
			`{"feePayer":"` + testSender + `","to":"0xabc"}`,
			`{"feePayer":"` + testSender + `","to":"` + to + `","splTokenMint":"O0"}`,
			`not json`,
		} {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/solana/transfers", strings.NewReader(body)))
			assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		}
		svc.AssertNotCalled(t, "BuildTransfer", mock.Anything, mock.Anything)
	})

	t.Run("rpc failure", func(t *testing.T) {
		svc := new(mockSolana)
		svc.On("BuildTransfer", mock.Anything, mock.Anything).Return(nil, errors.New("rpc down"))

		handler := handleBuildSolanaTransfer(svc, testLogger())
		body := `{"feePayer":"` + testSender + `","to":"` + to + `"}`
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/solana/transfers", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})
}

func TestGetSolanaTransaction(t *testing.T) {
	const sig = "5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7"

	svc := new(mockSolana)
	svc.On("FetchTxData", mock.Anything, sig).Return(&wallet.SolanaTxData{Amount: 42, TxType: wallet.TxTypeSolanaSPLTokenTransfer}, nil).Once()
	svc.On("FetchTxData", mock.Anything, sig).Return(nil, fmt.Errorf("%w: %s", solana.ErrTransactionNotFound, sig)).Once()

	mux := http.NewServeMux()
	mux.Handle("GET /api/v1/solana/transactions/{signature}", handleGetSolanaTransaction(svc, testLogger()))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/solana/transactions/"+sig, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "42", decodeBody(t, rec)["amount"])

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/solana/transactions/"+sig, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/solana/transactions/0OIl", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidateAddress(t *testing.T) {
	valid := []string{testSender, "0xAbC123", "f1abjxfbp274xpdqcpuaykwkfb43omjotacm2p3za"}
	for _, addr := range valid {
		assert.NoError(t, validateAddress(addr), addr)
	}

	invalid := []string{"", strings.Repeat("a", maxAddressLength+1), "abc\x00", "abc def", "abc;--"}
	for _, addr := range invalid {
		assert.Error(t, validateAddress(addr), addr)
	}

	assert.NoError(t, validateSolanaAddress(testSender))
	assert.Error(t, validateSolanaAddress("0xabc"))
	assert.Error(t, validateSolanaAddress("1111"))
}

func TestStreamSubject(t *testing.T) {
	subject, desc := streamSubject("")
	assert.Equal(t, "wallet.txs.*", subject)
	assert.Equal(t, "all senders", desc)

	subject, desc = streamSubject(testSender)
	assert.Equal(t, "wallet.txs."+testSender, subject)
	assert.Equal(t, testSender, desc)
}

func TestEncodeStreamEvent(t *testing.T) {
	data, id, err := encodeStreamEvent([]byte(`{"transaction":{"id":"tx-1","fromAddress":"a"},"publishedAt":"2026-01-01T00:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, "tx-1", id)
	assert.NotContains(t, string(data), "\n")

	_, _, err = encodeStreamEvent([]byte(`{"publishedAt":"2026-01-01T00:00:00Z"}`))
	assert.Error(t, err)

	_, _, err = encodeStreamEvent([]byte(`garbage`))
	assert.Error(t, err)
}
