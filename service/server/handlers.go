package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/brojonat/txview/service/db"
	"github.com/brojonat/txview/service/metrics"
	"github.com/brojonat/txview/service/serialize"
	"github.com/brojonat/txview/service/solana"
	"github.com/brojonat/txview/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	maxAddressLength   = 100     // Solana addresses are 44 chars, Ethereum 42
	maxSignatureLength = 100     // base58 signatures are at most 88 chars
	defaultListLimit   = 50
	maxListLimit       = 500
)

var (
	// Addresses across supported chains are alphanumeric (base58, 0x-hex, f-addresses).
	validAddressRegex = regexp.MustCompile(`^[0-9A-Za-z]+$`)

	// Valid Solana address characters: base58 (no 0, O, I, l)
	validBase58Regex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// TransactionStore is the subset of db.Store the HTTP handlers need.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, tx *wallet.TransactionInfo) (*db.Transaction, error)
	GetTransaction(ctx context.Context, id string) (*db.Transaction, error)
	ListTransactionsByAddress(ctx context.Context, params db.ListTransactionsByAddressParams) ([]*db.Transaction, error)
	CountTransactionsByAddress(ctx context.Context, address string) (int64, error)
}

// SolanaService is the subset of solana.Client the HTTP handlers need.
type SolanaService interface {
	BuildTransfer(ctx context.Context, params solana.TransferParams) (*wallet.SolanaTxData, error)
	FetchTxData(ctx context.Context, signature string) (*wallet.SolanaTxData, error)
}

// listTransactionsResponse is the JSON response for the list endpoint.
type listTransactionsResponse struct {
	Transactions []*serialize.TransactionInfo `json:"transactions"`
	Total        int64                        `json:"total"`
	Limit        int32                        `json:"limit"`
	Offset       int32                        `json:"offset"`
}

// transferRequest is the JSON body for building a Solana transfer.
type transferRequest struct {
	FeePayer     string                    `json:"feePayer"`
	To           string                    `json:"to"`
	Lamports     uint64                    `json:"lamports"`
	SPLTokenMint string                    `json:"splTokenMint"`
	Amount       uint64                    `json:"amount"`
	SendOptions  *wallet.SolanaSendOptions `json:"sendOptions"`
}

// handleCreateTransaction returns a handler that stores a backend record.
// POST /api/v1/transactions
func handleCreateTransaction(store TransactionStore, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tx, ok := decodeTransaction(w, r, logger)
		if !ok {
			return
		}

		if strings.TrimSpace(tx.ID) == "" {
			writeError(w, "id is required", http.StatusBadRequest)
			return
		}
		if err := validateAddress(tx.FromAddress); err != nil {
			writeError(w, fmt.Sprintf("invalid fromAddress: %v", err), http.StatusBadRequest)
			return
		}

		created, err := store.CreateTransaction(r.Context(), tx)
		if err != nil {
			if errors.Is(err, db.ErrTransactionExists) {
				writeError(w, "transaction already exists", http.StatusConflict)
				return
			}
			logger.ErrorContext(r.Context(), "failed to create transaction", "id", tx.ID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.InfoContext(r.Context(), "transaction created", "id", tx.ID, "from", tx.FromAddress)

		record := serialize.MakeTransaction(&created.Info)
		m.RecordTransactionSerialized("http", record.PayloadKind())
		writeJSON(w, record, http.StatusCreated)
	})
}

// handleGetTransaction returns a handler that retrieves one record in its serializable form.
// GET /api/v1/transactions/{id}
func handleGetTransaction(store TransactionStore, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if id == "" {
			writeError(w, "id is required", http.StatusBadRequest)
			return
		}

		stored, err := store.GetTransaction(r.Context(), id)
		if err != nil {
			if errors.Is(err, db.ErrTransactionNotFound) {
				writeError(w, "transaction not found", http.StatusNotFound)
				return
			}
			logger.ErrorContext(r.Context(), "failed to get transaction", "id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		record := serialize.MakeTransaction(&stored.Info)
		m.RecordTransactionSerialized("http", record.PayloadKind())
		writeJSON(w, record, http.StatusOK)
	})
}

// handleListTransactions returns a handler that lists a sender's transactions.
// GET /api/v1/transactions?address=ADDRESS&limit=N&offset=N
func handleListTransactions(store TransactionStore, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		address := query.Get("address")

		if address == "" {
			writeError(w, "address query parameter is required", http.StatusBadRequest)
			return
		}
		if err := validateAddress(address); err != nil {
			logger.DebugContext(r.Context(), "invalid address", "address", address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		limit, err := parseIntParam(query.Get("limit"), defaultListLimit)
		if err != nil {
			writeError(w, "invalid limit parameter: must be an integer", http.StatusBadRequest)
			return
		}
		if limit < 1 {
			writeError(w, "limit must be at least 1", http.StatusBadRequest)
			return
		}
		if limit > maxListLimit {
			writeError(w, fmt.Sprintf("limit cannot exceed %d", maxListLimit), http.StatusBadRequest)
			return
		}

		offset, err := parseIntParam(query.Get("offset"), 0)
		if err != nil {
			writeError(w, "invalid offset parameter: must be an integer", http.StatusBadRequest)
			return
		}
		if offset < 0 {
			writeError(w, "offset cannot be negative", http.StatusBadRequest)
			return
		}

		rows, err := store.ListTransactionsByAddress(r.Context(), db.ListTransactionsByAddressParams{
			Address: address,
			Limit:   limit,
			Offset:  offset,
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to list transactions", "address", address, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		total, err := store.CountTransactionsByAddress(r.Context(), address)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to count transactions", "address", address, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := listTransactionsResponse{
			Transactions: make([]*serialize.TransactionInfo, 0, len(rows)),
			Total:        total,
			Limit:        limit,
			Offset:       offset,
		}
		for _, row := range rows {
			record := serialize.MakeTransaction(&row.Info)
			m.RecordTransactionSerialized("http", record.PayloadKind())
			resp.Transactions = append(resp.Transactions, record)
		}

		logger.DebugContext(r.Context(), "transactions listed", "address", address, "count", len(resp.Transactions))
		writeJSON(w, resp, http.StatusOK)
	})
}

// handleSerialize returns a handler that converts a backend record without storing it.
// POST /api/v1/serialize
func handleSerialize(m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tx, ok := decodeTransaction(w, r, logger)
		if !ok {
			return
		}

		record := serialize.MakeTransaction(tx)
		m.RecordTransactionSerialized("http", record.PayloadKind())
		writeJSON(w, record, http.StatusOK)
	})
}

// handleBuildSolanaTransfer returns a handler that builds an unsigned transfer payload.
// POST /api/v1/solana/transfers
func handleBuildSolanaTransfer(svc SolanaService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req transferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeDecodeError(w, err)
			return
		}

		if err := validateSolanaAddress(req.FeePayer); err != nil {
			writeError(w, fmt.Sprintf("invalid feePayer: %v", err), http.StatusBadRequest)
			return
		}
		if err := validateSolanaAddress(req.To); err != nil {
			writeError(w, fmt.Sprintf("invalid to: %v", err), http.StatusBadRequest)
			return
		}
		if req.SPLTokenMint != "" {
			if err := validateSolanaAddress(req.SPLTokenMint); err != nil {
				writeError(w, fmt.Sprintf("invalid splTokenMint: %v", err), http.StatusBadRequest)
				return
			}
		}

		data, err := svc.BuildTransfer(r.Context(), solana.TransferParams{
			FeePayer:     req.FeePayer,
			To:           req.To,
			Lamports:     req.Lamports,
			SPLTokenMint: req.SPLTokenMint,
			Amount:       req.Amount,
			SendOptions:  req.SendOptions,
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to build transfer", "fee_payer", req.FeePayer, "error", err)
			writeError(w, "failed to build transfer", http.StatusBadGateway)
			return
		}

		writeJSON(w, serialize.MakeSolanaTxData(data), http.StatusOK)
	})
}

// handleGetSolanaTransaction returns a handler that reads a landed transaction's payload.
// GET /api/v1/solana/transactions/{signature}
func handleGetSolanaTransaction(svc SolanaService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature := r.PathValue("signature")
		if err := validateSignature(signature); err != nil {
			writeError(w, fmt.Sprintf("invalid signature: %v", err), http.StatusBadRequest)
			return
		}

		data, err := svc.FetchTxData(r.Context(), signature)
		if err != nil {
			if errors.Is(err, solana.ErrTransactionNotFound) {
				writeError(w, "transaction not found", http.StatusNotFound)
				return
			}
			logger.ErrorContext(r.Context(), "failed to fetch solana transaction", "signature", signature, "error", err)
			writeError(w, "failed to fetch transaction", http.StatusBadGateway)
			return
		}

		writeJSON(w, serialize.MakeSolanaTxData(data), http.StatusOK)
	})
}

// decodeTransaction reads a backend record from the request body, writing a
// 400 and returning false when it cannot.
func decodeTransaction(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*wallet.TransactionInfo, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var tx wallet.TransactionInfo
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		logger.DebugContext(r.Context(), "invalid transaction body", "error", err)
		writeDecodeError(w, err)
		return nil, false
	}
	return &tx, true
}

func writeDecodeError(w http.ResponseWriter, err error) {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		writeError(w, "request body too large", http.StatusBadRequest)
		return
	}
	writeError(w, "invalid request body", http.StatusBadRequest)
}

func parseIntParam(value string, defaultValue int32) (int32, error) {
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.ParseInt(value, 10, 32)
	if err != nil {
		return 0, err
	}
	return int32(n), nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress validates a sender address for security and format.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	// Check for null bytes and control characters
	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}

	if !validAddressRegex.MatchString(address) {
		return errorf("invalid address format: must be alphanumeric")
	}

	return nil
}

// validateSolanaAddress additionally requires a base58 string that decodes
// to a 32 byte public key.
func validateSolanaAddress(address string) error {
	if err := validateAddress(address); err != nil {
		return err
	}
	if !validBase58Regex.MatchString(address) {
		return errorf("invalid address format: must contain only valid base58 characters")
	}
	if _, err := solanago.PublicKeyFromBase58(address); err != nil {
		return errorf("invalid solana public key: %v", err)
	}
	return nil
}

// validateSignature requires a base58 string that decodes to a 64 byte
// transaction signature.
func validateSignature(signature string) error {
	if signature == "" {
		return errorf("signature is required")
	}
	if len(signature) > maxSignatureLength {
		return errorf("signature too long: maximum length is %d characters", maxSignatureLength)
	}
	if !validBase58Regex.MatchString(signature) {
		return errorf("invalid signature format: must contain only valid base58 characters")
	}
	if _, err := solanago.SignatureFromBase58(signature); err != nil {
		return errorf("invalid solana signature: %v", err)
	}
	return nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
