// Package wallet holds the transaction records as the wallet backend
// produces them. 64-bit values are native integers here; the serialize
// package converts them into a shape that survives JSON transport to a
// view layer.
package wallet

// TimeDelta is a duration or timestamp expressed in microseconds.
type TimeDelta struct {
	Microseconds int64 `json:"microseconds"`
}

// TxStatus is the lifecycle state of a wallet transaction.
type TxStatus string

const (
	TxStatusUnapproved TxStatus = "unapproved"
	TxStatusApproved   TxStatus = "approved"
	TxStatusRejected   TxStatus = "rejected"
	TxStatusSubmitted  TxStatus = "submitted"
	TxStatusConfirmed  TxStatus = "confirmed"
	TxStatusError      TxStatus = "error"
	TxStatusDropped    TxStatus = "dropped"
	TxStatusSigned     TxStatus = "signed"
)

// Solana transaction types.
const (
	TxTypeSolanaSystemTransfer   = "solana_system_transfer"
	TxTypeSolanaSPLTokenTransfer = "solana_spl_token_transfer"
	TxTypeSolanaDappSignAndSend  = "solana_dapp_sign_and_send"
	TxTypeSolanaSwap             = "solana_swap"
	TxTypeOther                  = "other"
)

// SolanaSendOptions mirrors the sendTransaction RPC options.
// Every field is optional.
type SolanaSendOptions struct {
	MaxRetries          *uint64 `json:"maxRetries"`
	PreflightCommitment *string `json:"preflightCommitment"`
	SkipPreflight       *bool   `json:"skipPreflight"`
}

// SolanaTxData is the Solana payload of a transaction.
type SolanaTxData struct {
	RecentBlockhash      string             `json:"recentBlockhash"`
	LastValidBlockHeight uint64             `json:"lastValidBlockHeight"`
	FeePayer             string             `json:"feePayer"`
	ToWalletAddress      string             `json:"toWalletAddress"`
	SPLTokenMintAddress  string             `json:"splTokenMintAddress"`
	Lamports             uint64             `json:"lamports"`
	Amount               uint64             `json:"amount"`
	TxType               string             `json:"txType"`
	SendOptions          *SolanaSendOptions `json:"sendOptions"`
}

// EthTxData is carried through untouched. Quantities are already hex strings.
type EthTxData struct {
	Nonce    string `json:"nonce"`
	GasPrice string `json:"gasPrice"`
	GasLimit string `json:"gasLimit"`
	To       string `json:"to"`
	Value    string `json:"value"`
	Data     []byte `json:"data"`
}

// FilTxData is carried through untouched.
type FilTxData struct {
	Nonce      string `json:"nonce"`
	GasPremium string `json:"gasPremium"`
	GasFeeCap  string `json:"gasFeeCap"`
	GasLimit   string `json:"gasLimit"`
	MaxFee     string `json:"maxFee"`
	To         string `json:"to"`
	Value      string `json:"value"`
}

// TxDataUnion holds the chain specific payload. At most one field is set.
type TxDataUnion struct {
	SolanaTxData *SolanaTxData `json:"solanaTxData"`
	EthTxData    *EthTxData    `json:"ethTxData"`
	FilTxData    *FilTxData    `json:"filTxData"`
}

// TransactionInfo is the top-level record emitted by the wallet backend.
type TransactionInfo struct {
	ID            string      `json:"id"`
	FromAddress   string      `json:"fromAddress"`
	TxHash        string      `json:"txHash"`
	TxStatus      TxStatus    `json:"txStatus"`
	TxType        string      `json:"txType"`
	ChainID       string      `json:"chainId"`
	TxDataUnion   TxDataUnion `json:"txDataUnion"`
	CreatedTime   TimeDelta   `json:"createdTime"`
	SubmittedTime TimeDelta   `json:"submittedTime"`
	ConfirmedTime TimeDelta   `json:"confirmedTime"`
}
