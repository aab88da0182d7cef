// Package serialize converts wallet backend records into records that are
// safe to hand to a view layer over JSON or a message bus.
//
// Values that can exceed 2^53 travel as base-10 strings. Durations travel
// as plain JSON numbers. Optional substructures are either fully present
// or explicitly null; nothing is omitted from the encoded form.
package serialize

import (
	"slices"
	"strconv"

	"github.com/brojonat/txview/service/wallet"
)

// TimeDelta is a microsecond count as a plain JSON number.
// Counts above 2^53 lose precision.
type TimeDelta struct {
	Microseconds float64 `json:"microseconds"`
}

// MaxRetries wraps the send retry count.
type MaxRetries struct {
	MaxRetries float64 `json:"maxRetries"`
}

// SendOptions is the serializable form of wallet.SolanaSendOptions.
type SendOptions struct {
	MaxRetries          *MaxRetries `json:"maxRetries"`
	PreflightCommitment *string     `json:"preflightCommitment"`
	SkipPreflight       *bool       `json:"skipPreflight"`
}

// SolanaTxData is the serializable form of wallet.SolanaTxData.
type SolanaTxData struct {
	RecentBlockhash      string       `json:"recentBlockhash"`
	LastValidBlockHeight string       `json:"lastValidBlockHeight"`
	FeePayer             string       `json:"feePayer"`
	ToWalletAddress      string       `json:"toWalletAddress"`
	SPLTokenMintAddress  string       `json:"splTokenMintAddress"`
	Lamports             string       `json:"lamports"`
	Amount               string       `json:"amount"`
	TxType               string       `json:"txType"`
	SendOptions          *SendOptions `json:"sendOptions"`
}

// TxDataUnion is the serializable form of wallet.TxDataUnion.
// Ethereum and Filecoin payloads are already string based and pass through.
type TxDataUnion struct {
	SolanaTxData *SolanaTxData     `json:"solanaTxData"`
	EthTxData    *wallet.EthTxData `json:"ethTxData"`
	FilTxData    *wallet.FilTxData `json:"filTxData"`
}

// TransactionInfo is the serializable form of wallet.TransactionInfo.
type TransactionInfo struct {
	ID            string          `json:"id"`
	FromAddress   string          `json:"fromAddress"`
	TxHash        string          `json:"txHash"`
	TxStatus      wallet.TxStatus `json:"txStatus"`
	TxType        string          `json:"txType"`
	ChainID       string          `json:"chainId"`
	TxDataUnion   TxDataUnion     `json:"txDataUnion"`
	CreatedTime   TimeDelta       `json:"createdTime"`
	SubmittedTime TimeDelta       `json:"submittedTime"`
	ConfirmedTime TimeDelta       `json:"confirmedTime"`
}

// PayloadKind names the chain payload carried by the record: "solana",
// "eth", "fil" or "none".
func (t *TransactionInfo) PayloadKind() string {
	switch {
	case t == nil:
		return "none"
	case t.TxDataUnion.SolanaTxData != nil:
		return "solana"
	case t.TxDataUnion.EthTxData != nil:
		return "eth"
	case t.TxDataUnion.FilTxData != nil:
		return "fil"
	}
	return "none"
}

// MakeTimeDelta converts a backend TimeDelta into a plain number of microseconds.
func MakeTimeDelta(td wallet.TimeDelta) TimeDelta {
	return TimeDelta{Microseconds: float64(td.Microseconds)}
}

// MakeSendOptions returns nil when data carries no send options.
// A retry count of zero is treated the same as a missing one.
func MakeSendOptions(data *wallet.SolanaTxData) *SendOptions {
	if data == nil || data.SendOptions == nil {
		return nil
	}

	opts := data.SendOptions
	out := &SendOptions{
		PreflightCommitment: clonePtr(opts.PreflightCommitment),
		SkipPreflight:       clonePtr(opts.SkipPreflight),
	}
	if opts.MaxRetries != nil && *opts.MaxRetries != 0 {
		out.MaxRetries = &MaxRetries{MaxRetries: float64(*opts.MaxRetries)}
	}
	return out
}

// MakeSolanaTxData stringifies the 64-bit fields of a Solana payload.
func MakeSolanaTxData(data *wallet.SolanaTxData) *SolanaTxData {
	if data == nil {
		return nil
	}
	return &SolanaTxData{
		RecentBlockhash:      data.RecentBlockhash,
		LastValidBlockHeight: strconv.FormatUint(data.LastValidBlockHeight, 10),
		FeePayer:             data.FeePayer,
		ToWalletAddress:      data.ToWalletAddress,
		SPLTokenMintAddress:  data.SPLTokenMintAddress,
		Lamports:             strconv.FormatUint(data.Lamports, 10),
		Amount:               strconv.FormatUint(data.Amount, 10),
		TxType:               data.TxType,
		SendOptions:          MakeSendOptions(data),
	}
}

// MakeTransaction converts a backend transaction record into its serializable form.
func MakeTransaction(tx *wallet.TransactionInfo) *TransactionInfo {
	if tx == nil {
		return nil
	}
	return &TransactionInfo{
		ID:          tx.ID,
		FromAddress: tx.FromAddress,
		TxHash:      tx.TxHash,
		TxStatus:    tx.TxStatus,
		TxType:      tx.TxType,
		ChainID:     tx.ChainID,
		TxDataUnion: TxDataUnion{
			SolanaTxData: MakeSolanaTxData(tx.TxDataUnion.SolanaTxData),
			EthTxData:    cloneEthTxData(tx.TxDataUnion.EthTxData),
			FilTxData:    clonePtr(tx.TxDataUnion.FilTxData),
		},
		CreatedTime:   MakeTimeDelta(tx.CreatedTime),
		SubmittedTime: MakeTimeDelta(tx.SubmittedTime),
		ConfirmedTime: MakeTimeDelta(tx.ConfirmedTime),
	}
}

// MakeTransactions converts a batch, preserving order.
func MakeTransactions(txs []*wallet.TransactionInfo) []*TransactionInfo {
	out := make([]*TransactionInfo, len(txs))
	for i, tx := range txs {
		out[i] = MakeTransaction(tx)
	}
	return out
}

func cloneEthTxData(d *wallet.EthTxData) *wallet.EthTxData {
	if d == nil {
		return nil
	}
	c := *d
	c.Data = slices.Clone(d.Data)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
