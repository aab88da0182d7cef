package solana

import (
	"github.com/brojonat/txview/service/wallet"
)

// TransferParams describes an outgoing transfer to build.
// A non-empty SPLTokenMint makes it an SPL token transfer of Amount base
// units; otherwise it is a System Program transfer of Lamports.
type TransferParams struct {
	FeePayer     string
	To           string
	Lamports     uint64
	SPLTokenMint string
	Amount       uint64
	SendOptions  *wallet.SolanaSendOptions
}

// IsSPL reports whether the params describe an SPL token transfer.
func (p TransferParams) IsSPL() bool {
	return p.SPLTokenMint != ""
}
