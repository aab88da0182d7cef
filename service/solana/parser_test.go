package solana

import (
	"encoding/binary"
	"testing"

	"github.com/brojonat/txview/service/wallet"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func systemTransferData(lamports uint64) []byte {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], SystemProgramTransferInstruction)
	binary.LittleEndian.PutUint64(data[4:12], lamports)
	return data
}

func tokenTransferData(kind uint8, amount uint64) []byte {
	data := make([]byte, 10)
	data[0] = kind
	binary.LittleEndian.PutUint64(data[1:9], amount)
	data[9] = 6 // decimals, only read by TransferChecked
	return data
}

func TestParseTxData_SystemTransfer(t *testing.T) {
	from := newKey(t)
	to := newKey(t)
	blockhash := solana.Hash{42}

	tx := &solana.Transaction{
		Message: solana.Message{
			AccountKeys:     []solana.PublicKey{from, to, SystemProgramID},
			RecentBlockhash: blockhash,
			Instructions: []solana.CompiledInstruction{
				{ProgramIDIndex: 2, Accounts: []uint16{0, 1}, Data: systemTransferData(18446744073709551615)},
			},
		},
	}

	data, err := ParseTxData(tx)
	require.NoError(t, err)

	assert.Equal(t, wallet.TxTypeSolanaSystemTransfer, data.TxType)
	assert.Equal(t, from.String(), data.FeePayer)
	assert.Equal(t, to.String(), data.ToWalletAddress)
	assert.Equal(t, blockhash.String(), data.RecentBlockhash)
	assert.Equal(t, uint64(18446744073709551615), data.Lamports)
	assert.Zero(t, data.LastValidBlockHeight)
	assert.Nil(t, data.SendOptions)
}

func TestParseTxData_TokenTransfers(t *testing.T) {
	authority := newKey(t)
	source := newKey(t)
	dest := newKey(t)
	mint := newKey(t)

	tests := []struct {
		name      string
		programID solana.PublicKey
		kind      uint8
		accounts  []uint16
		wantMint  string
	}{
		{
			name:      "transfer checked",
			programID: TokenProgramID,
			kind:      TokenProgramTransferCheckedInstruction,
			accounts:  []uint16{1, 3, 2, 0}, // source, mint, dest, authority
			wantMint:  mint.String(),
		},
		{
			name:      "token-2022 transfer checked",
			programID: Token2022ProgramID,
			kind:      TokenProgramTransferCheckedInstruction,
			accounts:  []uint16{1, 3, 2, 0},
			wantMint:  mint.String(),
		},
		{
			name:      "plain transfer has no mint",
			programID: TokenProgramID,
			kind:      TokenProgramTransferInstruction,
			accounts:  []uint16{1, 2, 0}, // source, dest, authority
			wantMint:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := &solana.Transaction{
				Message: solana.Message{
					AccountKeys: []solana.PublicKey{authority, source, dest, mint, tt.programID},
					Instructions: []solana.CompiledInstruction{
						{ProgramIDIndex: 4, Accounts: tt.accounts, Data: tokenTransferData(tt.kind, 1000000)},
					},
				},
			}

			data, err := ParseTxData(tx)
			require.NoError(t, err)

			assert.Equal(t, wallet.TxTypeSolanaSPLTokenTransfer, data.TxType)
			assert.Equal(t, authority.String(), data.FeePayer)
			assert.Equal(t, dest.String(), data.ToWalletAddress)
			assert.Equal(t, uint64(1000000), data.Amount)
			assert.Equal(t, tt.wantMint, data.SPLTokenMintAddress)
			assert.Zero(t, data.Lamports)
		})
	}
}

func TestParseTxData_SkipsUnrelatedInstructions(t *testing.T) {
	from := newKey(t)
	to := newKey(t)
	other := newKey(t)

	// Non-transfer system instruction (CreateAccount = 0) comes first.
	createAccount := make([]byte, 52)

	tx := &solana.Transaction{
		Message: solana.Message{
			AccountKeys: []solana.PublicKey{from, to, SystemProgramID, other},
			Instructions: []solana.CompiledInstruction{
				{ProgramIDIndex: 3, Accounts: []uint16{}, Data: []byte("hello")},
				{ProgramIDIndex: 2, Accounts: []uint16{0, 1}, Data: createAccount},
				{ProgramIDIndex: 2, Accounts: []uint16{0, 1}, Data: systemTransferData(5000)},
			},
		},
	}

	data, err := ParseTxData(tx)
	require.NoError(t, err)
	assert.Equal(t, wallet.TxTypeSolanaSystemTransfer, data.TxType)
	assert.Equal(t, uint64(5000), data.Lamports)
}

func TestParseTxData_NoTransfer(t *testing.T) {
	payer := newKey(t)
	program := newKey(t)

	tx := &solana.Transaction{
		Message: solana.Message{
			AccountKeys: []solana.PublicKey{payer, program},
			Instructions: []solana.CompiledInstruction{
				{ProgramIDIndex: 1, Accounts: []uint16{0}, Data: []byte{1, 2, 3}},
			},
		},
	}

	data, err := ParseTxData(tx)
	require.NoError(t, err)
	assert.Equal(t, wallet.TxTypeSolanaDappSignAndSend, data.TxType)
	assert.Equal(t, payer.String(), data.FeePayer)
	assert.Empty(t, data.ToWalletAddress)
}

func TestParseTxData_Malformed(t *testing.T) {
	_, err := ParseTxData(nil)
	assert.Error(t, err)

	tx := &solana.Transaction{
		Message: solana.Message{
			AccountKeys: []solana.PublicKey{newKey(t)},
			Instructions: []solana.CompiledInstruction{
				{ProgramIDIndex: 5, Data: systemTransferData(1)},
			},
		},
	}
	_, err = ParseTxData(tx)
	assert.Error(t, err)

	// Transfer whose recipient index is out of range is ignored, not fatal.
	tx = &solana.Transaction{
		Message: solana.Message{
			AccountKeys: []solana.PublicKey{newKey(t), SystemProgramID},
			Instructions: []solana.CompiledInstruction{
				{ProgramIDIndex: 1, Accounts: []uint16{0, 9}, Data: systemTransferData(1)},
			},
		},
	}
	data, err := ParseTxData(tx)
	require.NoError(t, err)
	assert.Equal(t, wallet.TxTypeSolanaDappSignAndSend, data.TxType)
}
