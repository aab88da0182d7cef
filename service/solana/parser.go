package solana

import (
	"encoding/binary"
	"fmt"

	"github.com/brojonat/txview/service/wallet"
	"github.com/gagliardetto/solana-go"
)

// Well-known Solana program IDs
var (
	// SystemProgramID is the native SOL transfer program
	SystemProgramID = solana.SystemProgramID

	// TokenProgramID is the SPL Token program
	TokenProgramID = solana.TokenProgramID

	// Token2022ProgramID is the Token Extensions program (Token-2022)
	Token2022ProgramID = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")
)

// System Program instruction types
const (
	SystemProgramTransferInstruction = uint32(2)
)

// Token Program instruction types
const (
	TokenProgramTransferInstruction        = uint8(3)
	TokenProgramTransferCheckedInstruction = uint8(12)
)

// ParseTxData extracts a backend payload from a decoded transaction.
//
// The first System or SPL Token transfer found decides the tx type and
// recipient. Transactions with neither are reported as dapp sign-and-send.
// LastValidBlockHeight is not recoverable from a landed transaction and is
// left at zero.
func ParseTxData(tx *solana.Transaction) (*wallet.SolanaTxData, error) {
	if tx == nil {
		return nil, fmt.Errorf("nil transaction")
	}

	accountKeys := tx.Message.AccountKeys
	data := &wallet.SolanaTxData{
		RecentBlockhash: tx.Message.RecentBlockhash.String(),
		TxType:          wallet.TxTypeSolanaDappSignAndSend,
	}
	if len(accountKeys) > 0 {
		data.FeePayer = accountKeys[0].String()
	}

	for _, instruction := range tx.Message.Instructions {
		if int(instruction.ProgramIDIndex) >= len(accountKeys) {
			return nil, fmt.Errorf("program id index %d out of bounds", instruction.ProgramIDIndex)
		}
		programID := accountKeys[instruction.ProgramIDIndex]

		switch {
		case programID.Equals(SystemProgramID):
			lamports, to, err := parseSystemTransfer(instruction, accountKeys)
			if err != nil {
				continue
			}
			data.TxType = wallet.TxTypeSolanaSystemTransfer
			data.Lamports = lamports
			data.ToWalletAddress = to.String()
			return data, nil

		case programID.Equals(TokenProgramID) || programID.Equals(Token2022ProgramID):
			amount, mint, to, err := parseTokenTransfer(instruction, accountKeys)
			if err != nil {
				continue
			}
			data.TxType = wallet.TxTypeSolanaSPLTokenTransfer
			data.Amount = amount
			data.ToWalletAddress = to.String()
			if !mint.IsZero() {
				data.SPLTokenMintAddress = mint.String()
			}
			return data, nil
		}
	}

	return data, nil
}

// parseSystemTransfer extracts the lamports and recipient from a System Program Transfer instruction.
func parseSystemTransfer(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) (uint64, solana.PublicKey, error) {
	// [0..4]  = instruction type (u32, 2 = Transfer)
	// [4..12] = lamports (u64)
	if len(instruction.Data) < 12 {
		return 0, solana.PublicKey{}, fmt.Errorf("instruction data too short: %d bytes", len(instruction.Data))
	}

	instructionType := binary.LittleEndian.Uint32(instruction.Data[0:4])
	if instructionType != SystemProgramTransferInstruction {
		return 0, solana.PublicKey{}, fmt.Errorf("not a transfer instruction: type %d", instructionType)
	}

	// Accounts: [from, to]
	to, err := accountAt(instruction, accountKeys, 1)
	if err != nil {
		return 0, solana.PublicKey{}, err
	}

	return binary.LittleEndian.Uint64(instruction.Data[4:12]), to, nil
}

// parseTokenTransfer extracts amount, mint and destination token account from
// an SPL Token Transfer or TransferChecked instruction. Plain Transfer does not
// name the mint, so it comes back zero.
func parseTokenTransfer(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) (amount uint64, mint, to solana.PublicKey, err error) {
	if len(instruction.Data) == 0 {
		return 0, mint, to, fmt.Errorf("empty instruction data")
	}

	switch instruction.Data[0] {
	case TokenProgramTransferInstruction:
		// [0] = 3, [1..9] = amount; accounts: [source, destination, authority]
		if len(instruction.Data) < 9 {
			return 0, mint, to, fmt.Errorf("transfer instruction data too short")
		}
		to, err = accountAt(instruction, accountKeys, 1)
		if err != nil {
			return 0, mint, to, err
		}
		return binary.LittleEndian.Uint64(instruction.Data[1:9]), mint, to, nil

	case TokenProgramTransferCheckedInstruction:
		// [0] = 12, [1..9] = amount, [9] = decimals;
		// accounts: [source, mint, destination, authority]
		if len(instruction.Data) < 10 {
			return 0, mint, to, fmt.Errorf("transferChecked instruction data too short")
		}
		mint, err = accountAt(instruction, accountKeys, 1)
		if err != nil {
			return 0, mint, to, err
		}
		to, err = accountAt(instruction, accountKeys, 2)
		if err != nil {
			return 0, mint, to, err
		}
		return binary.LittleEndian.Uint64(instruction.Data[1:9]), mint, to, nil

	default:
		return 0, mint, to, fmt.Errorf("unknown token instruction type: %d", instruction.Data[0])
	}
}

func accountAt(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey, pos int) (solana.PublicKey, error) {
	if len(instruction.Accounts) <= pos {
		return solana.PublicKey{}, fmt.Errorf("instruction missing account %d", pos)
	}
	idx := instruction.Accounts[pos]
	if int(idx) >= len(accountKeys) {
		return solana.PublicKey{}, fmt.Errorf("account index %d out of bounds", idx)
	}
	return accountKeys[idx], nil
}
