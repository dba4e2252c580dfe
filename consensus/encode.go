package consensus

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
)

func mustNewType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic("consensus: abi type " + t + ": " + err.Error())
	}
	return typ
}

var (
	abiUint8        = mustNewType("uint8")
	abiUint32       = mustNewType("uint32")
	abiUint64       = mustNewType("uint64")
	abiUint256      = mustNewType("uint256")
	abiAddress      = mustNewType("address")
	abiBytes22      = mustNewType("bytes22")
	abiBytes32      = mustNewType("bytes32")
	abiBytes32Array = mustNewType("bytes32[]")
)

// Field order of every layout below is part of the commitment format.
var (
	vaultArgs = abi.Arguments{
		{Name: "vaultIndex", Type: abiUint64},
		{Name: "depositTimestamp", Type: abiUint64},
		{Name: "depositAmount", Type: abiUint256},
		{Name: "depositFee", Type: abiUint256},
		{Name: "expectedSats", Type: abiUint64},
		{Name: "btcPayoutScriptPubKey", Type: abiBytes22},
		{Name: "specifiedPayoutAddress", Type: abiAddress},
		{Name: "ownerAddress", Type: abiAddress},
		{Name: "nonce", Type: abiBytes32},
	}

	blockLeafArgs = abi.Arguments{
		{Name: "blockHash", Type: abiBytes32},
		{Name: "height", Type: abiUint32},
		{Name: "cumulativeChainwork", Type: abiUint256},
	}

	swapArgs = abi.Arguments{
		{Name: "swapIndex", Type: abiUint64},
		{Name: "aggregateVaultCommitment", Type: abiBytes32},
		{Name: "blockHash", Type: abiBytes32},
		{Name: "height", Type: abiUint32},
		{Name: "cumulativeChainwork", Type: abiUint256},
		{Name: "liquidityUnlockTimestamp", Type: abiUint64},
		{Name: "specifiedPayoutAddress", Type: abiAddress},
		{Name: "totalSwapFee", Type: abiUint256},
		{Name: "totalSwapAmount", Type: abiUint256},
		{Name: "state", Type: abiUint8},
	}

	nonceArgs = abi.Arguments{
		{Name: "salt", Type: abiBytes32},
		{Name: "vaultIndex", Type: abiUint64},
		{Name: "chainId", Type: abiUint64},
	}

	aggregateArgs = abi.Arguments{
		{Name: "vaultHashes", Type: abiBytes32Array},
	}

	publicInputArgs = abi.Arguments{
		{Name: "proposedBlockHash", Type: abiBytes32},
		{Name: "aggregateVaultCommitment", Type: abiBytes32},
		{Name: "priorMmrRoot", Type: abiBytes32},
		{Name: "newMmrRoot", Type: abiBytes32},
		{Name: "compressedLeavesHash", Type: abiBytes32},
		{Name: "cumulativeChainwork", Type: abiUint256},
		{Name: "specifiedPayoutAddress", Type: abiAddress},
		{Name: "blockHeight", Type: abiUint32},
		{Name: "confirmationBlocks", Type: abiUint32},
		{Name: "totalSwapFee", Type: abiUint256},
		{Name: "totalSwapAmount", Type: abiUint256},
	}
)

func abiPack(args abi.Arguments, what string, values ...any) ([]byte, error) {
	b, err := args.Pack(values...)
	if err != nil {
		return nil, ledgererr(ERR_ENCODING, what+": "+err.Error())
	}
	return b, nil
}

func EncodeVault(v *DepositVault) ([]byte, error) {
	return abiPack(vaultArgs, "vault",
		v.VaultIndex,
		v.DepositTimestamp,
		v.DepositAmount.ToBig(),
		v.DepositFee.ToBig(),
		v.ExpectedSats,
		v.BtcPayoutScriptPubKey,
		v.SpecifiedPayoutAddress,
		v.OwnerAddress,
		v.Nonce,
	)
}

func EncodeBlockLeaf(l *BlockLeaf) ([]byte, error) {
	return abiPack(blockLeafArgs, "block leaf",
		l.BlockHash,
		l.Height,
		l.CumulativeChainwork.ToBig(),
	)
}

func EncodeSwap(s *ProposedSwap) ([]byte, error) {
	return abiPack(swapArgs, "swap",
		s.SwapIndex,
		s.AggregateVaultCommitment,
		s.ProposedBlockLeaf.BlockHash,
		s.ProposedBlockLeaf.Height,
		s.ProposedBlockLeaf.CumulativeChainwork.ToBig(),
		s.LiquidityUnlockTimestamp,
		s.SpecifiedPayoutAddress,
		s.TotalSwapFee.ToBig(),
		s.TotalSwapAmount.ToBig(),
		uint8(s.State),
	)
}
