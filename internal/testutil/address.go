package testutil

import (
	"github.com/ethereum/go-ethereum/common"
)

var (
	AccountAddr  = common.HexToAddress("0x64fa47c02430e5d69c0c5d340e23397bca308f7b")
	ContractAddr = common.HexToAddress("0x053759fefeea6bf916dddd5f69f7e6b2eefc81ce")
)
