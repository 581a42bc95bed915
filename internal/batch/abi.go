package batch

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const erc20ABIJSON = `[
  {"type":"function","name":"approve","stateMutability":"nonpayable",
   "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"transfer","stateMutability":"nonpayable",
   "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"deposit","stateMutability":"payable","inputs":[],"outputs":[]}
]`

const controllerABIJSON = `[
  {"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[],"outputs":[]}
]`

const settlementABIJSON = `[
  {"type":"function","name":"approveOrder","stateMutability":"nonpayable",
   "inputs":[
     {"name":"sellToken","type":"address"},
     {"name":"buyToken","type":"address"},
     {"name":"receiver","type":"address"},
     {"name":"sellAmount","type":"uint256"},
     {"name":"buyAmount","type":"uint256"},
     {"name":"validTo","type":"uint32"},
     {"name":"feeAmount","type":"uint256"},
     {"name":"kind","type":"bytes32"},
     {"name":"sellTokenBalance","type":"bytes32"},
     {"name":"buyTokenBalance","type":"bytes32"}
   ],
   "outputs":[]}
]`

const multiSendABIJSON = `[
  {"type":"function","name":"multiSend","stateMutability":"payable",
   "inputs":[{"name":"transactions","type":"bytes"}],"outputs":[]}
]`

const rolesABIJSON = `[
  {"type":"function","name":"execTransactionWithRole","stateMutability":"nonpayable",
   "inputs":[
     {"name":"to","type":"address"},
     {"name":"value","type":"uint256"},
     {"name":"data","type":"bytes"},
     {"name":"operation","type":"uint8"},
     {"name":"role","type":"uint16"},
     {"name":"shouldRevert","type":"bool"}
   ],
   "outputs":[{"name":"success","type":"bool"}]}
]`

var (
	erc20ABI      = mustParseABI(erc20ABIJSON)
	controllerABI = mustParseABI(controllerABIJSON)
	settlementABI = mustParseABI(settlementABIJSON)
	multiSendABI  = mustParseABI(multiSendABIJSON)
	rolesABI      = mustParseABI(rolesABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("batch: invalid embedded ABI: " + err.Error())
	}
	return parsed
}
