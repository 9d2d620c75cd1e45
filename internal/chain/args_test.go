package chain

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

const argsABI = `[
  {"type":"function","name":"increase_balance","inputs":[{"name":"amount","type":"uint256"}]},
  {"type":"function","name":"mixed","inputs":[
    {"name":"a","type":"uint8"},
    {"name":"b","type":"int32"},
    {"name":"c","type":"address"},
    {"name":"d","type":"bool"},
    {"name":"e","type":"string"},
    {"name":"f","type":"bytes"},
    {"name":"g","type":"uint64"}
  ]}
]`

func parseTestABI(t *testing.T) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(argsABI))
	require.NoError(t, err)
	return parsed
}

func TestParseArgs(t *testing.T) {
	a := parseTestABI(t)

	args, err := ParseArgs(a, "increase_balance", []string{"0x50"})
	require.NoError(t, err)
	require.Equal(t, []any{big.NewInt(80)}, args)

	addr := "0x00000000000000000000000000000000000000aa"
	args, err = ParseArgs(a, "mixed", []string{"255", "-7", addr, "true", "hello", "0x0102", "18446744073709551615"})
	require.NoError(t, err)
	require.Equal(t, uint8(255), args[0])
	require.Equal(t, int32(-7), args[1])
	require.Equal(t, common.HexToAddress(addr), args[2])
	require.Equal(t, true, args[3])
	require.Equal(t, "hello", args[4])
	require.Equal(t, []byte{1, 2}, args[5])
	require.Equal(t, uint64(18446744073709551615), args[6])

	// The parsed values must be accepted by the packer.
	_, err = a.Pack("mixed", args...)
	require.NoError(t, err)
}

func TestParseArgsErrors(t *testing.T) {
	a := parseTestABI(t)
	addr := "0x00000000000000000000000000000000000000aa"

	tests := []struct {
		name   string
		method string
		raw    []string
	}{
		{"unknown method", "nope", nil},
		{"arity", "increase_balance", []string{"1", "2"}},
		{"not a number", "increase_balance", []string{"eighty"}},
		{"negative uint", "increase_balance", []string{"-1"}},
		{"uint8 overflow", "mixed", []string{"256", "0", addr, "true", "", "0x", "0"}},
		{"int32 overflow", "mixed", []string{"0", "2147483648", addr, "true", "", "0x", "0"}},
		{"bad address", "mixed", []string{"0", "0", "0xzz", "true", "", "0x", "0"}},
		{"bad bool", "mixed", []string{"0", "0", addr, "maybe", "", "0x", "0"}},
		{"bad bytes", "mixed", []string{"0", "0", addr, "true", "", "0102", "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseArgs(a, tt.method, tt.raw)
			require.Error(t, err)
		})
	}
}

func TestCallArgsAreCopied(t *testing.T) {
	args := []any{1, 2}
	call := NewCall(common.Address{}, "m", args...)
	args[0] = 9

	got := call.Args()
	require.Equal(t, []any{1, 2}, got)
	got[1] = 9
	require.Equal(t, []any{1, 2}, call.Args())
}

func TestBlockID(t *testing.T) {
	require.Equal(t, "latest", Latest.String())
	require.Equal(t, "pending", Pending.String())
	require.Nil(t, Latest.BigNumber())
	require.Equal(t, big.NewInt(101), AtHeight(101).BigNumber())
}
