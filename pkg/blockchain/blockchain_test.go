package blockchain

import (
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

func TestTokenNetworkABIParses(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(tokenNetworkABI))
	if err != nil {
		t.Fatalf("parse token network abi: %v", err)
	}
	for _, name := range []string{"openChannel", "setTotalDeposit", "cooperativeSettle"} {
		if _, ok := parsed.Methods[name]; !ok {
			t.Errorf("method %s missing", name)
		}
	}
	for _, name := range []string{"ChannelOpened", "ChannelSettled"} {
		if _, ok := parsed.Events[name]; !ok {
			t.Errorf("event %s missing", name)
		}
	}
	// The channel id must be the first indexed input so it lands in Topics[1].
	opened := parsed.Events["ChannelOpened"]
	if len(opened.Inputs) == 0 || !opened.Inputs[0].Indexed || opened.Inputs[0].Name != "channel_id" {
		t.Error("ChannelOpened must index channel_id first")
	}
}

func TestERC20ABIParses(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		t.Fatalf("parse erc20 abi: %v", err)
	}
	for _, name := range []string{"approve", "allowance", "balanceOf"} {
		if _, ok := parsed.Methods[name]; !ok {
			t.Errorf("method %s missing", name)
		}
	}
}

func TestIsNonceError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("nonce too low"), true},
		{errors.New("replacement transaction underpriced: Nonce reused"), true},
		{errors.New("insufficient funds"), false},
	}
	for _, c := range cases {
		if got := isNonceError(c.err); got != c.want {
			t.Errorf("isNonceError(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}
