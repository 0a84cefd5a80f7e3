package state

import "fmt"

var (
	bankBalancePrefix = []byte("bank/balance/")
	assetPrefix       = []byte("bank/asset/")
	chainMetaKeyBytes = []byte("chain/meta")
	noncePrefix       = []byte("account/nonce/")
)

func nonceKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", noncePrefix, addr))
}

func bankBalanceKey(addr [20]byte, asset string) []byte {
	return []byte(fmt.Sprintf("%s%x/%s", bankBalancePrefix, addr, asset))
}

func bankAccountPrefix(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x/", bankBalancePrefix, addr))
}

func assetKey(asset string) []byte {
	return append(append([]byte(nil), assetPrefix...), []byte(asset)...)
}
