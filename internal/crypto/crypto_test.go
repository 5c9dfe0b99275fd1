package crypto

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/shproduct/internal/domain"
)

// First well-known local devnet account.
const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var testAddr = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

func sampleCall() domain.Call {
	return domain.Call{
		Contract: common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
		Method:   "deposit",
		Args:     json.RawMessage(`{"amount":"1000000"}`),
		Nonce:    7,
	}
}

func TestSigner_Address(t *testing.T) {
	s, err := NewSigner("0x"+testKey, 31337)
	require.NoError(t, err)
	assert.Equal(t, testAddr, s.Address())
	assert.Equal(t, int64(31337), s.ChainID())

	_, err = NewSigner("zz", 1)
	assert.Error(t, err)
}

func TestSignAndVerifyCall(t *testing.T) {
	s, err := NewSigner(testKey, 31337)
	require.NoError(t, err)
	v := NewVerifier(31337)

	call := sampleCall()
	require.NoError(t, s.SignCall(&call))
	assert.Equal(t, testAddr, call.Caller)
	assert.Len(t, call.Signature, 2+130)

	require.NoError(t, v.Verify(call))
	got, err := v.Recover(call)
	require.NoError(t, err)
	assert.Equal(t, testAddr, got)
}

func TestVerify_Rejects(t *testing.T) {
	s, err := NewSigner(testKey, 31337)
	require.NoError(t, err)
	signed := sampleCall()
	require.NoError(t, s.SignCall(&signed))

	tests := []struct {
		name   string
		mutate func(c *domain.Call)
		v      *Verifier
	}{
		{name: "tampered args", mutate: func(c *domain.Call) { c.Args = json.RawMessage(`{"amount":"9"}`) }},
		{name: "tampered method", mutate: func(c *domain.Call) { c.Method = "withdrawCoupon" }},
		{name: "tampered nonce", mutate: func(c *domain.Call) { c.Nonce = 8 }},
		{name: "other caller", mutate: func(c *domain.Call) { c.Caller = common.HexToAddress("0x01") }},
		{name: "missing signature", mutate: func(c *domain.Call) { c.Signature = "" }},
		{name: "garbage signature", mutate: func(c *domain.Call) { c.Signature = "0xnothex" }},
		{name: "short signature", mutate: func(c *domain.Call) { c.Signature = "0x1234" }},
		{name: "other chain", mutate: func(*domain.Call) {}, v: NewVerifier(1)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := signed
			tc.mutate(&c)
			v := tc.v
			if v == nil {
				v = NewVerifier(31337)
			}
			err := v.Verify(c)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrBadSignature)
		})
	}
}

func TestEncryptDecryptKey(t *testing.T) {
	data, err := EncryptKey("0x"+testKey, "hunter2")
	require.NoError(t, err)

	var kf keyFile
	require.NoError(t, json.Unmarshal(data, &kf))
	assert.Equal(t, testAddr.Hex(), kf.Address)
	assert.NotContains(t, string(data), testKey)

	got, err := DecryptKey(data, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	_, err = DecryptKey(data, "wrong")
	assert.Error(t, err)
	_, err = DecryptKey(data, "")
	assert.Error(t, err)
	_, err = EncryptKey(testKey, "")
	assert.Error(t, err)
	_, err = EncryptKey("abcd", "pw")
	assert.Error(t, err)
}

func TestLoadKey(t *testing.T) {
	k, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKey})
	require.NoError(t, err)
	assert.Equal(t, testKey, k)

	_, err = LoadKey(KeyConfig{RawPrivateKey: "xyz"})
	assert.Error(t, err)

	_, err = LoadKey(KeyConfig{})
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "deployer.json")
	require.NoError(t, WriteKeyFile(path, testKey, "pw"))
	s, err := LoadSigner(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"}, 5)
	require.NoError(t, err)
	assert.Equal(t, testAddr, s.Address())
}

func TestGenerateKey(t *testing.T) {
	k, err := GenerateKey()
	require.NoError(t, err)
	pk, err := ethcrypto.HexToECDSA(k)
	require.NoError(t, err)
	assert.NotEqual(t, common.Address{}, ethcrypto.PubkeyToAddress(pk.PublicKey))
}
