package crypto

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey("0x"+testKey, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	_, err = DecryptKey(blob, "wrong")
	assert.ErrorIs(t, err, ErrWrongPassword)
}

func TestEncryptKeyRejectsBadInput(t *testing.T) {
	_, err := EncryptKey(testKey, "")
	assert.Error(t, err)
	_, err = EncryptKey("zz", "pw")
	assert.Error(t, err)
	_, err = EncryptKey("abcd", "pw")
	assert.ErrorContains(t, err, "32 bytes")
}

func TestKeySourceLoad(t *testing.T) {
	raw, err := KeySource{RawKey: "0x" + testKey, KeyFile: "ignored"}.Load()
	require.NoError(t, err)
	assert.Equal(t, testKey, raw)

	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, WriteKeyFile(path, testKey, "pw"))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	fromFile, err := KeySource{KeyFile: path, Password: "pw"}.Load()
	require.NoError(t, err)
	assert.Equal(t, testKey, fromFile)

	_, err = KeySource{}.Load()
	assert.ErrorIs(t, err, ErrNoKey)
}

func TestSignerHeadersRecover(t *testing.T) {
	s, err := NewSigner(testKey)
	require.NoError(t, err)
	s.SetClock(func() time.Time { return time.Unix(1_700_000_000, 0) })

	key, _ := ethcrypto.HexToECDSA(testKey)
	assert.Equal(t, ethcrypto.PubkeyToAddress(key.PublicKey), s.Address())

	body := []byte(`{"market":"ETH-USDC"}`)
	h, err := s.Headers("post", "/orders", body)
	require.NoError(t, err)
	assert.Equal(t, "1700000000", h[HeaderTimestamp])
	assert.Equal(t, s.Address().Hex(), h[HeaderAddress])

	addr, err := Recover(RequestMessage("1700000000", "POST", "/orders", body), h[HeaderSignature])
	require.NoError(t, err)
	assert.Equal(t, s.Address(), addr)

	other, err := Recover(RequestMessage("1700000000", "POST", "/orders", []byte("{}")), h[HeaderSignature])
	require.NoError(t, err)
	assert.NotEqual(t, s.Address(), other, "signature binds the body")
}

func TestNewSignerRejectsGarbage(t *testing.T) {
	_, err := NewSigner("not-a-key")
	assert.Error(t, err)
}
