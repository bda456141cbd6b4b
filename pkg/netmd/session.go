package netmd

import (
	"crypto/cipher"
	"crypto/des"
	"crypto/rand"
	"fmt"
)

// sessionState tracks the lifecycle of a secure download session: a fresh
// session moves absent -> opened -> keyed -> active, then active ->
// closing -> absent on Close.
type sessionState int

const (
	sessionAbsent sessionState = iota
	sessionOpened
	sessionKeyed
	sessionActive
	sessionClosing
)

// Session is a secure download session: the EKB-derived root key has been
// delivered and a per-session DES key has been negotiated by nonce
// exchange, authorizing DownloadTrack calls.
type Session struct {
	dev   *Device
	state sessionState
	key   []byte // 8-byte DES session key once active
}

// OpenSecureSession enters a secure session, clearing any stale session
// material left behind by a previous, abnormally terminated run first.
func (d *Device) OpenSecureSession() (*Session, error) {
	// Best-effort: a prior process may have left one of these active, or
	// neither may be active yet. Either way only a fresh EnterSecureSession
	// matters from here.
	_ = d.forgetSessionKey()
	_ = d.leaveSecureSession()

	if err := d.enterSecureSession(); err != nil {
		return nil, fmt.Errorf("netmd: enter secure session: %w", err)
	}
	s := &Session{dev: d, state: sessionOpened}

	if err := d.sendKeyData(); err != nil {
		_ = d.leaveSecureSession()
		return nil, fmt.Errorf("netmd: send key data: %w", err)
	}
	s.state = sessionKeyed

	hostNonce := make([]byte, 8)
	if _, err := rand.Read(hostNonce); err != nil {
		_ = d.leaveSecureSession()
		return nil, fmt.Errorf("netmd: generate host nonce: %w", err)
	}
	devNonce, err := d.exchangeSessionKey(hostNonce)
	if err != nil {
		_ = d.leaveSecureSession()
		return nil, fmt.Errorf("netmd: exchange session key: %w", err)
	}
	nonce := append(append([]byte{}, hostNonce...), devNonce...)
	key, err := deriveSessionKey(rootKey, nonce)
	if err != nil {
		_ = d.forgetSessionKey()
		_ = d.leaveSecureSession()
		return nil, err
	}
	s.key = key
	s.state = sessionActive
	return s, nil
}

// LeafID reads the device's leaf ID, identifying which EKB keys it holds.
func (s *Session) LeafID() ([]byte, error) {
	return s.dev.getLeafID()
}

// Close invalidates the session key and leaves the secure session. Errors
// from the device are reported, but Close always attempts both steps.
func (s *Session) Close() error {
	if s == nil || s.state == sessionAbsent {
		return nil
	}
	s.state = sessionClosing
	forgetErr := s.dev.forgetSessionKey()
	leaveErr := s.dev.leaveSecureSession()
	s.state = sessionAbsent
	s.key = nil
	if forgetErr != nil {
		return fmt.Errorf("netmd: forget session key: %w", forgetErr)
	}
	if leaveErr != nil {
		return fmt.Errorf("netmd: leave secure session: %w", leaveErr)
	}
	return nil
}

//
// Device-level query wrappers for the secure-session command family.
//

func (d *Device) enterSecureSession() error {
	_, err := d.decode("1800 080046 f0030103 80 ff", nil, "1800 080046 f0030103 80 00")
	return err
}

func (d *Device) leaveSecureSession() error {
	_, err := d.decode("1800 080046 f0030103 81 ff", nil, "1800 080046 f0030103 81 00")
	return err
}

func (d *Device) getLeafID() ([]byte, error) {
	vals, err := d.decode("1800 080046 f0030103 11 ff", nil, "1800 080046 f0030103 11 00 %*")
	if err != nil {
		return nil, err
	}
	return vals[0].([]byte), nil
}

// sendKeyData delivers the fixed EKB key chain this package is built
// against, authorizing the device to decrypt the root key used for the
// rest of the session.
func (d *Device) sendKeyData() error {
	chainLen := len(ekbChainKeys)
	dataBytes := 16 + 16*chainLen + 24

	var keychain []byte
	for _, k := range ekbChainKeys {
		keychain = append(keychain, k...)
	}

	_, err := d.decode("1800 080046 f0030103 12 ff %w %d %d %d %d 00000000 %* %*",
		[]interface{}{
			uint64(dataBytes), uint64(dataBytes), uint64(chainLen), uint64(ekbDepth),
			uint64(ekbID), keychain, ekbSignature,
		},
		"1800 080046 f0030103 12 01 %?%? %?%?%?%?")
	return err
}

func (d *Device) exchangeSessionKey(hostNonce []byte) ([]byte, error) {
	if len(hostNonce) != 8 {
		return nil, &ArgumentError{Message: "host nonce must be 8 bytes"}
	}
	vals, err := d.decode("1800 080046 f0030103 20 ff 000000 %*", []interface{}{hostNonce},
		"1800 080046 f0030103 20 00 000000 %*")
	if err != nil {
		return nil, err
	}
	return vals[0].([]byte), nil
}

func (d *Device) forgetSessionKey() error {
	_, err := d.decode("1800 080046 f0030103 21 ff 000000", nil, "1800 080046 f0030103 21 00 000000")
	return err
}

// deriveSessionKey implements the two-stage retail-MAC construction: an
// 8-byte DES-CBC pass over every byte of nonce but its last block, whose
// final ciphertext block becomes the IV for a DES3-CBC pass that encrypts
// only that last 8-byte block. The 16-byte root key is treated as a
// two-key triple-DES key (K1, K2, K1) for the second stage, since DES3
// in this scheme is always keyed from a 16-byte value.
func deriveSessionKey(key, nonce []byte) ([]byte, error) {
	if len(key) != 16 {
		return nil, &ArgumentError{Message: "root key must be 16 bytes"}
	}
	if len(nonce) <= 8 {
		return nil, &ArgumentError{Message: "nonce must be more than 8 bytes"}
	}
	subkeyA := key[0:8]
	beginning := nonce[:len(nonce)-8]
	end := nonce[len(nonce)-8:]

	stage1, err := des.NewCipher(subkeyA)
	if err != nil {
		return nil, fmt.Errorf("netmd: des cipher: %w", err)
	}
	if len(beginning)%des.BlockSize != 0 {
		return nil, &ArgumentError{Message: "nonce prefix is not a multiple of the DES block size"}
	}
	cipherText := make([]byte, len(beginning))
	cipher.NewCBCEncrypter(stage1, zeroIV8).CryptBlocks(cipherText, beginning)
	iv2 := cipherText[len(cipherText)-8:]

	tripleKey := append(append([]byte{}, key...), key[:8]...) // K1, K2, K1
	stage2, err := des.NewTripleDESCipher(tripleKey)
	if err != nil {
		return nil, fmt.Errorf("netmd: triple des cipher: %w", err)
	}
	sessionKey := make([]byte, 8)
	cipher.NewCBCEncrypter(stage2, iv2).CryptBlocks(sessionKey, end)
	return sessionKey, nil
}
