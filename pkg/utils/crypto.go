package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// GenerateID generates a random hex ID
func GenerateID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// IsValidAddress checks if a string is a valid Ethereum address
func IsValidAddress(address string) bool {
	return common.IsHexAddress(address)
}

// NormalizeAddress normalizes an address to lowercase with 0x prefix
func NormalizeAddress(address string) string {
	if !strings.HasPrefix(address, "0x") && !strings.HasPrefix(address, "0X") {
		address = "0x" + address
	}
	return strings.ToLower(address)
}

// IsValidTxHash checks if a string is a valid 32-byte transaction hash
func IsValidTxHash(hash string) bool {
	if !strings.HasPrefix(hash, "0x") {
		return false
	}
	raw, err := hex.DecodeString(hash[2:])
	if err != nil {
		return false
	}
	return len(raw) == common.HashLength
}

// DayKey returns the UTC calendar day key (YYYY-MM-DD) for t. Mission
// instancing and the cube rollover both key on this value so the daily
// reset is applied identically on every path.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// TodayKey returns the UTC calendar day key for the current time
func TodayKey() string {
	return DayKey(time.Now())
}
