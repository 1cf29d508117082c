package spend

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"spendgate/crypto"
	"spendgate/storage"
)

// Storage is the minimal key-value access the policy store needs from the
// surrounding state implementation.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var (
	policyPrefix = []byte("spend/policy/")
	ledgerPrefix = []byte("spend/ledger/")
)

func policyKey(principal crypto.Address) []byte {
	suffix := hex.EncodeToString(principal.Bytes())
	key := make([]byte, len(policyPrefix)+len(suffix))
	copy(key, policyPrefix)
	copy(key[len(policyPrefix):], suffix)
	return key
}

func ledgerKey(principal crypto.Address, day int64) []byte {
	bucket := strconv.FormatInt(day, 10)
	suffix := hex.EncodeToString(principal.Bytes())
	key := make([]byte, len(ledgerPrefix)+len(bucket)+1+len(suffix))
	copy(key, ledgerPrefix)
	copy(key[len(ledgerPrefix):], bucket)
	key[len(ledgerPrefix)+len(bucket)] = '/'
	copy(key[len(ledgerPrefix)+len(bucket)+1:], suffix)
	return key
}

type policyRecord struct {
	DailyCap  string `json:"dailyCap"`
	LikeCap   string `json:"likeCap"`
	RepostCap string `json:"repostCap"`
}

type amountRecord struct {
	Amount string `json:"amount"`
}

// DatabaseStore adapts a storage.Database into the Storage interface using
// JSON-encoded records.
type DatabaseStore struct {
	db storage.Database
}

// NewDatabaseStore wraps the provided database.
func NewDatabaseStore(db storage.Database) *DatabaseStore {
	return &DatabaseStore{db: db}
}

// KVGet implements Storage.
func (s *DatabaseStore) KVGet(key []byte, out interface{}) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("spend: database store not configured")
	}
	return storage.GetJSON(s.db, key, out)
}

// KVPut implements Storage.
func (s *DatabaseStore) KVPut(key []byte, value interface{}) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("spend: database store not configured")
	}
	return storage.PutJSON(s.db, key, value)
}
