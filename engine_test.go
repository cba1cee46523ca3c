package authcore

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/kyrelabs/authcore/password"
)

// testConfig keeps argon2 cheap and TTLs short so the suite stays fast.
func testConfig(t *testing.T) Config {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}

	cfg := defaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	cfg.JWT.Issuer = "authcore-test"
	cfg.Password.Memory = 8192
	cfg.Password.Time = 2
	cfg.Password.Parallelism = 1
	cfg.Lockout.Threshold = 3
	cfg.Audit.Enabled = false
	cfg.Metrics.Enabled = true
	return cfg
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *mockStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	store := newMockStore()

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithRoles(map[string][]string{
			"user":  {"user.read"},
			"admin": {"user.read", "user.write", "admin.panel"},
		}).
		WithAccountStore(store).
		Build()
	if err != nil {
		t.Fatalf("engine build: %v", err)
	}
	t.Cleanup(engine.Close)

	return engine, store, mr
}

// seedAccount hashes the password with the engine's own hasher and stores
// the account.
func seedAccount(t *testing.T, engine *Engine, store *mockStore, id, username, passwd string, roles ...string) {
	t.Helper()

	hash, err := engine.hasher.Hash(passwd)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if len(roles) == 0 {
		roles = []string{"user"}
	}
	store.put(&Account{
		ID:           id,
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: hash,
		Status:       AccountActive,
		Roles:        roles,
	})
}

// newTestWeakHash hashes with the hasher's minimum parameters, below
// what testConfig configures.
func newTestWeakHash(passwd string) (string, error) {
	weak, err := password.New(password.Config{
		Memory:      8192,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		return "", err
	}
	return weak.Hash(passwd)
}

// mockStore is an in-memory AccountStore for tests.
type mockStore struct {
	mu       sync.Mutex
	accounts map[string]*Account
	twoFA    map[string]*TwoFactorRecord
	codes    map[string]map[[32]byte]bool // hash -> used
}

func newMockStore() *mockStore {
	return &mockStore{
		accounts: make(map[string]*Account),
		twoFA:    make(map[string]*TwoFactorRecord),
		codes:    make(map[string]map[[32]byte]bool),
	}
}

func (m *mockStore) put(account *Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[account.ID] = account
}

func (m *mockStore) GetAccountByIdentifier(_ context.Context, identifier string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	identifier = strings.ToLower(identifier)
	for _, account := range m.accounts {
		if strings.ToLower(account.Username) == identifier || strings.ToLower(account.Email) == identifier {
			copied := *account
			return &copied, nil
		}
	}
	return nil, ErrAccountNotFound
}

func (m *mockStore) GetAccountByID(_ context.Context, id string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

func (m *mockStore) UpdatePasswordHash(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	account.PasswordHash = hash
	return nil
}

func (m *mockStore) UpdateAccountStatus(_ context.Context, id string, status AccountStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	account.Status = status
	return nil
}

func (m *mockStore) GetTwoFactor(_ context.Context, id string) (*TwoFactorRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.twoFA[id]
	if !ok {
		return nil, nil
	}
	copied := *record
	return &copied, nil
}

func (m *mockStore) SaveTwoFactorSecret(_ context.Context, id string, secret []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.twoFA[id] = &TwoFactorRecord{Secret: secret}
	return nil
}

func (m *mockStore) EnableTwoFactor(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.twoFA[id]
	if !ok {
		return ErrTwoFactorNotEnrolled
	}
	record.Enabled = true
	if account, ok := m.accounts[id]; ok {
		account.TwoFactorEnabled = true
	}
	return nil
}

func (m *mockStore) DisableTwoFactor(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.twoFA, id)
	if account, ok := m.accounts[id]; ok {
		account.TwoFactorEnabled = false
	}
	return nil
}

func (m *mockStore) UpdateTwoFactorLastStep(_ context.Context, id string, step int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.twoFA[id]
	if !ok {
		return ErrTwoFactorNotEnrolled
	}
	if step > record.LastStep {
		record.LastStep = step
	}
	return nil
}

func (m *mockStore) ReplaceRecoveryCodes(_ context.Context, id string, codes []RecoveryCodeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch := make(map[[32]byte]bool, len(codes))
	for _, code := range codes {
		batch[code.Hash] = false
	}
	m.codes[id] = batch
	return nil
}

func (m *mockStore) ConsumeRecoveryCode(_ context.Context, id string, hash [32]byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch, ok := m.codes[id]
	if !ok {
		return false, nil
	}
	used, present := batch[hash]
	if !present || used {
		return false, nil
	}
	batch[hash] = true
	return true, nil
}

// currentCode computes the TOTP code for the account's stored secret at
// the given instant.
func currentCode(t *testing.T, store *mockStore, accountID string, at time.Time, cfg TwoFactorConfig) string {
	t.Helper()

	store.mu.Lock()
	record, ok := store.twoFA[accountID]
	store.mu.Unlock()
	if !ok {
		t.Fatal("no two-factor record for account")
	}

	code, err := hotpCode(record.Secret, at.Unix()/int64(cfg.Period), cfg.Digits, cfg.Algorithm)
	if err != nil {
		t.Fatalf("compute code: %v", err)
	}
	return code
}
