package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/simphiwe-mabaso/family-dining/internal/password"
	"github.com/simphiwe-mabaso/family-dining/internal/user"
)

func newTestHasher() *password.Hasher {
	return password.NewHasher(password.Params{Time: 1, MemoryKB: 1024, Threads: 1}, 4)
}

func newMiniredisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// fakeUsers is an in-memory UserRepository.
type fakeUsers struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*user.User
	// getErr fails the next GetByID call.
	getErr error
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: map[uuid.UUID]*user.User{}}
}

func (f *fakeUsers) Create(_ context.Context, p user.CreateParams) (*user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	email := user.NormalizeEmail(p.Email)
	for _, u := range f.byID {
		if u.Email == email {
			return nil, user.ErrDuplicateEmail
		}
	}

	now := time.Now()
	u := &user.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: p.PasswordHash,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		Phone:        p.Phone,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	f.byID[u.ID] = u
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	email = user.NormalizeEmail(email)
	for _, u := range f.byID {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, user.ErrNotFound
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.getErr; err != nil {
		f.getErr = nil
		return nil, err
	}

	u, ok := f.byID[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) UpdatePassword(_ context.Context, id uuid.UUID, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.byID[id]
	if !ok {
		return user.ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (f *fakeUsers) failNextGet(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getErr = err
}

func (f *fakeUsers) setActive(id uuid.UUID, active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[id].IsActive = active
}

// add stores a user with the given password hashed by h.
func (f *fakeUsers) add(t *testing.T, h PasswordHasher, email, pw string) *user.User {
	t.Helper()
	hash, err := h.Hash(context.Background(), pw)
	require.NoError(t, err)
	u, err := f.Create(context.Background(), user.CreateParams{
		Email: email, PasswordHash: hash, FirstName: "Naledi", LastName: "Khumalo",
	})
	require.NoError(t, err)
	return u
}

type activityEntry struct {
	UserID uuid.UUID
	Action string
	IP     string
}

type fakeActivity struct {
	mu      sync.Mutex
	entries []activityEntry
}

func (f *fakeActivity) Record(_ context.Context, userID uuid.UUID, action, ip, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, activityEntry{UserID: userID, Action: action, IP: ip})
	return nil
}

func (f *fakeActivity) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.Action)
	}
	return out
}

type fakeNotifier struct {
	mu          sync.Mutex
	welcomed    []string
	resetTokens map[string]string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{resetTokens: map[string]string{}}
}

func (f *fakeNotifier) SendWelcomeEmail(_ context.Context, u *user.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.welcomed = append(f.welcomed, u.Email)
	return nil
}

func (f *fakeNotifier) SendPasswordResetEmail(_ context.Context, u *user.User, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetTokens[u.Email] = token
	return nil
}

func (f *fakeNotifier) resetToken(email string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tok, ok := f.resetTokens[email]
	return tok, ok
}

func (f *fakeNotifier) resetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.resetTokens)
}

type fakeResetRecord struct {
	userID    uuid.UUID
	expiresAt time.Time
	used      bool
}

// fakeResets is an in-memory ResetTokenRepository. Redeem holds the lock for
// the whole operation, standing in for the SQL transaction.
type fakeResets struct {
	mu      sync.Mutex
	users   *fakeUsers
	records map[string]*fakeResetRecord
	now     func() time.Time
}

func newFakeResets(users *fakeUsers) *fakeResets {
	return &fakeResets{users: users, records: map[string]*fakeResetRecord{}, now: time.Now}
}

func (f *fakeResets) Create(_ context.Context, userID uuid.UUID, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[hashToken(token)] = &fakeResetRecord{userID: userID, expiresAt: expiresAt}
	return nil
}

func (f *fakeResets) Redeem(ctx context.Context, token, newHash string, onRedeemed RedeemHook) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.records[hashToken(token)]
	switch {
	case !ok:
		return uuid.Nil, ErrTokenInvalid
	case !f.now().Before(rec.expiresAt):
		return uuid.Nil, ErrTokenExpired
	case rec.used:
		return uuid.Nil, ErrTokenAlreadyUsed
	}

	if err := f.users.UpdatePassword(ctx, rec.userID, newHash); err != nil {
		return uuid.Nil, err
	}
	if err := onRedeemed(ctx, nil, rec.userID); err != nil {
		return uuid.Nil, err
	}
	rec.used = true
	return rec.userID, nil
}

func (f *fakeResets) Sweep(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var n int64
	for k, rec := range f.records {
		if rec.used || !f.now().Before(rec.expiresAt) {
			delete(f.records, k)
			n++
		}
	}
	return n, nil
}
