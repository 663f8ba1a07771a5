package services

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/alliancemanager/apiserver/internal/pnw"
	"github.com/alliancemanager/apiserver/internal/secrets"
	"github.com/alliancemanager/apiserver/internal/store"
	"github.com/alliancemanager/apiserver/types"
)

// memUsers is an in-memory UserRepository enforcing the same uniqueness
// rules as the Postgres schema.
type memUsers struct {
	byID map[string]types.User
}

func newMemUsers() *memUsers {
	return &memUsers{byID: map[string]types.User{}}
}

func (m *memUsers) find(match func(types.User) bool) (types.User, error) {
	for _, u := range m.byID {
		if match(u) {
			return u, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (m *memUsers) GetByID(_ context.Context, id string) (types.User, error) {
	if u, ok := m.byID[id]; ok {
		return u, nil
	}
	return types.User{}, store.ErrNotFound
}

func (m *memUsers) GetByIdentifier(_ context.Context, identifier string) (types.User, error) {
	return m.find(func(u types.User) bool {
		return (u.Email != nil && *u.Email == strings.ToLower(identifier)) ||
			(u.Username != nil && *u.Username == identifier)
	})
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (types.User, error) {
	return m.find(func(u types.User) bool { return u.Email != nil && *u.Email == email })
}

func (m *memUsers) GetByUsername(_ context.Context, username string) (types.User, error) {
	return m.find(func(u types.User) bool { return u.Username != nil && *u.Username == username })
}

func (m *memUsers) GetByDiscordID(_ context.Context, discordID string) (types.User, error) {
	return m.find(func(u types.User) bool { return u.DiscordID != nil && *u.DiscordID == discordID })
}

func (m *memUsers) GetByNationID(_ context.Context, nationID int) (types.User, error) {
	return m.find(func(u types.User) bool { return u.NationID != nil && *u.NationID == nationID })
}

func (m *memUsers) violatesUnique(candidate types.User) bool {
	for _, u := range m.byID {
		if u.ID == candidate.ID {
			continue
		}
		if candidate.Email != nil && u.Email != nil && *candidate.Email == *u.Email {
			return true
		}
		if candidate.Username != nil && u.Username != nil && *candidate.Username == *u.Username {
			return true
		}
		if candidate.DiscordID != nil && u.DiscordID != nil && *candidate.DiscordID == *u.DiscordID {
			return true
		}
		if candidate.NationID != nil && u.NationID != nil && *candidate.NationID == *u.NationID {
			return true
		}
	}
	return false
}

func (m *memUsers) Create(_ context.Context, user types.User) (types.User, error) {
	if m.violatesUnique(user) {
		return types.User{}, store.ErrDuplicate
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = time.Now()
	m.byID[user.ID] = user
	return user, nil
}

func (m *memUsers) Update(_ context.Context, user types.User) (types.User, error) {
	if _, ok := m.byID[user.ID]; !ok {
		return types.User{}, store.ErrNotFound
	}
	if m.violatesUnique(user) {
		return types.User{}, store.ErrDuplicate
	}
	user.UpdatedAt = time.Now()
	m.byID[user.ID] = user
	return user, nil
}

func (m *memUsers) TouchLastActive(_ context.Context, id string) error {
	u, ok := m.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	u.LastActive = time.Now()
	m.byID[id] = u
	return nil
}

// memNations is an in-memory NationRepository.
type memNations struct {
	byID map[int]types.Nation
}

func newMemNations() *memNations {
	return &memNations{byID: map[int]types.Nation{}}
}

func (m *memNations) Get(_ context.Context, id int) (types.Nation, error) {
	if n, ok := m.byID[id]; ok {
		return n, nil
	}
	return types.Nation{}, store.ErrNotFound
}

func (m *memNations) Upsert(_ context.Context, nation types.Nation) (types.Nation, error) {
	nation.UpdatedAt = time.Now()
	m.byID[nation.ID] = nation
	return nation, nil
}

// fakeDirectory resolves API keys from a fixed map.
type fakeDirectory struct {
	nations map[string]pnw.Nation
	calls   int
}

func (f *fakeDirectory) NationByAPIKey(_ context.Context, apiKey string) (pnw.Nation, error) {
	f.calls++
	if n, ok := f.nations[apiKey]; ok {
		return n, nil
	}
	return pnw.Nation{}, pnw.ErrKeyRejected
}

func newTestService(t *testing.T) (*UserService, *memUsers, *memNations, *fakeDirectory) {
	t.Helper()
	box, err := secrets.NewBox(bytes.Repeat([]byte{0x13}, secrets.KeySize))
	require.NoError(t, err)
	users := newMemUsers()
	nations := newMemNations()
	directory := &fakeDirectory{nations: map[string]pnw.Nation{}}
	return NewUserService(users, nations, directory, box), users, nations, directory
}

func testNation(id int) pnw.Nation {
	return pnw.Nation{ID: id, NationName: "Arcadia", LeaderName: "Bob"}
}

func TestCreateUser_Success(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	user, err := svc.CreateUser(context.Background(), CreateUserData{
		Email:    "x@y.com",
		Username: "x",
		Password: "Abcdef12",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.False(t, user.Verified)
	require.NotNil(t, user.PasswordHash)
	assert.NotEqual(t, "Abcdef12", *user.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte("Abcdef12")))
	assert.WithinDuration(t, time.Now(), user.LastActive, time.Minute)
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, CreateUserData{Email: "a@b.com", Username: "a", Password: "Abcdef12"})
	require.NoError(t, err)

	_, err = svc.CreateUser(ctx, CreateUserData{Email: "a@b.com", Username: "other", Password: "Abcdef12"})
	assert.ErrorIs(t, err, ErrConflict)

	// Different email and username is fine.
	_, err = svc.CreateUser(ctx, CreateUserData{Email: "c@d.com", Username: "c", Password: "Abcdef12"})
	assert.NoError(t, err)
}

func TestCreateUser_DuplicateUsername(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, CreateUserData{Username: "taken", Password: "Abcdef12"})
	require.NoError(t, err)

	_, err = svc.CreateUser(ctx, CreateUserData{Username: "taken", Password: "Abcdef12"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestCreateUser_InvalidInput(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, CreateUserData{Email: "not-an-email", Password: "Abcdef12"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.CreateUser(ctx, CreateUserData{Email: "a@b.com", Password: "abc"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAuthenticate(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateUser(ctx, CreateUserData{Email: "a@b.com", Username: "alice", Password: "Abcdef12"})
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, "a@b.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "nobody@b.com", "Abcdef12")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	byEmail, err := svc.Authenticate(ctx, "a@b.com", "Abcdef12")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)

	byUsername, err := svc.Authenticate(ctx, "alice", "Abcdef12")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byUsername.ID)
	assert.WithinDuration(t, time.Now(), byUsername.LastActive, time.Minute)
}

func TestAuthenticate_MixedCaseEmail(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateUser(ctx, CreateUserData{Email: "Bob@Y.com", Password: "Abcdef12"})
	require.NoError(t, err)
	require.NotNil(t, created.Email)
	assert.Equal(t, "bob@y.com", *created.Email)

	// The email is stored lowercased; logging in with the string used at
	// registration must still work.
	user, err := svc.Authenticate(ctx, "Bob@Y.com", "Abcdef12")
	require.NoError(t, err)
	assert.Equal(t, created.ID, user.ID)

	user, err = svc.Authenticate(ctx, "bob@y.com", "Abcdef12")
	require.NoError(t, err)
	assert.Equal(t, created.ID, user.ID)
}

func TestAuthenticate_UsernameIsCaseSensitive(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, CreateUserData{Username: "Alice", Password: "Abcdef12"})
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, "alice", "Abcdef12")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "Alice", "Abcdef12")
	assert.NoError(t, err)
}

func TestAuthenticate_OAuthOnlyAccount(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.FindOrCreateDiscordUser(ctx, "123", "Bob", "bob@b.com")
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, "bob@b.com", "anything")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestFindOrCreateDiscordUser_Idempotent(t *testing.T) {
	svc, users, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.FindOrCreateDiscordUser(ctx, "123", "Bob", "")
	require.NoError(t, err)
	second, err := svc.FindOrCreateDiscordUser(ctx, "123", "Bob", "")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, users.byID, 1)
}

func TestFindOrCreateDiscordUser_SyncsDisplayName(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.FindOrCreateDiscordUser(ctx, "123", "Bob", "")
	require.NoError(t, err)

	renamed, err := svc.FindOrCreateDiscordUser(ctx, "123", "Bobby", "")
	require.NoError(t, err)
	require.NotNil(t, renamed.DiscordUsername)
	assert.Equal(t, "Bobby", *renamed.DiscordUsername)
}

func TestFindOrCreateDiscordUser_BackfillsEmail(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.FindOrCreateDiscordUser(ctx, "123", "Bob", "")
	require.NoError(t, err)
	assert.Nil(t, first.Email)

	// A later login that reports an email fills it in.
	second, err := svc.FindOrCreateDiscordUser(ctx, "123", "Bob", "Bob@Y.com")
	require.NoError(t, err)
	require.NotNil(t, second.Email)
	assert.Equal(t, "bob@y.com", *second.Email)
}

func TestFindOrCreateDiscordUser_EmailTakenByAnotherAccount(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, CreateUserData{Email: "bob@y.com", Username: "bob", Password: "Abcdef12"})
	require.NoError(t, err)
	_, err = svc.FindOrCreateDiscordUser(ctx, "123", "Bob", "")
	require.NoError(t, err)

	_, err = svc.FindOrCreateDiscordUser(ctx, "123", "Bob", "bob@y.com")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestVerifyNation_Success(t *testing.T) {
	svc, _, nations, directory := newTestService(t)
	ctx := context.Background()
	directory.nations["valid-key"] = testNation(42)

	created, err := svc.CreateUser(ctx, CreateUserData{Username: "x", Password: "Abcdef12"})
	require.NoError(t, err)

	user, nation, err := svc.VerifyNation(ctx, created.ID, "valid-key")
	require.NoError(t, err)

	assert.True(t, user.Verified)
	require.NotNil(t, user.NationID)
	assert.Equal(t, 42, *user.NationID)
	require.NotNil(t, user.NationName)
	assert.Equal(t, "Arcadia", *user.NationName)
	require.NotNil(t, user.LeaderName)
	assert.Equal(t, "Bob", *user.LeaderName)
	assert.NotEmpty(t, user.APIKeyCiphertext)
	assert.NotContains(t, string(user.APIKeyCiphertext), "valid-key")

	assert.Equal(t, 42, nation.ID)
	cached, err := nations.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "Arcadia", cached.NationName)
}

func TestVerifyNation_NationTakenByAnotherUser(t *testing.T) {
	svc, _, _, directory := newTestService(t)
	ctx := context.Background()
	directory.nations["key-one"] = testNation(42)
	directory.nations["key-two"] = testNation(42)

	u1, err := svc.CreateUser(ctx, CreateUserData{Username: "one", Password: "Abcdef12"})
	require.NoError(t, err)
	u2, err := svc.CreateUser(ctx, CreateUserData{Username: "two", Password: "Abcdef12"})
	require.NoError(t, err)

	_, _, err = svc.VerifyNation(ctx, u1.ID, "key-one")
	require.NoError(t, err)

	_, _, err = svc.VerifyNation(ctx, u2.ID, "key-two")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestVerifyNation_RelinkSameUser(t *testing.T) {
	svc, _, _, directory := newTestService(t)
	ctx := context.Background()
	directory.nations["valid-key"] = testNation(42)

	created, err := svc.CreateUser(ctx, CreateUserData{Username: "x", Password: "Abcdef12"})
	require.NoError(t, err)

	_, _, err = svc.VerifyNation(ctx, created.ID, "valid-key")
	require.NoError(t, err)

	// Re-linking the same nation to the same user is a no-op update.
	user, _, err := svc.VerifyNation(ctx, created.ID, "valid-key")
	require.NoError(t, err)
	assert.True(t, user.Verified)
}

func TestVerifyNation_InvalidKey(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateUser(ctx, CreateUserData{Username: "x", Password: "Abcdef12"})
	require.NoError(t, err)

	_, _, err = svc.VerifyNation(ctx, created.ID, "bogus")
	assert.ErrorIs(t, err, ErrExternalAuth)
}

func TestVerifyNation_UnknownUser(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, _, err := svc.VerifyNation(context.Background(), "missing", "anything")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRefreshNation_NoStoredKey(t *testing.T) {
	svc, _, _, directory := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateUser(ctx, CreateUserData{Username: "x", Password: "Abcdef12"})
	require.NoError(t, err)

	_, updated, err := svc.RefreshNation(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, updated)
	assert.Zero(t, directory.calls)
}

func TestRefreshNation_DirectoryFailureIsSilent(t *testing.T) {
	svc, _, _, directory := newTestService(t)
	ctx := context.Background()
	directory.nations["valid-key"] = testNation(42)

	created, err := svc.CreateUser(ctx, CreateUserData{Username: "x", Password: "Abcdef12"})
	require.NoError(t, err)
	_, _, err = svc.VerifyNation(ctx, created.ID, "valid-key")
	require.NoError(t, err)

	// Key revoked upstream.
	delete(directory.nations, "valid-key")

	_, updated, err := svc.RefreshNation(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, updated)
}

func TestRefreshNation_UpdatesUserAndCache(t *testing.T) {
	svc, _, nations, directory := newTestService(t)
	ctx := context.Background()
	directory.nations["valid-key"] = testNation(42)

	created, err := svc.CreateUser(ctx, CreateUserData{Username: "x", Password: "Abcdef12"})
	require.NoError(t, err)
	_, _, err = svc.VerifyNation(ctx, created.ID, "valid-key")
	require.NoError(t, err)

	renamed := testNation(42)
	renamed.NationName = "New Arcadia"
	directory.nations["valid-key"] = renamed

	user, updated, err := svc.RefreshNation(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, updated)
	require.NotNil(t, user.NationName)
	assert.Equal(t, "New Arcadia", *user.NationName)

	cached, err := nations.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "New Arcadia", cached.NationName)
}

func TestNationFor(t *testing.T) {
	svc, _, nations, directory := newTestService(t)
	ctx := context.Background()
	directory.nations["valid-key"] = testNation(42)

	created, err := svc.CreateUser(ctx, CreateUserData{Username: "x", Password: "Abcdef12"})
	require.NoError(t, err)

	// Unlinked user has no nation.
	_, err = svc.NationFor(ctx, created.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = svc.VerifyNation(ctx, created.ID, "valid-key")
	require.NoError(t, err)

	nation, err := svc.NationFor(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 42, nation.ID)

	// A stale cache row triggers a best-effort refresh on read.
	stale := nations.byID[42]
	stale.UpdatedAt = time.Now().Add(-48 * time.Hour)
	nations.byID[42] = stale
	before := directory.calls

	_, err = svc.NationFor(ctx, created.ID)
	require.NoError(t, err)
	assert.Greater(t, directory.calls, before)
}
