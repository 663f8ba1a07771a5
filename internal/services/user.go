package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/alliancemanager/apiserver/internal/pnw"
	"github.com/alliancemanager/apiserver/internal/secrets"
	"github.com/alliancemanager/apiserver/internal/store"
	"github.com/alliancemanager/apiserver/types"
)

const bcryptCost = 12

// nationCacheMaxAge is how old a cached nation row may get before a read
// triggers a best-effort refresh.
const nationCacheMaxAge = 24 * time.Hour

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (types.User, error)
	GetByIdentifier(ctx context.Context, identifier string) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	GetByUsername(ctx context.Context, username string) (types.User, error)
	GetByDiscordID(ctx context.Context, discordID string) (types.User, error)
	GetByNationID(ctx context.Context, nationID int) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)
	TouchLastActive(ctx context.Context, id string) error
}

// NationRepository defines persistence operations for the nation cache.
type NationRepository interface {
	Get(ctx context.Context, id int) (types.Nation, error)
	Upsert(ctx context.Context, nation types.Nation) (types.Nation, error)
}

// NationDirectory resolves an API key to the nation that owns it.
type NationDirectory interface {
	NationByAPIKey(ctx context.Context, apiKey string) (pnw.Nation, error)
}

// UserService encapsulates account use-cases: registration, login, Discord
// find-or-create, and nation verification.
type UserService struct {
	users     UserRepository
	nations   NationRepository
	directory NationDirectory
	box       *secrets.Box
}

func NewUserService(users UserRepository, nations NationRepository, directory NationDirectory, box *secrets.Box) *UserService {
	return &UserService{users: users, nations: nations, directory: directory, box: box}
}

// CreateUserData carries registration input. Empty strings mean absent.
type CreateUserData struct {
	Email           string
	Username        string
	Password        string
	DiscordID       string
	DiscordUsername string
}

// CreateUser validates input, hashes the password if present, and persists a
// new unverified user.
func (s *UserService) CreateUser(ctx context.Context, data CreateUserData) (types.User, error) {
	data.Email = strings.ToLower(strings.TrimSpace(data.Email))
	data.Username = strings.TrimSpace(data.Username)

	if data.Email != "" {
		if err := validateEmail(data.Email); err != nil {
			return types.User{}, err
		}
	}
	if data.Password != "" {
		if err := validatePassword(data.Password); err != nil {
			return types.User{}, err
		}
	}

	if data.Email != "" {
		if err := s.ensureAbsent(ctx, "email", func() (types.User, error) {
			return s.users.GetByEmail(ctx, data.Email)
		}); err != nil {
			return types.User{}, err
		}
	}
	if data.Username != "" {
		if err := s.ensureAbsent(ctx, "username", func() (types.User, error) {
			return s.users.GetByUsername(ctx, data.Username)
		}); err != nil {
			return types.User{}, err
		}
	}
	if data.DiscordID != "" {
		if err := s.ensureAbsent(ctx, "discord account", func() (types.User, error) {
			return s.users.GetByDiscordID(ctx, data.DiscordID)
		}); err != nil {
			return types.User{}, err
		}
	}

	user := types.User{
		ID:         uuid.NewString(),
		Verified:   false,
		LastActive: time.Now(),
	}
	if data.Email != "" {
		user.Email = &data.Email
	}
	if data.Username != "" {
		user.Username = &data.Username
	}
	if data.DiscordID != "" {
		user.DiscordID = &data.DiscordID
	}
	if data.DiscordUsername != "" {
		user.DiscordUsername = &data.DiscordUsername
	}
	if data.Password != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(data.Password), bcryptCost)
		if err != nil {
			return types.User{}, err
		}
		hash := string(hashed)
		user.PasswordHash = &hash
	}

	created, err := s.users.Create(ctx, user)
	if err != nil {
		// The unique indexes are the real enforcement point; a lost
		// check-then-act race lands here.
		if errors.Is(err, store.ErrDuplicate) {
			return types.User{}, fmt.Errorf("%w: user", ErrConflict)
		}
		return types.User{}, err
	}
	return created, nil
}

func (s *UserService) ensureAbsent(ctx context.Context, field string, lookup func() (types.User, error)) error {
	_, err := lookup()
	if err == nil {
		return fmt.Errorf("%w: %s", ErrConflict, field)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// Authenticate verifies an email-or-username identifier and password pair
// and touches last_active on success.
func (s *UserService) Authenticate(ctx context.Context, identifier, password string) (types.User, error) {
	identifier = strings.TrimSpace(identifier)
	user, err := s.users.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrInvalidCredentials
		}
		return types.User{}, err
	}
	if user.PasswordHash == nil {
		// OAuth-only account.
		return types.User{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(password)) != nil {
		return types.User{}, ErrInvalidCredentials
	}
	if err := s.users.TouchLastActive(ctx, user.ID); err != nil {
		return types.User{}, err
	}
	user.LastActive = time.Now()
	return user, nil
}

// FindOrCreateDiscordUser is the idempotent entry point for Discord logins.
// The lookup-before-create sequence is not atomic; a lost race surfaces as
// ErrConflict from the store's unique index.
func (s *UserService) FindOrCreateDiscordUser(ctx context.Context, discordID, discordUsername, email string) (types.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.GetByDiscordID(ctx, discordID)
	if err == nil {
		changed := false
		if user.DiscordUsername == nil || *user.DiscordUsername != discordUsername {
			user.DiscordUsername = &discordUsername
			changed = true
		}
		// Backfill the email the provider reports; an address already
		// held by another account is a conflict.
		if email != "" && (user.Email == nil || *user.Email != email) {
			user.Email = &email
			changed = true
		}
		if changed {
			user.LastActive = time.Now()
			updated, err := s.users.Update(ctx, user)
			if err != nil {
				if errors.Is(err, store.ErrDuplicate) {
					return types.User{}, fmt.Errorf("%w: email", ErrConflict)
				}
				return types.User{}, err
			}
			return updated, nil
		}
		if err := s.users.TouchLastActive(ctx, user.ID); err != nil {
			return types.User{}, err
		}
		user.LastActive = time.Now()
		return user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return types.User{}, err
	}

	return s.CreateUser(ctx, CreateUserData{
		Email:           email,
		DiscordID:       discordID,
		DiscordUsername: discordUsername,
	})
}

// VerifyNation resolves the API key against the directory, enforces the
// one-nation-one-account rule, and links the nation to the user. This is the
// unverified -> verified transition; there is no inverse operation.
func (s *UserService) VerifyNation(ctx context.Context, userID, apiKey string) (types.User, types.Nation, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return types.User{}, types.Nation{}, fmt.Errorf("%w: api key is required", ErrValidation)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, types.Nation{}, ErrNotFound
		}
		return types.User{}, types.Nation{}, err
	}

	nation, err := s.directory.NationByAPIKey(ctx, apiKey)
	if err != nil {
		return types.User{}, types.Nation{}, fmt.Errorf("%w: %v", ErrExternalAuth, err)
	}

	// Re-linking the same nation to the same user is a no-op update;
	// another user holding it is a conflict.
	owner, err := s.users.GetByNationID(ctx, nation.ID)
	if err == nil && owner.ID != user.ID {
		return types.User{}, types.Nation{}, fmt.Errorf("%w: nation is linked to another account", ErrConflict)
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return types.User{}, types.Nation{}, err
	}

	ciphertext, err := s.box.Seal(apiKey)
	if err != nil {
		return types.User{}, types.Nation{}, err
	}

	user.NationID = &nation.ID
	user.NationName = &nation.NationName
	user.LeaderName = &nation.LeaderName
	user.APIKeyCiphertext = ciphertext
	user.Verified = true
	user.LastActive = time.Now()

	updated, err := s.users.Update(ctx, user)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return types.User{}, types.Nation{}, fmt.Errorf("%w: nation is linked to another account", ErrConflict)
		}
		return types.User{}, types.Nation{}, err
	}

	cached, err := s.nations.Upsert(ctx, nationRecord(nation))
	if err != nil {
		return types.User{}, types.Nation{}, err
	}
	return updated, cached, nil
}

// RefreshNation re-fetches nation attributes with the stored API key. It is
// best-effort: a missing key or a directory failure yields updated=false
// with no error.
func (s *UserService) RefreshNation(ctx context.Context, userID string) (types.User, bool, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, false, ErrNotFound
		}
		return types.User{}, false, err
	}
	if len(user.APIKeyCiphertext) == 0 {
		return user, false, nil
	}

	apiKey, err := s.box.Open(user.APIKeyCiphertext)
	if err != nil {
		slog.Warn("failed to decrypt stored api key", "user", user.ID, "err", err)
		return user, false, nil
	}

	nation, err := s.directory.NationByAPIKey(ctx, apiKey)
	if err != nil {
		slog.Warn("nation refresh failed", "user", user.ID, "err", err)
		return user, false, nil
	}

	user.NationName = &nation.NationName
	user.LeaderName = &nation.LeaderName
	updated, err := s.users.Update(ctx, user)
	if err != nil {
		return types.User{}, false, err
	}
	if _, err := s.nations.Upsert(ctx, nationRecord(nation)); err != nil {
		return types.User{}, false, err
	}
	return updated, true, nil
}

// NationFor returns the cached nation linked to the user, refreshing the
// cache first when it has gone stale.
func (s *UserService) NationFor(ctx context.Context, userID string) (types.Nation, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Nation{}, ErrNotFound
		}
		return types.Nation{}, err
	}
	if user.NationID == nil {
		return types.Nation{}, ErrNotFound
	}

	nation, err := s.nations.Get(ctx, *user.NationID)
	stale := err == nil && time.Since(nation.UpdatedAt) > nationCacheMaxAge
	if errors.Is(err, store.ErrNotFound) || stale {
		if _, refreshed, rerr := s.RefreshNation(ctx, userID); rerr == nil && refreshed {
			nation, err = s.nations.Get(ctx, *user.NationID)
		}
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Nation{}, ErrNotFound
		}
		return types.Nation{}, err
	}
	return nation, nil
}

// UserByID loads a user for authenticated reads.
func (s *UserService) UserByID(ctx context.Context, userID string) (types.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

func nationRecord(n pnw.Nation) types.Nation {
	return types.Nation{
		ID:             n.ID,
		NationName:     n.NationName,
		LeaderName:     n.LeaderName,
		AllianceID:     n.AllianceID,
		AllianceName:   n.AllianceName,
		Score:          n.Score,
		Cities:         n.Cities,
		Color:          n.Color,
		Continent:      n.Continent,
		WarPolicy:      n.WarPolicy,
		DomesticPolicy: n.DomesticPolicy,
		LastActive:     n.LastActive,
	}
}
