// Package directory maps usernames to the numeric user ids the server
// addresses, caching every answer in memory and on disk.
package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/c-pro/geche"
	"github.com/matheus3301/dmsync/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrUnknownUser is returned when neither the caches nor the server know
// the user.
var ErrUnknownUser = errors.New("directory: unknown user")

// Resolver asks the server.
type Resolver interface {
	LookupUserID(ctx context.Context, username string) (string, error)
	LookupUsername(ctx context.Context, userID string) (string, error)
}

// Store persists resolved pairs.
type Store interface {
	PutUserLookup(u store.UserLookup) error
	UserIDByName(username string) (string, error)
	UsernameByID(userID string) (string, error)
	ListUserLookups() ([]store.UserLookup, error)
}

// Directory resolves usernames and user ids. Entries never expire.
type Directory struct {
	remote Resolver
	store  Store
	logger *zap.Logger

	ids   geche.Geche[string, string] // username -> id
	names geche.Geche[string, string] // id -> username
	group singleflight.Group
}

// New creates a directory. store may be nil for a memory-only cache.
func New(remote Resolver, st Store, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{
		remote: remote,
		store:  st,
		logger: logger,
		ids:    geche.NewMapCache[string, string](),
		names:  geche.NewMapCache[string, string](),
	}
}

// Warm loads every persisted pair into memory.
func (d *Directory) Warm() error {
	if d.store == nil {
		return nil
	}
	all, err := d.store.ListUserLookups()
	if err != nil {
		return fmt.Errorf("warm directory: %w", err)
	}
	for _, u := range all {
		d.ids.Set(u.Username, u.UserID)
		d.names.Set(u.UserID, u.Username)
	}
	return nil
}

// UserID returns the id for username.
func (d *Directory) UserID(ctx context.Context, username string) (string, error) {
	if id, err := d.ids.Get(username); err == nil {
		return id, nil
	}
	if d.store != nil {
		if id, err := d.store.UserIDByName(username); err == nil && id != "" {
			d.remember(username, id)
			return id, nil
		}
	}
	v, err, _ := d.group.Do("id:"+username, func() (any, error) {
		id, err := d.remote.LookupUserID(ctx, username)
		if err != nil {
			return "", err
		}
		if id == "" {
			return "", fmt.Errorf("%w: %s", ErrUnknownUser, username)
		}
		d.remember(username, id)
		d.persist(username, id)
		return id, nil
	})
	if err != nil {
		return "", fmt.Errorf("resolve user id for %s: %w", username, err)
	}
	return v.(string), nil
}

// Username returns the username for a user id.
func (d *Directory) Username(ctx context.Context, userID string) (string, error) {
	if name, err := d.names.Get(userID); err == nil {
		return name, nil
	}
	if d.store != nil {
		if name, err := d.store.UsernameByID(userID); err == nil && name != "" {
			d.remember(name, userID)
			return name, nil
		}
	}
	v, err, _ := d.group.Do("name:"+userID, func() (any, error) {
		name, err := d.remote.LookupUsername(ctx, userID)
		if err != nil {
			return "", err
		}
		if name == "" {
			return "", fmt.Errorf("%w: id %s", ErrUnknownUser, userID)
		}
		d.remember(name, userID)
		d.persist(name, userID)
		return name, nil
	})
	if err != nil {
		return "", fmt.Errorf("resolve username for %s: %w", userID, err)
	}
	return v.(string), nil
}

func (d *Directory) remember(username, id string) {
	d.ids.Set(username, id)
	d.names.Set(id, username)
}

func (d *Directory) persist(username, id string) {
	if d.store == nil {
		return
	}
	if err := d.store.PutUserLookup(store.UserLookup{Username: username, UserID: id}); err != nil {
		d.logger.Warn("persist user lookup", zap.String("username", username), zap.Error(err))
	}
}
