// Package seed loads demo and test fixtures into the relationship
// store from a YAML file. Users are created directly; relationships go
// through the guard so the fixtures can never violate an invariant the
// API enforces.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/daironpf/socialseed/internal/social"
	"github.com/daironpf/socialseed/pkg/models"
)

type fixtureFile struct {
	Users       []fixtureUser `yaml:"users"`
	Follows     []fixturePair `yaml:"follows"`
	Requests    []fixturePair `yaml:"requests"`
	Friendships []fixturePair `yaml:"friendships"`
}

type fixtureUser struct {
	UserName string `yaml:"user_name"`
	Email    string `yaml:"email"`
	FullName string `yaml:"full_name"`
}

type fixturePair struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Result summarizes what a fixture load created.
type Result struct {
	Users       int
	Follows     int
	Requests    int
	Friendships int
}

// Loader applies YAML fixtures to a store through the guard.
type Loader struct {
	store  social.RelationshipStore
	guard  *social.Guard
	logger *slog.Logger
}

// NewLoader creates a Loader.
func NewLoader(store social.RelationshipStore, guard *social.Guard, logger *slog.Logger) *Loader {
	return &Loader{store: store, guard: guard, logger: logger}
}

// LoadFile reads the fixture file at path and applies it.
func (l *Loader) LoadFile(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture file: %w", err)
	}
	return l.Load(ctx, data)
}

// Load applies fixture data. Relationship entries name users by
// user_name; unknown names fail the load.
func (l *Loader) Load(ctx context.Context, data []byte) (*Result, error) {
	var ff fixtureFile
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("parsing fixtures: %w", err)
	}

	ids := make(map[string]string, len(ff.Users))
	res := &Result{}

	for _, fu := range ff.Users {
		if fu.UserName == "" {
			return nil, fmt.Errorf("fixture user with empty user_name")
		}
		user := models.SocialUser{
			ID:        uuid.NewString(),
			UserName:  fu.UserName,
			Email:     fu.Email,
			FullName:  fu.FullName,
			CreatedAt: time.Now().UTC(),
		}
		if err := l.store.CreateUser(ctx, user); err != nil {
			return nil, fmt.Errorf("creating user %q: %w", fu.UserName, err)
		}
		ids[fu.UserName] = user.ID
		res.Users++
	}

	resolve := func(name string) (string, error) {
		id, ok := ids[name]
		if !ok {
			return "", fmt.Errorf("fixture references unknown user %q", name)
		}
		return id, nil
	}

	for _, p := range ff.Follows {
		from, err := resolve(p.From)
		if err != nil {
			return nil, err
		}
		to, err := resolve(p.To)
		if err != nil {
			return nil, err
		}
		if out := l.guard.Follow(ctx, from, to); !out.OK() {
			return nil, fmt.Errorf("fixture follow %s -> %s: %s", p.From, p.To, out)
		}
		res.Follows++
	}

	for _, p := range ff.Requests {
		from, err := resolve(p.From)
		if err != nil {
			return nil, err
		}
		to, err := resolve(p.To)
		if err != nil {
			return nil, err
		}
		if out := l.guard.RequestFriendship(ctx, from, to); !out.OK() {
			return nil, fmt.Errorf("fixture request %s -> %s: %s", p.From, p.To, out)
		}
		res.Requests++
	}

	// Friendships run the full request/accept transition.
	for _, p := range ff.Friendships {
		from, err := resolve(p.From)
		if err != nil {
			return nil, err
		}
		to, err := resolve(p.To)
		if err != nil {
			return nil, err
		}
		if out := l.guard.RequestFriendship(ctx, from, to); !out.OK() {
			return nil, fmt.Errorf("fixture friendship %s -> %s: %s", p.From, p.To, out)
		}
		if out := l.guard.AcceptRequest(ctx, to, from); !out.OK() {
			return nil, fmt.Errorf("fixture friendship accept %s -> %s: %s", p.From, p.To, out)
		}
		res.Friendships++
	}

	l.logger.Info("fixtures loaded",
		"users", res.Users, "follows", res.Follows,
		"requests", res.Requests, "friendships", res.Friendships)
	return res, nil
}
