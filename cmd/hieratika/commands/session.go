package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dyluth/hieratika/internal/config"
	"github.com/dyluth/hieratika/internal/printer"
	"github.com/dyluth/hieratika/internal/store"
	"github.com/dyluth/hieratika/pkg/hieratika"
)

// session bundles what a server command needs: configuration, the client
// and the store holding the login.
type session struct {
	cfg    *config.HieratikaConfig
	client *hieratika.Client
	store  *store.Store
}

// loadConfig reads --config and applies --server.
func loadConfig() (*config.HieratikaConfig, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, printer.ErrorWithContext(
			"invalid configuration",
			err.Error(),
			map[string]string{"Config": configPath},
			[]string{"Fix the file or remove it to use the defaults"},
		)
	}
	if serverURL != "" {
		cfg.Server.URL = serverURL
		if err := cfg.Validate(); err != nil {
			return nil, printer.Error("invalid --server", err.Error(), nil)
		}
	}
	return cfg, nil
}

// openSession builds a client for the configured server. With requireLogin
// the saved login is restored and its absence is an error.
func openSession(requireLogin bool) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	client, err := hieratika.NewClient(cfg.Server.URL, &hieratika.Options{
		Timeout:   cfg.Server.Timeout,
		RateLimit: cfg.Server.RateLimit,
		Logger:    logger,
	})
	if err != nil {
		return nil, printer.Error("invalid server url", err.Error(), nil)
	}

	st, err := store.Open(cfg.Session.Path)
	if err != nil {
		return nil, printer.ErrorWithContext(
			"cannot open session store",
			err.Error(),
			map[string]string{"Path": cfg.Session.Path},
			[]string{"Another hieratika command may be holding the file, retry when it finishes"},
		)
	}
	s := &session{cfg: cfg, client: client, store: st}

	if !requireLogin {
		return s, nil
	}

	saved, err := st.Load()
	if errors.Is(err, store.ErrNoSession) || (err == nil && saved.Server != cfg.Server.URL) {
		s.Close()
		return nil, printer.Error(
			"not logged in",
			fmt.Sprintf("No session for %s.", cfg.Server.URL),
			[]string{"Log in first:\n  hieratika login <username>"},
		)
	}
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	client.SetUser(saved.User)
	client.OnInvalidToken(func() {
		// The server forgot the token: drop it so the next command asks
		// for a login instead of failing again.
		if err := st.Clear(); err != nil {
			logger.Warn("failed to clear session", zap.Error(err))
		}
	})
	return s, nil
}

// Close releases the session store.
func (s *session) Close() {
	if err := s.store.Close(); err != nil {
		logger.Warn("failed to close session store", zap.Error(err))
	}
}

// username is the logged-in user, or "" before login.
func (s *session) username() string {
	if u := s.client.User(); u != nil {
		return u.Username
	}
	return ""
}

// parseAssignments splits NAME=VALUE arguments. Values are kept as text.
func parseAssignments(args []string) (map[string]string, []string, error) {
	values := make(map[string]string, len(args))
	var order []string
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, nil, fmt.Errorf("invalid assignment %q (expected NAME=VALUE)", arg)
		}
		if _, seen := values[name]; !seen {
			order = append(order, name)
		}
		values[name] = value
	}
	return values, order, nil
}

// jsonValues converts NAME=VALUE text into values: JSON literals are decoded,
// anything else is kept as a string.
func jsonValues(text map[string]string) hieratika.Values {
	out := make(hieratika.Values, len(text))
	for name, raw := range text {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		out[name] = v
	}
	return out
}
