package app

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/moriyamalab/tokuten/internal/apperr"
	"github.com/moriyamalab/tokuten/internal/models"
	"github.com/moriyamalab/tokuten/internal/store"
)

type Service struct {
	Config *Config
	Store  store.Store
	Auth   *Auth
}

func NewService(configPath string) (*Service, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	st, err := NewStore(config.Database.DSN, config.Database.MigrationsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to init store: %w", err)
	}

	auth, err := NewAuth(config)
	if err != nil {
		return nil, fmt.Errorf("failed to init auth: %w", err)
	}

	return &Service{
		Config: config,
		Store:  st,
		Auth:   auth,
	}, nil
}

// ResolveActor authenticates the request and loads the acting user.
// Identity comes from the teacher id header; the bearer token is
// checked against redis when auth is enabled.
func (s *Service) ResolveActor(r *http.Request) (*models.User, error) {
	rawID := r.Header.Get(s.Config.API.TeacherIDHeader)
	if rawID == "" {
		return nil, apperr.Permission("missing teacher id header")
	}
	teacherID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return nil, apperr.Validation("teacher_id", "teacher id must be numeric")
	}

	if s.Config.Server.EnableAuth {
		authHeader := r.Header.Get(s.Auth.tokenHeader)
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return nil, apperr.Permission("invalid authorization header format")
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if err := s.Auth.ValidateToken(r.Context(), rawID, token); err != nil {
			return nil, apperr.Permission("invalid token")
		}
	}

	user, err := s.Store.GetUser(teacherID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user: %w", err)
	}
	if user == nil {
		return nil, apperr.Permission("unknown teacher id")
	}
	return user, nil
}

func (s *Service) ValidateHeaders(headers map[string][]string) bool {
	for _, required := range s.Config.API.RequiredHeaders {
		value := headers[http.CanonicalHeaderKey(required.Name)]
		if len(value) == 0 || !strings.EqualFold(value[0], required.Value) {
			return false
		}
	}
	return true
}

func (s *Service) Close() error {
	var errs []error

	if err := s.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	if err := s.Auth.Close(); err != nil {
		errs = append(errs, fmt.Errorf("auth: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors while closing: %v", errs)
	}
	return nil
}
