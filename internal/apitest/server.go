package apitest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/lifequest/questauth/jwt"
)

// Default credentials seeded into every server.
const (
	DefaultUsername = "ada"
	DefaultPassword = "correct-horse"
	DefaultEmail    = "ada@quest.test"
)

// Options tune server behavior.
type Options struct {
	// RefreshDelay holds every refresh response, widening the window in which
	// concurrent requests pile up behind one refresh.
	RefreshDelay time.Duration
	// RotateRefresh issues a new refresh token on every refresh and revokes the old one.
	RotateRefresh bool
	// AccessTTL of issued access tokens. Defaults to 15 minutes.
	AccessTTL time.Duration
}

// User is the identity payload returned by GET /auth/me.
type User struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
	Role     string `json:"role"`
	Stats    Stats  `json:"stats"`
}

// Stats are the game stats shown alongside the user.
type Stats struct {
	Level int `json:"level"`
	XP    int `json:"xp"`
	Gold  int `json:"gold"`
}

// Task is an item in the authenticated task collection.
type Task struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	Done  bool   `json:"done"`
}

type account struct {
	user       User
	hash       []byte
	setupToken string
	tasks      []Task
}

// Server is a running fake API.
type Server struct {
	*httptest.Server

	opts   Options
	tokens *jwt.Manager

	mu       sync.Mutex
	accounts map[string]*account
	access   map[string]string
	refresh  map[string]string
	nextID   int

	loginCalls   atomic.Int32
	refreshCalls atomic.Int32
	meCalls      atomic.Int32
	rejected     atomic.Int32
}

// NewServer starts a server seeded with the default user.
func NewServer(opts Options) *Server {
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = 15 * time.Minute
	}
	tokens, err := jwt.NewManager(jwt.Config{
		AccessTTL:     opts.AccessTTL,
		RefreshTTL:    24 * time.Hour,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte("questauth-apitest-signing-secret"),
		Issuer:        "quest-api",
	})
	if err != nil {
		panic(err)
	}

	s := &Server{
		opts:     opts,
		tokens:   tokens,
		accounts: make(map[string]*account),
		access:   make(map[string]string),
		refresh:  make(map[string]string),
	}
	if err := s.AddUser(DefaultUsername, DefaultPassword, DefaultEmail); err != nil {
		panic(err)
	}
	s.Server = httptest.NewServer(s.routes())
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/refresh", s.handleRefresh)
	r.Post("/auth/setup-password", s.handleSetupPassword)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/auth/me", s.handleMe)
		r.Put("/auth/me", s.handleUpdateMe)
		r.Delete("/auth/me", s.handleDeleteMe)
		r.Post("/auth/change-password", s.handleChangePassword)
		r.Get("/tasks", s.handleListTasks)
		r.Post("/tasks", s.handleCreateTask)
	})
	return r
}

// AddUser registers username with a bcrypt-hashed password.
func (s *Server) AddUser(username, password, email string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.accounts[username] = &account{
		user: User{ID: s.nextID, Username: username, Email: email, Role: "user", Stats: Stats{Level: 1}},
		hash: hash,
	}
	return nil
}

// SetSetupToken arms a one-time password setup token for username.
func (s *Server) SetSetupToken(username, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc, ok := s.accounts[username]; ok {
		acc.setupToken = token
	}
}

// ExpireAccess invalidates every outstanding access token.
func (s *Server) ExpireAccess() {
	s.mu.Lock()
	s.access = make(map[string]string)
	s.mu.Unlock()
}

// RevokeRefresh invalidates every outstanding refresh token.
func (s *Server) RevokeRefresh() {
	s.mu.Lock()
	s.refresh = make(map[string]string)
	s.mu.Unlock()
}

// Issue mints a live token pair for username without going through login.
func (s *Server) Issue(username string) (access, refresh string, err error) {
	access, refresh, err = s.tokens.Issue(username)
	if err != nil {
		return "", "", err
	}
	s.mu.Lock()
	s.access[access] = username
	s.refresh[refresh] = username
	s.mu.Unlock()
	return access, refresh, nil
}

// User returns the stored identity for username.
func (s *Server) User(username string) (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[username]
	if !ok {
		return User{}, false
	}
	return acc.user, true
}

// LoginCalls returns how many login requests were received.
func (s *Server) LoginCalls() int { return int(s.loginCalls.Load()) }

// RefreshCalls returns how many refresh requests were received.
func (s *Server) RefreshCalls() int { return int(s.refreshCalls.Load()) }

// MeCalls returns how many identity fetches were received.
func (s *Server) MeCalls() int { return int(s.meCalls.Load()) }

// Rejected returns how many authenticated requests were answered with 401.
func (s *Server) Rejected() int { return int(s.rejected.Load()) }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	writeJSON(w, status, map[string]string{"detail": detail})
}

func bearer(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}
