package apitest

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type ctxKey struct{}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.loginCalls.Add(1)
	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed form")
		return
	}
	username := r.PostForm.Get("username")
	password := r.PostForm.Get("password")

	s.mu.Lock()
	acc, ok := s.accounts[username]
	var hash []byte
	if ok {
		hash = acc.hash
	}
	s.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
		writeDetail(w, http.StatusUnauthorized, "Incorrect username or password")
		return
	}

	access, refresh, err := s.Issue(username)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := tokenResponse{AccessToken: access, TokenType: "bearer", ExpiresIn: int64(s.opts.AccessTTL / time.Second)}
	if r.URL.Query().Get("remember_me") == "true" {
		resp.RefreshToken = refresh
	} else {
		s.mu.Lock()
		delete(s.refresh, refresh)
		s.mu.Unlock()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)
	if s.opts.RefreshDelay > 0 {
		select {
		case <-time.After(s.opts.RefreshDelay):
		case <-r.Context().Done():
			return
		}
	}

	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RefreshToken == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "refresh_token is required")
		return
	}
	if _, err := s.tokens.ParseRefresh(body.RefreshToken); err != nil {
		writeDetail(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	s.mu.Lock()
	username, ok := s.refresh[body.RefreshToken]
	s.mu.Unlock()
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Refresh token revoked")
		return
	}

	access, refresh, err := s.tokens.Issue(username)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := tokenResponse{AccessToken: access, TokenType: "bearer", ExpiresIn: int64(s.opts.AccessTTL / time.Second)}
	s.mu.Lock()
	s.access[access] = username
	if s.opts.RotateRefresh {
		delete(s.refresh, body.RefreshToken)
		s.refresh[refresh] = username
		resp.RefreshToken = refresh
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearer(r)
		if token == "" {
			s.rejected.Add(1)
			writeDetail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		claims, err := s.tokens.ParseAccess(token)

		s.mu.Lock()
		username, live := s.access[token]
		acc := s.accounts[username]
		s.mu.Unlock()

		if err != nil || !live || acc == nil || claims.Subject() != username {
			s.rejected.Add(1)
			writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, username)))
	})
}

func (s *Server) current(r *http.Request) (*account, bool) {
	username, _ := r.Context().Value(ctxKey{}).(string)
	acc, ok := s.accounts[username]
	return acc, ok
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	s.meCalls.Add(1)
	s.mu.Lock()
	acc, ok := s.current(r)
	var u User
	if ok {
		u = acc.user
	}
	s.mu.Unlock()
	if !ok {
		writeDetail(w, http.StatusNotFound, "User not found")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Email == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "email is required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.current(r)
	if !ok {
		writeDetail(w, http.StatusNotFound, "User not found")
		return
	}
	for name, other := range s.accounts {
		if name != acc.user.Username && other.user.Email == body.Email {
			writeDetail(w, http.StatusBadRequest, "Email already registered")
			return
		}
	}
	acc.user.Email = body.Email
	writeJSON(w, http.StatusOK, acc.user)
}

func (s *Server) handleDeleteMe(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.current(r)
	if !ok {
		writeDetail(w, http.StatusNotFound, "User not found")
		return
	}
	username := acc.user.Username
	delete(s.accounts, username)
	for tok, owner := range s.access {
		if owner == username {
			delete(s.access, tok)
		}
	}
	for tok, owner := range s.refresh {
		if owner == username {
			delete(s.refresh, tok)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.NewPassword == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "new_password is required")
		return
	}
	s.mu.Lock()
	acc, ok := s.current(r)
	var hash []byte
	if ok {
		hash = acc.hash
	}
	s.mu.Unlock()
	if !ok {
		writeDetail(w, http.StatusNotFound, "User not found")
		return
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(body.CurrentPassword)) != nil {
		writeDetail(w, http.StatusBadRequest, "Incorrect password")
		return
	}
	next, err := bcrypt.GenerateFromPassword([]byte(body.NewPassword), bcrypt.MinCost)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.mu.Lock()
	acc.hash = next
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password updated successfully"})
}

func (s *Server) handleSetupPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Token == "" || body.Password == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "token and password are required")
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(body.Password), bcrypt.MinCost)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acc := range s.accounts {
		if acc.setupToken != "" && acc.setupToken == body.Token {
			acc.hash = hash
			acc.setupToken = ""
			writeJSON(w, http.StatusOK, map[string]string{"message": "Password set successfully"})
			return
		}
	}
	writeDetail(w, http.StatusBadRequest, "Invalid or expired token")
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	acc, ok := s.current(r)
	var tasks []Task
	if ok {
		tasks = append([]Task{}, acc.tasks...)
	}
	s.mu.Unlock()
	if !ok {
		writeDetail(w, http.StatusNotFound, "User not found")
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Title == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "title is required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.current(r)
	if !ok {
		writeDetail(w, http.StatusNotFound, "User not found")
		return
	}
	task := Task{ID: len(acc.tasks) + 1, Title: body.Title}
	acc.tasks = append(acc.tasks, task)
	writeJSON(w, http.StatusCreated, task)
}
