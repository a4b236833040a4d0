// Package chattest provides an in-memory stand-in for the chat service: the
// auth endpoints, the message store and the live channel. It is meant for
// tests in the same way net/http/httptest is.
package chattest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/palaver/pkg/api"
)

type Route string

const (
	RouteLogin   Route = "login"
	RouteLogout  Route = "logout"
	RouteUsers   Route = "users"
	RouteHistory Route = "history"
	RouteSend    Route = "send"
)

var signingKey = []byte("chattest-signing-key")

type account struct {
	id       api.ID
	password string
}

type callerKey struct{}

// Server is an httptest server speaking the chat service protocol.
type Server struct {
	*httptest.Server

	upgrader websocket.Upgrader

	mu       sync.Mutex
	nextID   int
	users    []api.User
	accounts map[string]account
	tokens   map[string]api.ID
	messages []api.Message
	pools    map[api.ID]*ConnectionPool
	holds    map[api.ID]chan struct{}
	failures map[Route]int
	requests map[Route]int
}

func New() *Server {
	s := &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		accounts: map[string]account{},
		tokens:   map[string]api.ID{},
		pools:    map[api.ID]*ConnectionPool{},
		holds:    map[api.ID]chan struct{}{},
		failures: map[Route]int{},
		requests: map[Route]int{},
	}
	s.Server = httptest.NewServer(s.router())
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/auth/api/login/", s.handleLogin)
	r.Post("/auth/logout", s.handleLogout)
	r.Get("/auth/", s.handleAuthPage)

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)
		r.Get("/auth/users", s.handleUsers)
		r.Get("/chat/messages/{userID}", s.handleHistory)
		r.Post("/chat/messages", s.handleSend)
		r.Get("/chat/ws/{userID}", s.handleLive)
	})
	return r
}

// Close drops every live connection before shutting the listener down.
func (s *Server) Close() {
	s.mu.Lock()
	pools := make([]*ConnectionPool, 0, len(s.pools))
	for _, p := range s.pools {
		pools = append(pools, p)
	}
	for id, hold := range s.holds {
		close(hold)
		delete(s.holds, id)
	}
	s.mu.Unlock()
	for _, p := range pools {
		p.CloseAll()
	}
	s.Server.Close()
}

// AddUser registers a user with login credentials and returns its directory entry.
func (s *Server) AddUser(name, email, password string) api.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	u := api.User{ID: api.ID(strconv.Itoa(s.nextID)), Name: name}
	s.users = append(s.users, u)
	if email != "" {
		s.accounts[email] = account{id: u.ID, password: password}
	}
	return u
}

// TokenFor mints an access token for id that the server accepts.
func (s *Server) TokenFor(id api.ID) string {
	claims := jwt.MapClaims{
		"sub": id.String(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	if err != nil {
		panic(err)
	}
	s.mu.Lock()
	s.tokens[token] = id
	s.mu.Unlock()
	return token
}

// Seed stores a message without pushing it to any live channel.
func (s *Server) Seed(msg api.Message) {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
}

// Messages returns every stored message in submission order.
func (s *Server) Messages() []api.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.Message(nil), s.messages...)
}

// Fail makes route answer with code until Fail(route, 0) is called.
func (s *Server) Fail(route Route, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if code == 0 {
		delete(s.failures, route)
		return
	}
	s.failures[route] = code
}

// Requests counts the requests that reached route, failed or not.
func (s *Server) Requests(route Route) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[route]
}

// HoldHistory blocks history responses for partner until release is called.
func (s *Server) HoldHistory(partner api.ID) (release func()) {
	hold := make(chan struct{})
	s.mu.Lock()
	s.holds[partner] = hold
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.holds[partner] == hold {
				delete(s.holds, partner)
				close(hold)
			}
			s.mu.Unlock()
		})
	}
}

// Push writes msg as a frame to every live channel addressed to addressee.
func (s *Server) Push(addressee api.ID, msg api.Message) {
	b, err := json.Marshal(msg)
	if err != nil {
		panic(err)
	}
	s.pool(addressee).Broadcast(b)
}

// PushRaw writes an arbitrary frame, for malformed-input tests.
func (s *Server) PushRaw(addressee api.ID, frame []byte) {
	s.pool(addressee).Broadcast(frame)
}

func (s *Server) OpenConnections(addressee api.ID) int {
	return s.pool(addressee).Count()
}

func (s *Server) OpenedConnections(addressee api.ID) int {
	return s.pool(addressee).Opened()
}

func (s *Server) pool(addressee api.ID) *ConnectionPool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[addressee]
	if !ok {
		p = NewConnectionPool(addressee)
		s.pools[addressee] = p
	}
	return p
}

// enter counts the request and reports an injected failure code, if any.
func (s *Server) enter(route Route) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[route]++
	return s.failures[route]
}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(api.SessionCookie)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "token not found"})
			return
		}
		s.mu.Lock()
		id, ok := s.tokens[cookie.Value]
		s.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "token is invalid"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, id)))
	})
}

func caller(r *http.Request) api.ID {
	id, _ := r.Context().Value(callerKey{}).(api.ID)
	return id
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if code := s.enter(RouteLogin); code != 0 {
		http.Error(w, http.StatusText(code), code)
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": err.Error()})
		return
	}
	s.mu.Lock()
	acc, ok := s.accounts[req.Email]
	s.mu.Unlock()
	if !ok || acc.password != req.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "incorrect email or password"})
		return
	}
	token := s.TokenFor(acc.id)
	http.SetCookie(w, &http.Cookie{Name: api.SessionCookie, Value: token, Path: "/", HttpOnly: true})
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":            true,
		"access_token":  token,
		"refresh_token": nil,
		"message":       "logged in",
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if code := s.enter(RouteLogout); code != 0 {
		http.Error(w, http.StatusText(code), code)
		return
	}
	if cookie, err := r.Cookie(api.SessionCookie); err == nil {
		s.mu.Lock()
		delete(s.tokens, cookie.Value)
		s.mu.Unlock()
	}
	http.SetCookie(w, &http.Cookie{Name: api.SessionCookie, Value: "", Path: "/", MaxAge: -1})
	http.Redirect(w, r, "/auth/", http.StatusFound)
}

func (s *Server) handleAuthPage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte("<html><body>login</body></html>"))
}

func (s *Server) handleUsers(w http.ResponseWriter, _ *http.Request) {
	if code := s.enter(RouteUsers); code != 0 {
		http.Error(w, http.StatusText(code), code)
		return
	}
	s.mu.Lock()
	users := append([]api.User{}, s.users...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if code := s.enter(RouteHistory); code != 0 {
		http.Error(w, http.StatusText(code), code)
		return
	}
	partner := api.ID(chi.URLParam(r, "userID"))
	me := caller(r)

	s.mu.Lock()
	hold := s.holds[partner]
	s.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
	}

	s.mu.Lock()
	out := []api.Message{}
	for _, m := range s.messages {
		if (m.SenderID == me && m.RecipientID == partner) || (m.SenderID == partner && m.RecipientID == me) {
			out = append(out, m)
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if code := s.enter(RouteSend); code != 0 {
		http.Error(w, http.StatusText(code), code)
		return
	}
	var req api.OutboundMessage
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": err.Error()})
		return
	}
	if req.RecipientID.IsZero() || req.Content == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "recipient_id and content are required"})
		return
	}
	msg := api.Message{SenderID: caller(r), RecipientID: req.RecipientID, Content: req.Content}
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	n := len(s.messages)
	s.mu.Unlock()

	// Clients chatting with the sender are connected on the sender's address.
	if msg.RecipientID != msg.SenderID {
		s.Push(msg.SenderID, msg)
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": n, "status": "ok"})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	addressee := api.ID(chi.URLParam(r, "userID"))
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("component", "chattest").Msg("websocket upgrade failed")
		return
	}
	pool := s.pool(addressee)
	pool.Add(conn)
	defer pool.Remove(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
