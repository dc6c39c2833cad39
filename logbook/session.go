package logbook

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/golang/glog"
)

type SessionState string

const (
	// startup, resuming a persisted token
	SessionStateUnknown         SessionState = "unknown"
	SessionStateAuthenticated   SessionState = "authenticated"
	SessionStateUnauthenticated SessionState = "unauthenticated"
)

// TokenStore persists the bearer token across processes.
type TokenStore interface {
	Load() (string, error)
	Store(token string) error
	Clear() error
}

type MemoryTokenStore struct {
	mutex sync.Mutex
	token string
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

func (self *MemoryTokenStore) Load() (string, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.token, nil
}

func (self *MemoryTokenStore) Store(token string) error {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.token = token
	return nil
}

func (self *MemoryTokenStore) Clear() error {
	return self.Store("")
}

type FileTokenStore struct {
	path string
}

func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{
		path: path,
	}
}

func (self *FileTokenStore) Load() (string, error) {
	tokenBytes, err := os.ReadFile(self.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(tokenBytes), nil
}

func (self *FileTokenStore) Store(token string) error {
	return os.WriteFile(self.path, []byte(token), 0600)
}

func (self *FileTokenStore) Clear() error {
	err := os.Remove(self.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// display-only claims from the bearer token. verification is the server's
// job; the client never grants anything based on these.
type TokenClaims struct {
	UserId    string
	Email     string
	ExpiresAt time.Time
}

func ParseTokenClaimsUnverified(token string) (*TokenClaims, error) {
	parser := gojwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := parsed.Claims.(gojwt.MapClaims)

	tokenClaims := &TokenClaims{}
	if sub, ok := claims["sub"].(string); ok {
		tokenClaims.UserId = sub
	}
	if email, ok := claims["email"].(string); ok {
		tokenClaims.Email = email
	}
	if expiresAt, err := claims.GetExpirationTime(); err == nil && expiresAt != nil {
		tokenClaims.ExpiresAt = expiresAt.Time
	}
	return tokenClaims, nil
}

type Route struct {
	Path string
	// requires an authenticated session
	Protected bool
	// only reachable while signed out, e.g. the sign-in page
	PublicOnly bool
}

type SessionSettings struct {
	SignInRoute string
	HomeRoute   string
}

func DefaultSessionSettings() *SessionSettings {
	return &SessionSettings{
		SignInRoute: "/sign-in",
		HomeRoute:   "/dashboard",
	}
}

// Session is the single authoritative record of who is signed in.
// it is written only by the four transitions: resume, login, logout,
// forced logout. logout paths clear the query cache strictly before the
// redirect decision is published, so no protected query can re-trigger
// mid-teardown with stale credentials.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc

	api      *LogbookApi
	cache    *QueryCache
	store    TokenStore
	settings *SessionSettings

	update *Monitor

	stateLock sync.Mutex
	state     SessionState
	user      *UserAccount
	token     string
}

func NewSessionWithDefaults(
	ctx context.Context,
	api *LogbookApi,
	cache *QueryCache,
	store TokenStore,
) *Session {
	return NewSession(ctx, api, cache, store, DefaultSessionSettings())
}

func NewSession(
	ctx context.Context,
	api *LogbookApi,
	cache *QueryCache,
	store TokenStore,
	settings *SessionSettings,
) *Session {
	cancelCtx, cancel := context.WithCancel(ctx)
	session := &Session{
		ctx:      cancelCtx,
		cancel:   cancel,
		api:      api,
		cache:    cache,
		store:    store,
		settings: settings,
		update:   NewMonitor(),
		state:    SessionStateUnknown,
	}
	go session.run()
	return session
}

// watch the gateway's forced logout monitor
func (self *Session) run() {
	defer self.cancel()

	for {
		notify := self.api.ForcedLogout().NotifyChannel()
		select {
		case <-self.ctx.Done():
			return
		case <-notify:
			glog.Infof("[session]forced logout\n")
			self.endSession()
		}
	}
}

func (self *Session) NotifyChannel() <-chan struct{} {
	return self.update.NotifyChannel()
}

func (self *Session) State() SessionState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state
}

func (self *Session) IsAuthenticated() bool {
	return self.State() == SessionStateAuthenticated
}

func (self *Session) User() *UserAccount {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.user
}

func (self *Session) Token() string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.token
}

// Resume resolves the initial unknown state from the persisted token.
func (self *Session) Resume(ctx context.Context) SessionState {
	token, err := self.store.Load()
	if err != nil || token == "" {
		self.setUnauthenticated()
		return SessionStateUnauthenticated
	}

	self.api.SetToken(token)
	user, err := self.api.AuthSelf(ctx)
	if err != nil {
		// the 401 path already fired the forced logout monitor;
		// any other failure also resolves to signed out
		self.store.Clear()
		self.api.SetToken("")
		self.setUnauthenticated()
		return SessionStateUnauthenticated
	}

	self.stateLock.Lock()
	self.state = SessionStateAuthenticated
	self.user = user
	self.token = token
	self.stateLock.Unlock()

	self.update.NotifyAll()
	return SessionStateAuthenticated
}

func (self *Session) Login(ctx context.Context, email string, password string) (*UserAccount, error) {
	result, err := self.api.AuthLogin(ctx, &AuthLoginArgs{
		Email:    email,
		Password: password,
	})
	if err != nil {
		return nil, err
	}

	if err := self.store.Store(result.Token); err != nil {
		glog.Infof("[session]token persist error = %s\n", err)
	}
	self.api.SetToken(result.Token)

	self.stateLock.Lock()
	self.state = SessionStateAuthenticated
	self.user = &result.User
	self.token = result.Token
	self.stateLock.Unlock()

	self.update.NotifyAll()
	return &result.User, nil
}

// Logout tells the server, then tears the session down locally.
// a server error does not keep the user signed in.
func (self *Session) Logout(ctx context.Context) {
	if err := self.api.AuthLogout(ctx); err != nil {
		glog.V(1).Infof("[session]logout request error = %s\n", err)
	}
	self.endSession()
}

func (self *Session) setUnauthenticated() {
	self.stateLock.Lock()
	self.state = SessionStateUnauthenticated
	self.user = nil
	self.token = ""
	self.stateLock.Unlock()

	self.update.NotifyAll()
}

func (self *Session) endSession() {
	self.store.Clear()
	self.api.SetToken("")

	// cache is cleared before subscribers can see the state change,
	// so the redirect can never race a stale protected query
	self.cache.ClearAll()

	self.stateLock.Lock()
	self.state = SessionStateUnauthenticated
	self.user = nil
	self.token = ""
	self.stateLock.Unlock()

	self.update.NotifyAll()
}

// RouteDecision is the pure route guard: given the current route it
// returns where to redirect, or ok=true to stay.
// while the session is unknown the caller should render a loading
// placeholder and decide again after the next update.
func (self *Session) RouteDecision(route Route) (redirect string, ok bool) {
	switch self.State() {
	case SessionStateUnknown:
		return "", true
	case SessionStateAuthenticated:
		if route.PublicOnly {
			return self.settings.HomeRoute, false
		}
		return "", true
	default:
		if route.Protected {
			return self.settings.SignInRoute, false
		}
		return "", true
	}
}

func (self *Session) Close() {
	self.cancel()
}
