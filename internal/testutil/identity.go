package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/nkiryanov/authsession/internal/models"
)

// Code accepted by every verification endpoint of the fake service
const ValidCode = "123456"

// User known to the fake identity service
type FakeUser struct {
	Username  string
	Email     string
	FullName  string
	Password  string
	Verified  bool
	Locked    bool
	Challenge models.ChallengeKind
	Balances  []models.Balance
}

type fakeAccount struct {
	profile   models.UserProfile
	hash      []byte
	locked    bool
	challenge models.ChallengeKind
	balances  []models.Balance
}

// Identity is an in-process identity service speaking the same JSON protocol as the real one
// Tokens are HS256 signed, passwords are bcrypt hashed, refresh tokens are random uuids
type Identity struct {
	URL string

	// When set verify-email responds with a token pair instead of plain acknowledgement
	VerifyEmailIssuesTokens atomic.Bool

	// Number of next protected requests rejected with 401 whatever token they carry
	ForceUnauthorized atomic.Int32

	refreshCalls  atomic.Int64
	registerCalls atomic.Int64
	logoutCalls   atomic.Int64
	forgotCalls   atomic.Int64

	secret []byte
	server *httptest.Server

	mu           sync.Mutex
	accessTTL    time.Duration
	refreshDelay time.Duration
	nextID       int64
	accounts    map[int64]*fakeAccount
	refresh     map[string]int64
	resetTokens map[string]int64
}

// StartIdentity runs fake identity service, it is stopped on test cleanup
func StartIdentity(t *testing.T) *Identity {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := &Identity{
		accessTTL:   15 * time.Minute,
		secret:      []byte(uuid.NewString()),
		nextID:      1,
		accounts:    make(map[int64]*fakeAccount),
		refresh:     make(map[string]int64),
		resetTokens: make(map[string]int64),
	}
	s.server = httptest.NewServer(s.router())
	s.URL = s.server.URL
	t.Cleanup(s.server.Close)

	return s
}

func (s *Identity) router() *gin.Engine {
	r := gin.New()

	auth := r.Group("/auth")
	auth.POST("/login", s.login)
	auth.POST("/register", s.register)
	auth.POST("/verify-email", s.verifyEmail)
	auth.POST("/verify-login-email", s.verifyCode(models.ChallengeEmailCode))
	auth.POST("/verify-2fa", s.verifyCode(models.ChallengeApp2FA))
	auth.POST("/refresh-token", s.refreshToken)
	auth.POST("/forgot-password", s.forgotPassword)
	auth.POST("/validate-reset-token", s.validateResetToken)
	auth.POST("/reset-password", s.resetPassword)
	auth.POST("/logout", s.logout)

	protected := r.Group("/", s.requireAccess)
	protected.GET("/users/me", s.me)
	protected.GET("/accounts/balances", s.balances)

	return r
}

// SetAccessTTL changes lifetime of access tokens issued from now on
func (s *Identity) SetAccessTTL(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTTL = ttl
}

// SetRefreshDelay makes refresh endpoint wait before answering, widens the window for concurrent callers
func (s *Identity) SetRefreshDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshDelay = d
}

// AddUser registers user directly and returns its id
func (s *Identity) AddUser(u FakeUser) int64 {
	hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}

	challenge := u.Challenge
	if challenge == "" {
		challenge = models.ChallengeNone
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.accounts[id] = &fakeAccount{
		profile: models.UserProfile{
			ID:               id,
			Username:         u.Username,
			Email:            u.Email,
			FullName:         u.FullName,
			EmailVerified:    u.Verified,
			TwoFactorEnabled: challenge == models.ChallengeApp2FA,
		},
		hash:      hash,
		locked:    u.Locked,
		challenge: challenge,
		balances:  u.Balances,
	}
	return id
}

// IssueAccess signs access token for the user with custom lifetime, negative ttl gives expired token
func (s *Identity) IssueAccess(userID int64, ttl time.Duration) string {
	claims := jwt.MapClaims{
		"userId": userID,
		"exp":    time.Now().Add(ttl).Unix(),
		"iat":    time.Now().Unix(),
		"jti":    uuid.NewString(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		panic(err)
	}
	return token
}

// IssuePair returns valid token pair for the user
func (s *Identity) IssuePair(userID int64) models.TokenPair {
	refresh := uuid.NewString()

	s.mu.Lock()
	s.refresh[refresh] = userID
	ttl := s.accessTTL
	s.mu.Unlock()

	return models.TokenPair{Access: s.IssueAccess(userID, ttl), Refresh: refresh}
}

// AddResetToken makes token usable for password reset of the user
func (s *Identity) AddResetToken(userID int64) string {
	token := uuid.NewString()

	s.mu.Lock()
	s.resetTokens[token] = userID
	s.mu.Unlock()

	return token
}

// User returns current profile of the user
func (s *Identity) User(userID int64) (models.UserProfile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[userID]
	if !ok {
		return models.UserProfile{}, false
	}
	return acc.profile, true
}

// CheckPassword reports whether password matches the stored hash
func (s *Identity) CheckPassword(userID int64, password string) bool {
	s.mu.Lock()
	acc, ok := s.accounts[userID]
	s.mu.Unlock()

	return ok && bcrypt.CompareHashAndPassword(acc.hash, []byte(password)) == nil
}

// RefreshValid reports whether refresh token is still accepted
func (s *Identity) RefreshValid(refresh string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.refresh[refresh]
	return ok
}

func (s *Identity) RefreshCalls() int64  { return s.refreshCalls.Load() }
func (s *Identity) RegisterCalls() int64 { return s.registerCalls.Load() }
func (s *Identity) LogoutCalls() int64   { return s.logoutCalls.Load() }
func (s *Identity) ForgotCalls() int64   { return s.forgotCalls.Load() }

func fail(c *gin.Context, status int, message string, code string) {
	body := gin.H{"message": message}
	if code != "" {
		body["code"] = code
	}
	c.AbortWithStatusJSON(status, body)
}

func (s *Identity) pair(c *gin.Context, userID int64) {
	c.JSON(http.StatusOK, s.IssuePair(userID))
}

func (s *Identity) findByEmail(email string) *fakeAccount {
	for _, acc := range s.accounts {
		if strings.EqualFold(acc.profile.Email, email) {
			return acc
		}
	}
	return nil
}

func (s *Identity) login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request", "")
		return
	}

	s.mu.Lock()
	acc := s.findByEmail(req.Email)
	s.mu.Unlock()

	if acc == nil || bcrypt.CompareHashAndPassword(acc.hash, []byte(req.Password)) != nil {
		fail(c, http.StatusUnauthorized, "Invalid email or password", "INVALID_CREDENTIALS")
		return
	}
	if acc.locked {
		fail(c, http.StatusForbidden, "Account is locked", "ACCOUNT_LOCKED")
		return
	}

	if acc.challenge == models.ChallengeNone {
		s.pair(c, acc.profile.ID)
		return
	}

	c.JSON(http.StatusOK, gin.H{"challenge": models.Challenge{Kind: acc.challenge, UserID: acc.profile.ID}})
}

func (s *Identity) register(c *gin.Context) {
	s.registerCalls.Add(1)

	var req models.PendingRegistration
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Email == "" || req.Password == "" {
		fail(c, http.StatusBadRequest, "Invalid request", "")
		return
	}
	if len(req.Password) < 8 {
		fail(c, http.StatusBadRequest, "Password is too weak", "WEAK_PASSWORD")
		return
	}

	s.mu.Lock()
	for _, acc := range s.accounts {
		sameEmail := strings.EqualFold(acc.profile.Email, req.Email)
		sameName := acc.profile.Username == req.Username

		// Replayed registration of not yet verified user just sends code again
		if sameEmail && sameName && !acc.profile.EmailVerified {
			s.mu.Unlock()
			c.JSON(http.StatusOK, gin.H{"message": "Verification code sent"})
			return
		}
		if sameEmail || sameName {
			s.mu.Unlock()
			fail(c, http.StatusConflict, "Email or username already taken", "DUPLICATED_EMAIL_OR_USERNAME")
			return
		}
	}
	s.mu.Unlock()

	s.AddUser(FakeUser{
		Username: req.Username,
		Email:    req.Email,
		FullName: req.FullName,
		Password: req.Password,
	})
	c.JSON(http.StatusCreated, gin.H{"message": "Verification code sent"})
}

func (s *Identity) verifyEmail(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
		Code  string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request", "")
		return
	}
	if req.Code != ValidCode {
		fail(c, http.StatusBadRequest, "Invalid verification code", "INVALID_CODE")
		return
	}

	s.mu.Lock()
	acc := s.findByEmail(req.Email)
	if acc != nil {
		acc.profile.EmailVerified = true
	}
	s.mu.Unlock()

	if acc == nil {
		fail(c, http.StatusBadRequest, "Verification code expired", "EXPIRED_CODE")
		return
	}

	if s.VerifyEmailIssuesTokens.Load() {
		s.pair(c, acc.profile.ID)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Email verified"})
}

func (s *Identity) verifyCode(kind models.ChallengeKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			UserID int64  `json:"userId" binding:"required"`
			Code   string `json:"code" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "Invalid request", "")
			return
		}

		s.mu.Lock()
		acc, ok := s.accounts[req.UserID]
		s.mu.Unlock()

		if !ok || acc.challenge != kind || req.Code != ValidCode {
			fail(c, http.StatusBadRequest, "Invalid verification code", "INVALID_CODE")
			return
		}
		s.pair(c, req.UserID)
	}
}

func (s *Identity) refreshToken(c *gin.Context) {
	s.refreshCalls.Add(1)

	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.RefreshToken == "" {
		fail(c, http.StatusBadRequest, "Refresh token is missing", "MISSING_REFRESH_TOKEN")
		return
	}

	s.mu.Lock()
	delay, ttl := s.refreshDelay, s.accessTTL
	s.mu.Unlock()
	time.Sleep(delay)

	s.mu.Lock()
	userID, ok := s.refresh[req.RefreshToken]
	s.mu.Unlock()

	if !ok {
		fail(c, http.StatusUnauthorized, "Refresh token is invalid", "INVALID_REFRESH_TOKEN")
		return
	}

	c.JSON(http.StatusOK, gin.H{"accessToken": s.IssueAccess(userID, ttl)})
}

func (s *Identity) forgotPassword(c *gin.Context) {
	s.forgotCalls.Add(1)
	c.JSON(http.StatusOK, gin.H{"message": "If the email exists, a reset link was sent"})
}

func (s *Identity) lookupReset(token string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.resetTokens[token]
	return userID, ok
}

func (s *Identity) validateResetToken(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request", "")
		return
	}
	if _, ok := s.lookupReset(req.Token); !ok {
		fail(c, http.StatusBadRequest, "Reset link is invalid", "INVALID_RESET_TOKEN")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Token is valid"})
}

func (s *Identity) resetPassword(c *gin.Context) {
	var req struct {
		Token       string `json:"token" binding:"required"`
		NewPassword string `json:"newPassword" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request", "")
		return
	}

	userID, ok := s.lookupReset(req.Token)
	if !ok {
		fail(c, http.StatusBadRequest, "Reset link is invalid", "INVALID_RESET_TOKEN")
		return
	}
	if len(req.NewPassword) < 8 {
		fail(c, http.StatusBadRequest, "Password is too weak", "WEAK_PASSWORD")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.MinCost)
	if err != nil {
		fail(c, http.StatusInternalServerError, "Internal error", "")
		return
	}

	s.mu.Lock()
	s.accounts[userID].hash = hash
	delete(s.resetTokens, req.Token)
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"message": "Password changed"})
}

func (s *Identity) logout(c *gin.Context) {
	s.logoutCalls.Add(1)

	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = c.ShouldBindJSON(&req)

	s.mu.Lock()
	delete(s.refresh, req.RefreshToken)
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// Accepts only valid not expired HS256 access token
func (s *Identity) requireAccess(c *gin.Context) {
	if s.ForceUnauthorized.Load() > 0 {
		s.ForceUnauthorized.Add(-1)
		fail(c, http.StatusUnauthorized, "Unauthorized", "")
		return
	}

	raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok {
		fail(c, http.StatusUnauthorized, "Unauthorized", "")
		return
	}

	var claims struct {
		jwt.RegisteredClaims
		UserID int64 `json:"userId"`
	}
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		fail(c, http.StatusUnauthorized, fmt.Sprintf("Unauthorized: %v", err), "")
		return
	}

	c.Set("userID", claims.UserID)
	c.Next()
}

func (s *Identity) account(c *gin.Context) (*fakeAccount, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[c.GetInt64("userID")]
	if !ok {
		fail(c, http.StatusNotFound, "User not found", "")
	}
	return acc, ok
}

func (s *Identity) me(c *gin.Context) {
	if acc, ok := s.account(c); ok {
		c.JSON(http.StatusOK, acc.profile)
	}
}

func (s *Identity) balances(c *gin.Context) {
	if acc, ok := s.account(c); ok {
		balances := acc.balances
		if balances == nil {
			balances = []models.Balance{}
		}
		c.JSON(http.StatusOK, balances)
	}
}
