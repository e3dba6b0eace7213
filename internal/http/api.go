package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"biosecure-portal/internal/archiver"
	"biosecure-portal/internal/domain"
	"biosecure-portal/internal/service"
	"biosecure-portal/internal/storage"
	"biosecure-portal/internal/webauthn"
)

// Handler wires HTTP routes to domain services.
type Handler struct {
	users       service.UserService
	sessions    service.SessionService
	enrollments service.EnrollmentService
	audit       service.AuditService
	ceremonies  *webauthn.Engine
	archive     archiver.Manager
	store       storage.Service
	bucket      string
	keyPrefix   string
}

func NewHandler(
	users service.UserService,
	sessions service.SessionService,
	enrollments service.EnrollmentService,
	audit service.AuditService,
	ceremonies *webauthn.Engine,
	archive archiver.Manager,
	store storage.Service,
	bucket string,
	keyPrefix string,
) *Handler {
	return &Handler{
		users:       users,
		sessions:    sessions,
		enrollments: enrollments,
		audit:       audit,
		ceremonies:  ceremonies,
		archive:     archive,
		store:       store,
		bucket:      bucket,
		keyPrefix:   keyPrefix,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	api := router.Group("/api")
	{
		api.POST("/signup", h.signup)
		api.POST("/login", h.login)
		api.POST("/login/fingerprint", h.loginFingerprint)
		api.GET("/users", h.listUsers)
		api.GET("/fingerprint-status", h.fingerprintStatus)
		api.GET("/auth-history", h.authHistory)

		api.POST("/enrollment-intake", h.enrollmentIntake)
		api.GET("/enrollment-intake", h.listEnrollments)

		api.POST("/registration-options", h.registrationOptions)
		api.POST("/authentication-options", h.authenticationOptions)
		api.POST("/verify-registration", h.verifyRegistration)
		api.POST("/verify-authentication", h.verifyAuthentication)
		api.DELETE("/credentials", h.revokeCredential)

		api.GET("/archive/objects", h.listArchive)
		api.DELETE("/archive/objects", h.purgeArchive)

		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
		})

		authed := api.Group("")
		authed.Use(h.sessionMiddleware())
		{
			authed.GET("/session", h.currentSession)
			authed.POST("/logout", h.logout)
		}
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

const sessionContextKey = "session"

// sessionMiddleware resolves the Bearer token into a live session or aborts
// with 401.
func (h *Handler) sessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		session, err := h.sessions.Get(c.Request.Context(), strings.TrimSpace(token))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}
		c.Set(sessionContextKey, session)
		c.Next()
	}
}

type signupRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name" binding:"required"`
	IsAdmin  bool   `json:"isAdmin"`
}

func (h *Handler) signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.users.CreateUser(c.Request.Context(), req.Email, req.Password, req.Name, req.IsAdmin)
	if err != nil {
		if errors.Is(err, service.ErrUserAlreadyExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"user":    userToResponse(user),
	})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.users.VerifyCredentials(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			h.audit.Record(c.Request.Context(), "", req.Email, domain.AuthMethodPassword, false, 0)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.issueSession(c, user, domain.AuthMethodPassword, 0)
}

type fingerprintLoginRequest struct {
	Email string `json:"email" binding:"required"`
}

// loginFingerprint is the flag-gated quick path for enrolled users. The
// cryptographically verified path is verify-authentication.
func (h *Handler) loginFingerprint(c *gin.Context) {
	var req fingerprintLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.users.VerifyFingerprint(c.Request.Context(), req.Email)
	if err != nil {
		h.audit.Record(c.Request.Context(), "", req.Email, domain.AuthMethodFingerprint, false, 0)
		switch {
		case errors.Is(err, service.ErrUserNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		case errors.Is(err, service.ErrNotEnrolled):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "fingerprint not enrolled"})
		case errors.Is(err, service.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "fingerprint verification failed"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	h.issueSession(c, user, domain.AuthMethodFingerprint, webauthn.MatchScore)
}

func (h *Handler) logout(c *gin.Context) {
	session := c.MustGet(sessionContextKey).(*domain.Session)
	if err := h.sessions.Logout(c.Request.Context(), session.Token); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) currentSession(c *gin.Context) {
	session := c.MustGet(sessionContextKey).(*domain.Session)
	c.JSON(http.StatusOK, sessionToResponse(session))
}

func (h *Handler) listUsers(c *gin.Context) {
	users, err := h.users.ListUsers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]UserResponse, len(users))
	for i := range users {
		resp[i] = userToResponse(&users[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) fingerprintStatus(c *gin.Context) {
	email := strings.TrimSpace(c.Query("email"))
	if email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
		return
	}

	enrolled, err := h.users.HasFingerprint(c.Request.Context(), email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"enrolled": enrolled})
}

func (h *Handler) authHistory(c *gin.Context) {
	email := strings.TrimSpace(c.Query("email"))
	if email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
		return
	}

	entries, err := h.audit.History(c.Request.Context(), email, 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]AuthLogResponse, len(entries))
	for i := range entries {
		resp[i] = authLogToResponse(entries[i])
	}
	c.JSON(http.StatusOK, resp)
}

type enrollmentIntakeRequest struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	CredentialID string `json:"credentialId"`
}

func (h *Handler) enrollmentIntake(c *gin.Context) {
	var req enrollmentIntakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields"})
		return
	}

	enrollment, err := h.enrollments.Intake(c.Request.Context(), req.Name, req.Email, req.Phone, req.CredentialID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMissingFields):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields"})
		case errors.Is(err, service.ErrAlreadyEnrolled):
			c.JSON(http.StatusConflict, gin.H{"error": "Email already enrolled"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Enrollment failed"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "Enrollment successful",
		"userId":  enrollment.ID,
	})
}

func (h *Handler) listEnrollments(c *gin.Context) {
	enrollments, err := h.enrollments.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]EnrollmentResponse, len(enrollments))
	for i := range enrollments {
		resp[i] = enrollmentToResponse(enrollments[i])
	}
	c.JSON(http.StatusOK, gin.H{
		"enrolledUsers": resp,
		"count":         len(resp),
	})
}

type registrationOptionsRequest struct {
	UserID      string `json:"userId" binding:"required"`
	UserName    string `json:"userName"`
	DisplayName string `json:"displayName"`
}

func (h *Handler) registrationOptions(c *gin.Context) {
	var req registrationOptionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	options, ceremonyID, err := h.ceremonies.BeginRegistration(c.Request.Context(), req.UserID)
	if err != nil {
		h.ceremonyError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"ceremonyId": ceremonyID,
		"options":    options.Response,
	})
}

type authenticationOptionsRequest struct {
	Email string `json:"email" binding:"required"`
}

func (h *Handler) authenticationOptions(c *gin.Context) {
	var req authenticationOptionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	options, ceremonyID, err := h.ceremonies.BeginAuthentication(c.Request.Context(), req.Email)
	if err != nil {
		h.ceremonyError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"ceremonyId": ceremonyID,
		"options":    options.Response,
	})
}

type verifyRegistrationRequest struct {
	UserID     string          `json:"userId" binding:"required"`
	CeremonyID string          `json:"ceremonyId" binding:"required"`
	Credential json.RawMessage `json:"credential" binding:"required"`
}

func (h *Handler) verifyRegistration(c *gin.Context) {
	var req verifyRegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	user, err := h.users.GetByUserID(c.Request.Context(), req.UserID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	credentialID, err := h.ceremonies.FinishRegistration(c.Request.Context(), req.UserID, req.CeremonyID, bytes.NewReader(req.Credential))
	if err != nil {
		h.ceremonyError(c, err)
		return
	}

	// credential verified and stored; flip the enrollment flag on the account
	if _, err := h.users.RegisterFingerprint(c.Request.Context(), user.Email); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	h.archiveArtifact(c, "registration", user.Email, req.Credential)

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"message":      "Credential registered successfully",
		"credentialId": credentialID,
	})
}

type verifyAuthenticationRequest struct {
	Email      string          `json:"email" binding:"required"`
	CeremonyID string          `json:"ceremonyId" binding:"required"`
	Assertion  json.RawMessage `json:"assertion" binding:"required"`
}

func (h *Handler) verifyAuthentication(c *gin.Context) {
	var req verifyAuthenticationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	user, err := h.ceremonies.FinishAuthentication(c.Request.Context(), req.Email, req.CeremonyID, bytes.NewReader(req.Assertion))
	if err != nil {
		if errors.Is(err, webauthn.ErrVerificationFailed) {
			h.audit.Record(c.Request.Context(), "", req.Email, domain.AuthMethodWebAuthn, false, 0)
		}
		h.ceremonyError(c, err)
		return
	}

	h.archiveArtifact(c, "authentication", req.Email, req.Assertion)
	h.issueSession(c, user, domain.AuthMethodWebAuthn, webauthn.MatchScore)
}

type revokeCredentialRequest struct {
	UserID       string `json:"userId" binding:"required"`
	CredentialID string `json:"credentialId" binding:"required"`
}

// revokeCredential removes a registered credential; when it was the user's
// last one the enrollment flag is cleared as well.
func (h *Handler) revokeCredential(c *gin.Context) {
	var req revokeCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	if err := h.ceremonies.RevokeCredential(c.Request.Context(), req.UserID, req.CredentialID); err != nil {
		h.ceremonyError(c, err)
		return
	}

	registered, err := h.ceremonies.IsRegistered(c.Request.Context(), req.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	if !registered {
		user, err := h.users.GetByUserID(c.Request.Context(), req.UserID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}
		if err := h.users.ClearFingerprint(c.Request.Context(), user.Email); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) listArchive(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "archive storage not configured"})
		return
	}

	objects, err := h.store.ListObjects(c.Request.Context(), h.bucket, h.archivePrefix(c.Query("kind")))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]ArchiveObjectResponse, len(objects))
	for i, obj := range objects {
		resp[i] = ArchiveObjectResponse{Key: obj.Key, Size: obj.Size}
		if obj.LastModified != nil {
			resp[i].LastModified = obj.LastModified.Format(time.RFC3339)
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"objects": resp,
		"count":   len(resp),
	})
}

func (h *Handler) purgeArchive(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "archive storage not configured"})
		return
	}

	prefix := h.archivePrefix(c.Query("kind"))
	if prefix == "" {
		// refuse to delete the whole bucket
		c.JSON(http.StatusBadRequest, gin.H{"error": "no archive prefix configured"})
		return
	}

	if err := h.store.DeletePrefix(c.Request.Context(), h.bucket, prefix); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// archivePrefix scopes archive operations to the configured prefix, optionally
// narrowed to one artifact kind.
func (h *Handler) archivePrefix(kind string) string {
	prefix := strings.Trim(h.keyPrefix, "/")
	kind = strings.Trim(strings.TrimSpace(kind), "/")
	if kind == "" {
		return prefix
	}
	if prefix == "" {
		return kind
	}
	return prefix + "/" + kind
}

// issueSession creates a session for the authenticated user, records the
// attempt, and writes the login response.
func (h *Handler) issueSession(c *gin.Context, user *domain.User, method string, matchScore int) {
	session, err := h.sessions.Create(c.Request.Context(), user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.audit.Record(c.Request.Context(), user.UserID, user.Email, method, true, matchScore)

	resp := gin.H{
		"success":   true,
		"message":   "Authentication successful",
		"token":     session.Token,
		"expiresAt": session.ExpiresAt.UnixMilli(),
		"user":      userToResponse(user),
	}
	if matchScore > 0 {
		resp["matchScore"] = matchScore
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) archiveArtifact(c *gin.Context, kind, subject string, payload []byte) {
	if h.archive == nil {
		return
	}
	rec := archiver.Record{
		Kind:    kind,
		Subject: subject,
		Payload: payload,
		At:      time.Now().UTC(),
	}
	// best effort; the ceremony already succeeded
	_ = h.archive.Enqueue(c.Request.Context(), rec)
}

// ceremonyError maps engine errors to HTTP responses.
func (h *Handler) ceremonyError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, webauthn.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "user not found"})
	case errors.Is(err, webauthn.ErrNoCredentials):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "no registered credentials"})
	case errors.Is(err, webauthn.ErrCeremonyNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "ceremony not found or expired"})
	case errors.Is(err, webauthn.ErrCredentialNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "credential not found"})
	case errors.Is(err, webauthn.ErrInvalidResponse):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid authenticator response"})
	case errors.Is(err, webauthn.ErrVerificationFailed):
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "verification failed"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal server error"})
	}
}

type UserResponse struct {
	UserID    string `json:"userId"`
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	IsAdmin   bool   `json:"isAdmin"`
	Enrolled  bool   `json:"enrolled"`
	CreatedAt string `json:"createdAt"`
}

type SessionResponse struct {
	Token     string       `json:"token"`
	ExpiresAt int64        `json:"expiresAt"`
	User      UserResponse `json:"user"`
}

type EnrollmentResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	CredentialID string `json:"credentialId"`
	Fallback     bool   `json:"fallback"`
	EnrolledAt   string `json:"enrolledAt"`
}

type ArchiveObjectResponse struct {
	Key          string `json:"key"`
	Size         int64  `json:"size"`
	LastModified string `json:"lastModified,omitempty"`
}

type AuthLogResponse struct {
	UserID     string `json:"userId,omitempty"`
	Email      string `json:"email"`
	Method     string `json:"method"`
	Success    bool   `json:"success"`
	MatchScore int    `json:"matchScore,omitempty"`
	At         string `json:"at"`
}

func userToResponse(user *domain.User) UserResponse {
	return UserResponse{
		UserID:    user.UserID,
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		IsAdmin:   user.IsAdmin,
		Enrolled:  user.Enrolled(),
		CreatedAt: user.CreatedAt.Format(time.RFC3339),
	}
}

func sessionToResponse(session *domain.Session) SessionResponse {
	return SessionResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt.UnixMilli(),
		User:      userToResponse(session.User),
	}
}

func enrollmentToResponse(enrollment domain.Enrollment) EnrollmentResponse {
	return EnrollmentResponse{
		ID:           enrollment.ID,
		Name:         enrollment.Name,
		Email:        enrollment.Email,
		Phone:        enrollment.Phone,
		CredentialID: enrollment.CredentialID,
		Fallback:     enrollment.Fallback,
		EnrolledAt:   enrollment.EnrolledAt.Format(time.RFC3339),
	}
}

func authLogToResponse(entry domain.AuthLog) AuthLogResponse {
	return AuthLogResponse{
		UserID:     entry.UserID,
		Email:      entry.Email,
		Method:     entry.Method,
		Success:    entry.Success,
		MatchScore: entry.MatchScore,
		At:         entry.At.Format(time.RFC3339),
	}
}
