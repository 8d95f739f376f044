package handler

import (
	"context"
	"database/sql"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/adavenue/ticketing/internal/config"
	"github.com/adavenue/ticketing/internal/model"
	"github.com/adavenue/ticketing/internal/repository"
	"github.com/adavenue/ticketing/internal/utils"
)

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Cfg    config.Config
	Users  *repository.UserRepo
	Tokens *repository.TokenRepo
}

func NewAuthHandler(cfg config.Config, u *repository.UserRepo, t *repository.TokenRepo) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Users: u, Tokens: t}
}

// ----- DTOs -----

type registerReq struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"` // user | organizer
}
type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
type refreshReq struct {
	RefreshToken string `json:"refreshToken"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}
type userPart struct {
	ID    uint64 `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}
type authResp struct {
	User    userPart  `json:"user"`
	Access  tokenPart `json:"access"`
	Refresh tokenPart `json:"refresh"`
}

func validateRegister(req *registerReq) model.FieldErrors {
	ferrs := model.FieldErrors{}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Name == "" {
		ferrs["name"] = "Name is required."
	}
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		ferrs["email"] = "A valid email is required."
	}
	if len(req.Password) < 6 {
		ferrs["password"] = "Password must be at least 6 characters."
	}
	role := strings.ToLower(strings.TrimSpace(req.Role))
	if role == "" {
		role = model.RoleUser
	} else {
		allowed := false
		for _, r := range model.SignupRoles {
			if r == role {
				allowed = true
				break
			}
		}
		if !allowed {
			ferrs["role"] = "Role must be user or organizer."
		}
	}
	req.Role = role
	if len(ferrs) == 0 {
		return nil
	}
	return ferrs
}

// Register creates an account and returns tokens immediately.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return sendError(c, http.StatusBadRequest, "Invalid request body.", nil)
	}
	if ferrs := validateRegister(&req); ferrs != nil {
		return sendError(c, http.StatusUnprocessableEntity, "Validation failed.", ferrs)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	uid, err := h.Users.Create(ctx, req.Email, req.Password, req.Name, req.Role, h.Cfg.BcryptCost)
	if err != nil {
		if err == repository.ErrEmailExists {
			return sendError(c, http.StatusConflict, "An account with this email already exists.", nil)
		}
		return sendError(c, http.StatusInternalServerError, "Could not create the account.", nil)
	}

	resp, err := h.issuePair(ctx, uid, req.Name, req.Email, req.Role)
	if err != nil {
		return sendError(c, http.StatusInternalServerError, "Could not issue tokens.", nil)
	}
	return sendSuccess(c, http.StatusCreated, resp, "Account created.")
}

// Login verifies credentials and returns a new token pair.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return sendError(c, http.StatusBadRequest, "Invalid request body.", nil)
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		return sendError(c, http.StatusUnprocessableEntity, "Validation failed.", model.FieldErrors{
			"email": "Email and password are required.",
		})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.GetByEmail(ctx, req.Email)
	if err != nil {
		if err == sql.ErrNoRows {
			return sendError(c, http.StatusUnauthorized, "Invalid email or password.", nil)
		}
		return sendError(c, http.StatusInternalServerError, "Login failed.", nil)
	}
	if !u.IsActive || !utils.VerifyPassword(u.PasswordHash, req.Password) {
		return sendError(c, http.StatusUnauthorized, "Invalid email or password.", nil)
	}

	resp, err := h.issuePair(ctx, u.ID, u.Name, u.Email, u.Role)
	if err != nil {
		return sendError(c, http.StatusInternalServerError, "Could not issue tokens.", nil)
	}
	return sendSuccess(c, http.StatusOK, resp, "Logged in.")
}

// Refresh validates the presented refresh token by hash, revokes it and
// issues a fresh pair (rotation).
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		return sendError(c, http.StatusBadRequest, "refreshToken is required.", nil)
	}
	hash := utils.HashRefreshRaw(strings.TrimSpace(req.RefreshToken))

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	tok, err := h.Tokens.ValidateRefresh(ctx, hash)
	if err != nil {
		return sendError(c, http.StatusUnauthorized, "Invalid or expired refresh token.", nil)
	}
	_ = h.Tokens.RevokeByHash(ctx, hash)

	u, err := h.Users.GetByID(ctx, tok.UserID)
	if err != nil {
		return sendError(c, http.StatusUnauthorized, "Invalid or expired refresh token.", nil)
	}

	resp, err := h.issuePair(ctx, u.ID, u.Name, u.Email, u.Role)
	if err != nil {
		return sendError(c, http.StatusInternalServerError, "Could not issue tokens.", nil)
	}
	return sendSuccess(c, http.StatusOK, resp, "Tokens refreshed.")
}

// Logout revokes refresh tokens.  With a valid bearer and no body token
// every session of the user is revoked; with a body token only that
// session ends.
func (h *AuthHandler) Logout(c echo.Context) error {
	var uid uint64
	hasBearer := false
	authHeader := c.Request().Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		raw := strings.TrimPrefix(authHeader, "Bearer ")
		tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, echo.ErrUnauthorized
			}
			return []byte(h.Cfg.JWTSecret), nil
		})
		if err == nil && tok.Valid {
			if claims, ok := tok.Claims.(jwt.MapClaims); ok {
				if sub, ok := claims["sub"].(float64); ok {
					uid = uint64(sub)
					hasBearer = true
				}
			}
		}
	}

	var req refreshReq
	_ = c.Bind(&req)
	refreshToken := strings.TrimSpace(req.RefreshToken)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if hasBearer && refreshToken == "" {
		if uid == 0 {
			return sendError(c, http.StatusUnauthorized, "Unauthorized.", nil)
		}
		if err := h.Tokens.RevokeAllForUser(ctx, uid); err != nil {
			return sendError(c, http.StatusInternalServerError, "Logout failed.", nil)
		}
		return c.NoContent(http.StatusNoContent)
	}
	if refreshToken != "" {
		hash := utils.HashRefreshRaw(refreshToken)
		if _, err := h.Tokens.ValidateRefresh(ctx, hash); err != nil {
			return sendError(c, http.StatusUnauthorized, "Invalid refresh token.", nil)
		}
		if err := h.Tokens.RevokeByHash(ctx, hash); err != nil {
			return sendError(c, http.StatusInternalServerError, "Logout failed.", nil)
		}
		return c.NoContent(http.StatusNoContent)
	}
	return sendError(c, http.StatusBadRequest, "Provide an Authorization header or a refreshToken.", nil)
}

// Me returns the authenticated user's profile.
func (h *AuthHandler) Me(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return sendError(c, http.StatusUnauthorized, "Unauthorized.", nil)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.GetByID(ctx, uid)
	if err != nil {
		if err == sql.ErrNoRows {
			return sendError(c, http.StatusUnauthorized, "User account not found.", nil)
		}
		return sendError(c, http.StatusInternalServerError, "Could not load the profile.", nil)
	}
	return sendSuccess(c, http.StatusOK, userPart{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role}, "")
}

// issuePair mints an access/refresh pair and persists the refresh hash.
func (h *AuthHandler) issuePair(ctx context.Context, uid uint64, name, email, role string) (authResp, error) {
	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, uid, email, role, h.Cfg.AccessTTLMin)
	if err != nil {
		return authResp{}, err
	}
	refresh, err := utils.NewRefreshToken(h.Cfg.RefreshTTLDays)
	if err != nil {
		return authResp{}, err
	}
	if err := h.Tokens.StoreRefresh(ctx, uid, utils.HashRefreshRaw(refresh.Raw), refresh.Exp); err != nil {
		return authResp{}, err
	}
	return authResp{
		User:    userPart{ID: uid, Name: name, Email: email, Role: role},
		Access:  tokenPart{Token: access.Token, Expires: access.Exp},
		Refresh: tokenPart{Token: refresh.Raw, Expires: refresh.Exp}, // raw back to client
	}, nil
}
