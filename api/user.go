package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/baidenprynce9-wq/codealpha-tasks/domain"
)

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

func registerUser(store Storage, auth *Auth, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		var req registerRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid body"})
		}
		if req.Name == "" || req.Email == "" || req.Password == "" {
			return c.JSON(http.StatusBadRequest, errorResponse{Message: "name, email and password are required"})
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			logger.Errorf("hash password: %v", err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Message: "server error"})
		}

		user, err := store.CreateUser(ctx, req.Name, req.Email, string(hash))
		if err != nil {
			return storageErrorResponse(c, logger, err)
		}

		token, err := auth.IssueToken(user.ID)
		if err != nil {
			logger.Errorf("issue token: %v", err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Message: "server error"})
		}
		return c.JSON(http.StatusCreated, authResponse{Token: token, User: user})
	}
}

func loginUser(store Storage, auth *Auth, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		var req loginRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid body"})
		}

		user, hash, err := store.UserByEmail(ctx, req.Email)
		if err == nil {
			err = bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password))
		}
		if err != nil {
			// Same response for unknown email and wrong password.
			return c.JSON(http.StatusUnauthorized, errorResponse{Message: "invalid credentials"})
		}

		token, err := auth.IssueToken(user.ID)
		if err != nil {
			logger.Errorf("issue token: %v", err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Message: "server error"})
		}
		return c.JSON(http.StatusOK, authResponse{Token: token, User: user})
	}
}
