package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"loadtrace-backend/internal/database"
	"loadtrace-backend/internal/models"
	"loadtrace-backend/pkg/utils"

	"golang.org/x/crypto/bcrypt"
)

type CreateUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"` // "driver", "broker" or "admin"
}

type CreateUserResponse struct {
	Success bool                 `json:"success"`
	User    *models.UserResponse `json:"user,omitempty"`
	Message string               `json:"message,omitempty"`
}

// CreateUser creates a new user. Requires admin authentication.
func CreateUser(store *database.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateUserRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.Error(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		if req.Email == "" || req.Password == "" || req.Name == "" || req.Role == "" {
			utils.Error(w, http.StatusBadRequest, "Email, password, name, and role are required")
			return
		}

		validRoles := map[string]bool{"driver": true, "broker": true, "admin": true}
		if !validRoles[req.Role] {
			utils.Error(w, http.StatusBadRequest, "Role must be 'driver', 'broker' or 'admin'")
			return
		}

		existing, err := store.GetUserByEmail(req.Email)
		if err != nil {
			utils.Error(w, http.StatusInternalServerError, "Database error")
			return
		}
		if existing != nil {
			utils.Error(w, http.StatusConflict, "A user with that email already exists")
			return
		}

		hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			utils.Error(w, http.StatusInternalServerError, "Failed to hash password")
			return
		}

		user := models.User{
			Email:    req.Email,
			Password: string(hashed),
			Name:     req.Name,
			Role:     req.Role,
		}
		if err := store.CreateUser(&user); err != nil {
			log.Printf("❌ Failed to create user: %v", err)
			utils.Error(w, http.StatusInternalServerError, "Failed to create user")
			return
		}

		log.Printf("✅ User created: %s (%s)", user.Email, user.Role)
		response := user.ToUserResponse()
		utils.JSON(w, http.StatusCreated, CreateUserResponse{Success: true, User: &response})
	}
}
