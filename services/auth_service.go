package services

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"tubefeed/database"
	"tubefeed/models"
)

type AuthService struct {
	db *database.DB
}

func NewAuthService(db *database.DB) *AuthService {
	return &AuthService{db: db}
}

func (as *AuthService) CreateUser(username, password string) (*models.User, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("username and password are required")
	}

	existingUser, err := as.GetUserByUsername(username)
	if err == nil && existingUser != nil {
		return nil, fmt.Errorf("user already exists")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %v", err)
	}

	result, err := as.db.Exec(`
		INSERT INTO users (username, password)
		VALUES (?, ?)
	`, username, string(hashedPassword))
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %v", err)
	}

	userID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get user ID: %v", err)
	}
	return as.GetUserByID(int(userID))
}

func (as *AuthService) GetUserByID(id int) (*models.User, error) {
	user := &models.User{}
	err := as.db.QueryRow(`
		SELECT id, username, password, created_at, last_login
		FROM users WHERE id = ?
	`, id).Scan(&user.ID, &user.Username, &user.Password, &user.CreatedAt, &user.LastLogin)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (as *AuthService) GetUserByUsername(username string) (*models.User, error) {
	user := &models.User{}
	err := as.db.QueryRow(`
		SELECT id, username, password, created_at, last_login
		FROM users WHERE username = ?
	`, username).Scan(&user.ID, &user.Username, &user.Password, &user.CreatedAt, &user.LastLogin)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (as *AuthService) AuthenticateUser(username, password string) (*models.User, error) {
	user, err := as.GetUserByUsername(username)
	if err != nil {
		return nil, fmt.Errorf("invalid credentials")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, fmt.Errorf("invalid credentials")
	}

	if _, err := as.db.Exec("UPDATE users SET last_login = CURRENT_TIMESTAMP WHERE id = ?", user.ID); err != nil {
		log.Warnf("Failed to update last login for user %d: %v", user.ID, err)
	}
	return user, nil
}

func (as *AuthService) ChangePassword(userID int, currentPassword, newPassword string) error {
	if newPassword == "" {
		return fmt.Errorf("new password is required")
	}

	user, err := as.GetUserByID(userID)
	if err != nil {
		return fmt.Errorf("user not found")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(currentPassword)); err != nil {
		return fmt.Errorf("current password is incorrect")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %v", err)
	}

	_, err = as.db.Exec("UPDATE users SET password = ? WHERE id = ?", string(hashedPassword), userID)
	return err
}

func (as *AuthService) CreateSession(userID int) (*models.Session, error) {
	sessionID := uuid.NewString()

	// Sessions expire in 30 days.
	expiresAt := time.Now().Add(30 * 24 * time.Hour)

	_, err := as.db.Exec(`
		INSERT INTO sessions (id, user_id, expires_at)
		VALUES (?, ?, ?)
	`, sessionID, userID, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %v", err)
	}

	return &models.Session{
		ID:        sessionID,
		UserID:    userID,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
	}, nil
}

func (as *AuthService) GetSession(sessionID string) (*models.Session, error) {
	session := &models.Session{}
	err := as.db.QueryRow(`
		SELECT id, user_id, created_at, expires_at
		FROM sessions WHERE id = ? AND expires_at > CURRENT_TIMESTAMP
	`, sessionID).Scan(&session.ID, &session.UserID, &session.CreatedAt, &session.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (as *AuthService) DeleteSession(sessionID string) error {
	_, err := as.db.Exec(`DELETE FROM sessions WHERE id = ?`, sessionID)
	return err
}

func (as *AuthService) CleanupExpiredSessions() error {
	result, err := as.db.Exec(`DELETE FROM sessions WHERE expires_at <= CURRENT_TIMESTAMP`)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected > 0 {
		log.Infof("Cleaned up %d expired sessions", rowsAffected)
	}
	return nil
}

func (as *AuthService) GetUserCount() (int, error) {
	var count int
	err := as.db.QueryRow("SELECT COUNT(*) FROM users").Scan(&count)
	return count, err
}

// EnsureDefaultUser creates the single account from the environment when
// the users table is empty.
func (as *AuthService) EnsureDefaultUser() error {
	count, err := as.GetUserCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	username := os.Getenv("ADMIN_USERNAME")
	password := os.Getenv("ADMIN_PASSWORD")
	if username == "" {
		username = "admin"
	}
	if password == "" {
		password = "admin123"
		log.Warn("Using default admin password. Please change it!")
	}

	if _, err := as.CreateUser(username, password); err != nil {
		return fmt.Errorf("failed to create default user: %v", err)
	}
	log.Infof("Created default user: %s", username)
	return nil
}
