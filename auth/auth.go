// Package auth registers and authenticates the users allowed to edit rules.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strconv"
	"time"

	"greenhouse/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const sessionTTL = 24 * time.Hour

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidToken       = errors.New("invalid token")
	ErrUserNotFound       = errors.New("user not found")
	ErrNoSecret           = errors.New("jwt secret not configured")
)

type AuthModule struct {
	db        *gorm.DB
	redis     *redis.Client
	JWTSecret string
}

func NewAuthModule(db *gorm.DB, redis *redis.Client, JWTSecret string) *AuthModule {
	return &AuthModule{
		db:        db,
		redis:     redis,
		JWTSecret: JWTSecret,
	}
}

func generateSecureToken(length int) (string, error) {
	randomBytes := make([]byte, length)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", err
	}

	return base64.URLEncoding.EncodeToString(randomBytes), nil
}

func (a *AuthModule) createUser(ctx context.Context, username, password, email string) (uint, error) {
	var count int64
	if err := a.db.WithContext(ctx).Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, ErrUsernameTaken
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}

	user := models.User{Username: username, Password: string(hashedPassword), Email: email}
	if err := a.db.WithContext(ctx).Create(&user).Error; err != nil {
		return 0, err
	}
	return user.ID, nil
}

func (a *AuthModule) generateJWT(userID uint) (string, error) {
	if a.JWTSecret == "" {
		return "", ErrNoSecret
	}
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(24 * time.Hour).Unix(),
		"iat":     time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.JWTSecret))
}

func (a *AuthModule) authenticateUser(ctx context.Context, username string, password string) (uint, error) {
	var user models.User
	if err := a.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return 0, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return 0, ErrInvalidCredentials
	}

	return user.ID, nil
}

func (a *AuthModule) newSession(ctx context.Context, userID uint) (string, error) {
	token, err := generateSecureToken(32)
	if err != nil {
		return "", err
	}
	if err := a.redis.Set(ctx, "session:"+token, userID, sessionTTL).Err(); err != nil {
		return "", err
	}
	return token, nil
}

func (a *AuthModule) RegisterWithJWT(ctx context.Context, username string, password string, email string) (string, error) {
	userID, err := a.createUser(ctx, username, password, email)
	if err != nil {
		return "", err
	}

	return a.generateJWT(userID)
}

// Login returns a JWT for API clients and a session token for the browser
func (a *AuthModule) Login(ctx context.Context, username, password string) (jwtToken, sessionToken string, err error) {
	userID, err := a.authenticateUser(ctx, username, password)
	if err != nil {
		return "", "", err
	}

	if jwtToken, err = a.generateJWT(userID); err != nil {
		return "", "", err
	}
	if sessionToken, err = a.newSession(ctx, userID); err != nil {
		return "", "", err
	}
	return jwtToken, sessionToken, nil
}

func (a *AuthModule) ValidateTokenJWT(ctx context.Context, token string) (string, error) {
	if a.JWTSecret == "" {
		return "", ErrNoSecret
	}
	parsedToken, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(a.JWTSecret), nil
	})
	if err != nil {
		return "", err
	}

	if claims, ok := parsedToken.Claims.(jwt.MapClaims); ok && parsedToken.Valid {
		userIDFloat, ok := claims["user_id"].(float64)
		if !ok {
			return "", errors.New("invalid user_id in token")
		}
		return strconv.Itoa(int(userIDFloat)), nil
	}

	return "", ErrInvalidToken
}

func (a *AuthModule) ValidateTokenSession(ctx context.Context, token string) (string, error) {
	key := "session:" + token
	userID, err := a.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrInvalidToken
	} else if err != nil {
		return "", err
	}

	ttl, err := a.redis.TTL(ctx, key).Result()
	if err != nil {
		return "", err
	}

	// Update expiration only after some time
	if ttl < 20*time.Hour {
		if err := a.redis.Expire(ctx, key, sessionTTL).Err(); err != nil {
			return "", err
		}
	}
	return userID, nil
}

func (a *AuthModule) LogoutSession(ctx context.Context, token string) error {
	return a.redis.Del(ctx, "session:"+token).Err()
}

// GetUser loads a user by id
func (a *AuthModule) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	if err := a.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// ChangePassword changes the user's password after verifying the old password
func (a *AuthModule) ChangePassword(ctx context.Context, userID string, oldPassword, newPassword string) error {
	user, err := a.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(oldPassword)); err != nil {
		return errors.New("invalid old password")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return a.db.WithContext(ctx).Model(user).Update("password", string(hashedPassword)).Error
}

// ChangeEmail changes the user's email after verifying the password
func (a *AuthModule) ChangeEmail(ctx context.Context, userID string, password, newEmail string) error {
	user, err := a.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return errors.New("invalid password")
	}
	return a.db.WithContext(ctx).Model(user).Update("email", newEmail).Error
}
