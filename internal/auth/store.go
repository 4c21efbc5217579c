package auth

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

var ErrOperatorNotFound = errors.New("operator not found")

func (s *Store) GetByUsername(ctx context.Context, username string) (*Operator, error) {
	const q = `SELECT id, username, password_hash, role, created_at FROM operators WHERE username = $1`
	row := s.db.QueryRowContext(ctx, q, username)
	op := &Operator{}
	if err := row.Scan(&op.ID, &op.Username, &op.PasswordHash, &op.Role, &op.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOperatorNotFound
		}
		return nil, err
	}
	return op, nil
}

func (s *Store) Create(ctx context.Context, username, password string, role Role) (*Operator, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	const q = `
		INSERT INTO operators (username, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, username, password_hash, role, created_at
	`
	op := &Operator{}
	if err := s.db.QueryRowContext(ctx, q, username, string(hash), role, time.Now().UTC()).
		Scan(&op.ID, &op.Username, &op.PasswordHash, &op.Role, &op.CreatedAt); err != nil {
		return nil, err
	}
	return op, nil
}

type operatorsFile struct {
	Operators []struct {
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		Role     Role   `yaml:"role"`
	} `yaml:"operators"`
}

// SeedFromFile creates any operators listed in the YAML file that do not
// exist yet. Existing accounts are left untouched.
func (s *Store) SeedFromFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var of operatorsFile
	if err := yaml.Unmarshal(data, &of); err != nil {
		return err
	}
	for _, op := range of.Operators {
		if op.Username == "" || op.Password == "" {
			continue
		}
		if _, err := s.GetByUsername(ctx, op.Username); err == nil {
			continue
		} else if !errors.Is(err, ErrOperatorNotFound) {
			return err
		}
		if _, err := s.Create(ctx, op.Username, op.Password, op.Role); err != nil {
			return err
		}
	}
	return nil
}
