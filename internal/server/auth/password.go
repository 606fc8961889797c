package auth

import (
	"errors"

	"github.com/dmitrijs2005/walletkeeper/internal/common"
	"golang.org/x/crypto/bcrypt"
)

// passwordCost is a var so tests can use bcrypt.MinCost.
var passwordCost = bcrypt.DefaultCost

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword returns common.ErrUnauthorized when password does not match.
func CheckPassword(hash, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return common.ErrUnauthorized
	}
	return err
}

// SetPasswordCostForTests lowers the bcrypt cost for packages whose tests
// hash many passwords.
func SetPasswordCostForTests(cost int) func() {
	prev := passwordCost
	passwordCost = cost
	return func() { passwordCost = prev }
}
