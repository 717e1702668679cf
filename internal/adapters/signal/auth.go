package signal

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/dkeye/callrelay/internal/domain"
)

var (
	ErrAuthRejected = errors.New("invalid credentials")
	ErrMissingName  = errors.New("userName is required")
)

// authenticate checks the shared credential before the upgrade.
func authenticate(r *http.Request, credential string) (string, int, error) {
	q := r.URL.Query()
	password := q.Get("password")
	if !CheckCredential(password, credential) {
		return "", http.StatusUnauthorized, ErrAuthRejected
	}
	name, err := domain.NormalizeUsername(q.Get("userName"))
	if err != nil {
		if errors.Is(err, domain.ErrUsernameEmpty) {
			return "", http.StatusBadRequest, ErrMissingName
		}
		return "", http.StatusBadRequest, err
	}
	return name, http.StatusOK, nil
}

// CheckCredential compares given with the shared credential in constant time.
// An empty credential matches nothing.
func CheckCredential(given, credential string) bool {
	return credential != "" && subtle.ConstantTimeCompare([]byte(given), []byte(credential)) == 1
}

func codeOf(err error) string {
	if errors.Is(err, ErrAuthRejected) {
		return "AuthRejected"
	}
	return "InvalidName"
}
