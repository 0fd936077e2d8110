package accounts

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// PasswordOptions is the password policy enforced on registration and reset
type PasswordOptions struct {
	RequiredLength         int
	RequiredUniqueChars    int
	RequireDigit           bool
	RequireLowercase       bool
	RequireUppercase       bool
	RequireNonAlphanumeric bool
}

// DefaultPasswordOptions returns the default policy: six characters with a digit,
// a lower case letter, an upper case letter and a symbol.
func DefaultPasswordOptions() PasswordOptions {
	return PasswordOptions{
		RequiredLength:         6,
		RequiredUniqueChars:    1,
		RequireDigit:           true,
		RequireLowercase:       true,
		RequireUppercase:       true,
		RequireNonAlphanumeric: true,
	}
}

// Validate returns every rule the password breaks.  An empty slice means the password is acceptable.
func (o PasswordOptions) Validate(password string) []IdentityError {
	var errs []IdentityError
	if len(password) < o.RequiredLength {
		errs = append(errs, IdentityError{ErrCodePasswordTooShort,
			fmt.Sprintf("Passwords must be at least %d characters.", o.RequiredLength)})
	}

	var hasDigit, hasLower, hasUpper, hasSymbol bool
	unique := make(map[rune]struct{})
	for _, c := range password {
		unique[c] = struct{}{}
		switch {
		case c >= '0' && c <= '9':
			hasDigit = true
		case c >= 'a' && c <= 'z':
			hasLower = true
		case c >= 'A' && c <= 'Z':
			hasUpper = true
		case !unicode.IsLetter(c) && !unicode.IsDigit(c):
			hasSymbol = true
		}
	}

	if o.RequireNonAlphanumeric && !hasSymbol {
		errs = append(errs, IdentityError{ErrCodePasswordRequiresNonAlphanumeric,
			"Passwords must have at least one non alphanumeric character."})
	}
	if o.RequireDigit && !hasDigit {
		errs = append(errs, IdentityError{ErrCodePasswordRequiresDigit,
			"Passwords must have at least one digit ('0'-'9')."})
	}
	if o.RequireLowercase && !hasLower {
		errs = append(errs, IdentityError{ErrCodePasswordRequiresLower,
			"Passwords must have at least one lowercase ('a'-'z')."})
	}
	if o.RequireUppercase && !hasUpper {
		errs = append(errs, IdentityError{ErrCodePasswordRequiresUpper,
			"Passwords must have at least one uppercase ('A'-'Z')."})
	}
	if o.RequiredUniqueChars > 1 && len(unique) < o.RequiredUniqueChars {
		errs = append(errs, IdentityError{ErrCodePasswordRequiresUniqueChars,
			fmt.Sprintf("Passwords must use at least %d different characters.", o.RequiredUniqueChars)})
	}
	return errs
}

// PasswordHasher provides password hashing and verification
type PasswordHasher interface {
	// Hash produces an encoded hash of the password
	Hash(password string) (string, error)

	// Verify checks the password against an encoded hash.
	// Returns (false, nil) on mismatch and an error only for malformed hashes.
	Verify(password, hash string) (bool, error)

	// NeedsRehash returns true if the hash was produced by a different scheme
	NeedsRehash(hash string) bool
}

// BcryptHasher hashes with bcrypt
type BcryptHasher struct {
	Cost int
}

func (h *BcryptHasher) cost() int {
	if h.Cost == 0 {
		return bcrypt.DefaultCost
	}
	return h.Cost
}

func (h *BcryptHasher) Hash(password string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(password), h.cost())
	if err != nil {
		return "", oops.Code("PASSWORD_HASH_FAILED").Wrap(err)
	}
	return string(out), nil
}

func (h *BcryptHasher) Verify(password, hash string) (bool, error) {
	if strings.HasPrefix(hash, "$argon2id$") {
		return (&Argon2idHasher{}).Verify(password, hash)
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return true, nil
	}
	if err == bcrypt.ErrMismatchedHashAndPassword {
		return false, nil
	}
	return false, oops.Code("PASSWORD_INVALID_HASH").Wrap(err)
}

func (h *BcryptHasher) NeedsRehash(hash string) bool {
	if !strings.HasPrefix(hash, "$2") {
		return true
	}
	cost, err := bcrypt.Cost([]byte(hash))
	return err != nil || cost != h.cost()
}

// argon2id parameters
const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2SaltLen = 16
	argon2KeyLen  = 32
)

// Argon2idHasher hashes with argon2id and encodes in PHC string format:
// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
type Argon2idHasher struct{}

func (h *Argon2idHasher) Hash(password string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("PASSWORD_HASH_FAILED").Wrap(err)
	}
	key := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argon2Memory, argon2Time, argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func (h *Argon2idHasher) Verify(password, encoded string) (bool, error) {
	if strings.HasPrefix(encoded, "$2") {
		return (&BcryptHasher{}).Verify(password, encoded)
	}
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, oops.Code("PASSWORD_INVALID_HASH").Errorf("invalid hash format")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, oops.Code("PASSWORD_INVALID_HASH").Wrap(err)
	}
	var memory, time, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false, oops.Code("PASSWORD_INVALID_HASH").Wrap(err)
	}
	if threads == 0 || threads > 255 {
		return false, oops.Code("PASSWORD_INVALID_HASH").Errorf("invalid parallelism %d", threads)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, oops.Code("PASSWORD_INVALID_HASH").Wrap(err)
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(expected) == 0 {
		return false, oops.Code("PASSWORD_INVALID_HASH").Errorf("invalid hash key")
	}

	computed := argon2.IDKey([]byte(password), salt, time, memory, uint8(threads), uint32(len(expected)))
	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

func (h *Argon2idHasher) NeedsRehash(hash string) bool {
	return !strings.HasPrefix(hash, "$argon2id$")
}
