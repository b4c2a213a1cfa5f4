// Package storage issues and verifies time-limited URLs for media objects
// and serves the objects from a local media root.
package storage

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultContentExpiry applies to URLs signed for player downloads.
	DefaultContentExpiry = 3600 * time.Second
	// MediaViewExpiry applies to URLs handed out for previews.
	MediaViewExpiry = 600 * time.Second
	// MaxExpiry caps any requested lifetime.
	MaxExpiry = 24 * time.Hour

	objectsPrefix = "/v1/objects/"
)

// bucketName is the shape of a bucket: one lowercase directory name below
// the media root.
var bucketName = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)

var (
	ErrInvalidToken  = errors.New("invalid or expired object token")
	ErrInvalidObject = errors.New("invalid bucket or object path")
)

// objectClaims binds a token to exactly one object.
type objectClaims struct {
	Bucket string `json:"bkt"`
	Object string `json:"obj"`
	jwt.RegisteredClaims
}

// Signer creates signed object URLs. The zero value is not usable; use
// NewSigner.
type Signer struct {
	secret  []byte
	baseURL string
	now     func() time.Time
}

// NewSigner returns a Signer that signs with secret and prefixes URLs with
// baseURL (scheme and host, no trailing slash).
func NewSigner(secret, baseURL string) *Signer {
	return &Signer{secret: []byte(secret), baseURL: strings.TrimRight(baseURL, "/"), now: time.Now}
}

// SignedURL returns a URL for bucket/object that stays valid for expiry.
// A non-positive expiry means DefaultContentExpiry; longer values are capped
// at MaxExpiry.
func (s *Signer) SignedURL(bucket, object string, expiry time.Duration) (string, time.Time, error) {
	object = strings.TrimPrefix(object, "/")
	if err := validObject(bucket, object); err != nil {
		return "", time.Time{}, err
	}
	if expiry <= 0 {
		expiry = DefaultContentExpiry
	}
	if expiry > MaxExpiry {
		expiry = MaxExpiry
	}
	now := s.now().UTC()
	exp := now.Add(expiry)
	claims := objectClaims{
		Bucket: bucket,
		Object: object,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign object token: %w", err)
	}
	u := s.baseURL + ObjectPath(bucket, object) + "?token=" + url.QueryEscape(tok)
	return u, exp, nil
}

// Verify checks that token was issued by this signer for bucket/object and
// has not expired.
func (s *Signer) Verify(token, bucket, object string) error {
	var claims objectClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return ErrInvalidToken
	}
	if claims.Bucket != bucket || claims.Object != strings.TrimPrefix(object, "/") {
		return ErrInvalidToken
	}
	return nil
}

// ObjectPath is the server-relative path under which an object is served.
func ObjectPath(bucket, object string) string {
	segs := strings.Split(strings.TrimPrefix(object, "/"), "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return objectsPrefix + url.PathEscape(bucket) + "/" + strings.Join(segs, "/")
}

// ParseObjectRef extracts bucket and object from a content URL. Absolute
// URLs, server-relative paths and signed URLs (with a query) are accepted as
// long as the path starts with /v1/objects/{bucket}/.
func ParseObjectRef(raw string) (bucket, object string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidObject, err)
	}
	rest, ok := strings.CutPrefix(u.Path, objectsPrefix)
	if !ok {
		return "", "", fmt.Errorf("%w: %q is not an object URL", ErrInvalidObject, raw)
	}
	bucket, object, _ = strings.Cut(rest, "/")
	if err := validObject(bucket, object); err != nil {
		return "", "", err
	}
	return bucket, object, nil
}

// validObject accepts a bucket matching bucketName and a slash separated
// object path without empty, "." or ".." segments.
func validObject(bucket, object string) error {
	if !bucketName.MatchString(bucket) || object == "" || strings.ContainsRune(object, '\\') {
		return ErrInvalidObject
	}
	for _, seg := range strings.Split(object, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return ErrInvalidObject
		}
	}
	return nil
}
