package receipt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the payload of a booking receipt code.
type Claims struct {
	ReservationID string `json:"rid"`
	LockerID      string `json:"lid"`
	LockerNumber  int    `json:"num"`
	jwt.RegisteredClaims
}

// Issuer signs receipt codes with HS256.
type Issuer struct {
	issuer string
	key    []byte
}

// NewIssuer creates an issuer. An empty key is rejected.
func NewIssuer(issuer, key string) (*Issuer, error) {
	if key == "" {
		return nil, errors.New("receipt signing key required")
	}
	return &Issuer{issuer: issuer, key: []byte(key)}, nil
}

// Issue returns a signed code for a reservation, valid until end.
func (i *Issuer) Issue(studentID, reservationID, lockerID string, lockerNumber int, start, end time.Time) (string, error) {
	claims := Claims{
		ReservationID: reservationID,
		LockerID:      lockerID,
		LockerNumber:  lockerNumber,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   studentID,
			ID:        reservationID,
			IssuedAt:  jwt.NewNumericDate(start),
			NotBefore: jwt.NewNumericDate(start),
			ExpiresAt: jwt.NewNumericDate(end),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
}

// Parse validates a code and returns its claims.
func (i *Issuer) Parse(code string) (Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}
	parsed, err := jwt.ParseWithClaims(code, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return i.key, nil
	}, opts...)
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid receipt")
	}
	return *claims, nil
}
