package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"visa-letter-api/models"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"
)

// IdentifierKind names a family of unique identifiers.
type IdentifierKind string

const (
	IdentifierSlug             IdentifierKind = "slug"
	IdentifierReferenceNumber  IdentifierKind = "reference_number"
	IdentifierVerificationCode IdentifierKind = "verification_code"
	IdentifierInvitationToken  IdentifierKind = "invitation_token"

	referenceNumberPrefix = "HC-"
	referenceNumberLength = 8
	referenceAlphabet     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	verificationCodeBytes = 16
	invitationTokenBytes  = 32
)

var (
	ErrUnknownIdentifierKind = errors.New("unknown identifier kind")
	ErrEmptySlug             = errors.New("slug cannot be derived from an empty name")
)

// UniquenessIndex answers whether a value is already taken for a kind.
type UniquenessIndex interface {
	Exists(ctx context.Context, kind IdentifierKind, value string) (bool, error)
}

// IdentifierGenerator draws random identifiers until the index reports a free
// value. It holds no state between calls.
type IdentifierGenerator struct {
	index  UniquenessIndex
	random io.Reader
}

func NewIdentifierGenerator(index UniquenessIndex) *IdentifierGenerator {
	return &IdentifierGenerator{index: index, random: rand.Reader}
}

// WithRandom returns a copy of the generator reading from r.
func (g *IdentifierGenerator) WithRandom(r io.Reader) *IdentifierGenerator {
	return &IdentifierGenerator{index: g.index, random: r}
}

// Generate returns a value of kind not present in the index. Slugs need a
// name and go through Slug instead.
func (g *IdentifierGenerator) Generate(ctx context.Context, kind IdentifierKind) (string, error) {
	var draw func() (string, error)
	switch kind {
	case IdentifierReferenceNumber:
		draw = g.referenceNumber
	case IdentifierVerificationCode:
		draw = g.verificationCode
	case IdentifierInvitationToken:
		draw = g.invitationToken
	case IdentifierSlug:
		return "", fmt.Errorf("%w: slug requires a name", ErrUnknownIdentifierKind)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownIdentifierKind, kind)
	}

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		candidate, err := draw()
		if err != nil {
			return "", fmt.Errorf("draw %s: %w", kind, err)
		}
		taken, err := g.index.Exists(ctx, kind, candidate)
		if err != nil {
			return "", fmt.Errorf("check %s uniqueness: %w", kind, err)
		}
		if !taken {
			return candidate, nil
		}
	}
}

// Slug derives a URL slug from name, appending -1, -2, ... until free.
func (g *IdentifierGenerator) Slug(ctx context.Context, name string) (string, error) {
	base := Parameterize(name)
	if base == "" {
		return "", ErrEmptySlug
	}

	candidate := base
	for counter := 1; ; counter++ {
		taken, err := g.index.Exists(ctx, IdentifierSlug, candidate)
		if err != nil {
			return "", fmt.Errorf("check slug uniqueness: %w", err)
		}
		if !taken {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, counter)
	}
}

func (g *IdentifierGenerator) referenceNumber() (string, error) {
	var sb strings.Builder
	sb.WriteString(referenceNumberPrefix)

	// Rejection sampling keeps the alphabet uniform.
	limit := byte(256 - 256%len(referenceAlphabet))
	buf := make([]byte, 1)
	for sb.Len() < len(referenceNumberPrefix)+referenceNumberLength {
		if _, err := io.ReadFull(g.random, buf); err != nil {
			return "", err
		}
		if buf[0] >= limit {
			continue
		}
		sb.WriteByte(referenceAlphabet[int(buf[0])%len(referenceAlphabet)])
	}
	return sb.String(), nil
}

func (g *IdentifierGenerator) verificationCode() (string, error) {
	buf := make([]byte, verificationCodeBytes)
	if _, err := io.ReadFull(g.random, buf); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}

func (g *IdentifierGenerator) invitationToken() (string, error) {
	buf := make([]byte, invitationTokenBytes)
	if _, err := io.ReadFull(g.random, buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Parameterize folds accents, lowercases and joins alphanumeric runs with "-".
func Parameterize(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}

	var sb strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingDash && sb.Len() > 0 {
				sb.WriteByte('-')
			}
			pendingDash = false
			sb.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	return sb.String()
}

// gormUniquenessIndex checks identifiers against the persisted unique columns.
// Bind it to the transaction that performs the insert.
type gormUniquenessIndex struct {
	db *gorm.DB
}

func NewGormUniquenessIndex(db *gorm.DB) UniquenessIndex {
	return &gormUniquenessIndex{db: db}
}

func (i *gormUniquenessIndex) Exists(ctx context.Context, kind IdentifierKind, value string) (bool, error) {
	var (
		model  interface{}
		column string
	)
	switch kind {
	case IdentifierSlug:
		model, column = &models.Event{}, "slug"
	case IdentifierReferenceNumber:
		model, column = &models.VisaLetterApplication{}, "reference_number"
	case IdentifierVerificationCode:
		model, column = &models.VisaLetterApplication{}, "verification_code"
	case IdentifierInvitationToken:
		model, column = &models.ManualInvitation{}, "token"
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownIdentifierKind, kind)
	}

	var count int64
	if err := i.db.WithContext(ctx).Model(model).Where(column+" = ?", value).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
