// Package identity computes the canonical identity key for incoming company
// records. Resolution is deterministic and pure: the same normalized name and
// country always produce the same key, across runs and process restarts, with
// no salt or per-run seed. That determinism is what makes re-running the
// pipeline idempotent.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/companyatlas/atlas/pkg/errors"
	"github.com/companyatlas/atlas/pkg/models"
)

// Normalize trims, collapses internal whitespace, and uppercases a value.
// "  Apple   Inc " and "APPLE INC" normalize identically.
func Normalize(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}

// Resolve computes the IdentityKey for a source record from its normalized
// company_name and country. Records whose name or country is empty after
// normalization cannot be resolved; the caller drops them from the run and
// counts the drop.
func Resolve(record *models.SourceRecord) (models.IdentityKey, error) {
	name := normalizedField(record, models.FieldCompanyName)
	if name == "" {
		return "", errors.New(errors.ErrorTypeMalformedRecord, "company_name empty after normalization").
			WithDetail("source_system", record.SourceSystem)
	}

	country := normalizedField(record, models.FieldCountry)
	if country == "" {
		return "", errors.New(errors.ErrorTypeMalformedRecord, "country empty after normalization").
			WithDetail("source_system", record.SourceSystem).
			WithDetail("company_name", name)
	}

	return Key(name, country), nil
}

// Key hashes already-normalized name and country into the identity key.
// The key doubles as the stable company_id in the published marts table, so
// the hash input layout must never change.
func Key(normalizedName, normalizedCountry string) models.IdentityKey {
	sum := sha256.Sum256([]byte(normalizedName + "|" + normalizedCountry))
	return models.IdentityKey(hex.EncodeToString(sum[:]))
}

func normalizedField(record *models.SourceRecord, field string) string {
	v, ok := record.Get(field)
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return Normalize(s)
}
