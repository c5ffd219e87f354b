package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "acme corp", NormalizeName("  Acme   Corp "))
	assert.Equal(t, "acme corp", NormalizeName("ACME CORP"))
	assert.Equal(t, "", NormalizeName("   "))
}

func TestNormalizeType(t *testing.T) {
	assert.Equal(t, "ORGANIZATION", NormalizeType("organization"))
	assert.Equal(t, "OTHER", NormalizeType(""))
	assert.Equal(t, "WORK_OF_ART", NormalizeType("work of art"))
}

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint("Acme Corp", "ORGANIZATION")
	b := Fingerprint("  acme   corp ", "organization")
	assert.Equal(t, a, b, "case and whitespace variants must collapse")

	c := Fingerprint("Acme Corp", "PERSON")
	assert.NotEqual(t, a, c, "type participates in identity")

	d := Fingerprint("Acme Corporation", "ORGANIZATION")
	assert.NotEqual(t, a, d)
}
