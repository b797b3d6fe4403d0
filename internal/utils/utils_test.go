// internal/utils/utils_test.go
package utils

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupString(t *testing.T) {
	assert.Equal(t, "ABCD-EFGH-JKLM-NPQR", GroupString("ABCDEFGHJKLMNPQR", 4, "-"))
	assert.Equal(t, "ABC-DE", GroupString("ABCDE", 3, "-"))
	assert.Equal(t, "AB", GroupString("AB", 4, "-"))
	assert.Equal(t, "ABCD", GroupString("ABCD", 0, "-"))
}

func TestGenerateRandomString(t *testing.T) {
	s, err := GenerateRandomString(LicenseKeyCharset, 16)
	require.NoError(t, err)
	assert.Len(t, s, 16)
	for _, r := range s {
		assert.True(t, strings.ContainsRune(LicenseKeyCharset, r))
	}

	other, err := GenerateRandomString(LicenseKeyCharset, 16)
	require.NoError(t, err)
	assert.NotEqual(t, s, other)
}

func TestHashStringIsDeterministic(t *testing.T) {
	assert.Equal(t, HashString("ABCD-EFGH"), HashString("ABCD-EFGH"))
	assert.NotEqual(t, HashString("ABCD-EFGH"), HashString("ABCD-EFGJ"))
	assert.Len(t, HashString("x"), 64)
}

func TestJWTRoundTrip(t *testing.T) {
	SetJWTSecret("utils-test-secret")
	SetJWTIssuer("license-backend")

	token, err := GenerateJWT("u-7", "reseller", time.Hour)
	require.NoError(t, err)

	claims, err := ValidateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "u-7", claims.UserID)
	assert.Equal(t, "reseller", claims.Role)
	assert.Equal(t, "license-backend", claims.Issuer)

	SetJWTSecret("rotated")
	_, err = ValidateJWT(token)
	assert.Error(t, err)

	empty, err := GenerateJWT("", "user", time.Hour)
	require.NoError(t, err)
	_, err = ValidateJWT(empty)
	assert.Error(t, err)
}

func TestPagination(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		query string
		want  PaginationParams
	}{
		{"", PaginationParams{Page: 1, Limit: 20}},
		{"?page=3&limit=50", PaginationParams{Page: 3, Limit: 50}},
		{"?page=-1&limit=500", PaginationParams{Page: 1, Limit: 20}},
	}
	for _, tt := range tests {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest("GET", "/licenses"+tt.query, nil)
		assert.Equal(t, tt.want, GetPaginationParams(c), tt.query)
	}

	params := PaginationParams{Page: 2, Limit: 10}
	assert.Equal(t, 10, params.Offset())
	result := CreatePaginationResult([]int{1}, 21, params)
	assert.Equal(t, 3, result.TotalPages)
}

type featureInput struct {
	Type    string `validate:"required,license_type"`
	Feature string `validate:"required,feature_name"`
}

func TestValidateStruct(t *testing.T) {
	assert.NoError(t, ValidateStruct(&featureInput{Type: "premium", Feature: "api_access"}))

	err := ValidateStruct(&featureInput{Type: "gold", Feature: "bad name"})
	require.Error(t, err)
	errs := GetValidationErrors(err)
	require.Len(t, errs, 2)
	assert.Equal(t, "type", errs[0].Field)
	assert.Equal(t, "license_type", errs[0].Tag)
	assert.Equal(t, "feature", errs[1].Field)
	assert.Equal(t, "feature_name", errs[1].Tag)

	assert.Empty(t, GetValidationErrors(assert.AnError))
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger("debug", "", "production")
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	logger = NewLogger("nonsense", "", "development")
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
}
