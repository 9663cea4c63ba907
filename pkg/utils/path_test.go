package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"", "/"},
		{"/", "/"},
		{"data", "/data"},
		{"/data/", "/data"},
		{"//data//sub", "/data/sub"},
		{"/data/./sub", "/data/sub"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePath(tt.in), "NormalizePath(%q)", tt.in)
	}
}

func TestPathNavigation(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/data", JoinPath("/", "data"))
	assert.Equal(t, "/data/sub", JoinPath("/data", "sub"))
	assert.Equal(t, "/", ParentPath("/"))
	assert.Equal(t, "/", ParentPath("/data"))
	assert.Equal(t, "/data", ParentPath("/data/sub"))
	assert.Equal(t, "sub", BaseName("/data/sub"))
	assert.Equal(t, "/", BaseName("/"))
}

func TestValidateName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		wantErr bool
	}{
		{"file.txt", false},
		{"with space", false},
		{"", true},
		{".", true},
		{"..", true},
		{"a/b", true},
		{"nul\x00", true},
	}
	for _, tt := range tests {
		err := ValidateName(tt.name)
		if tt.wantErr {
			assert.Error(t, err, "ValidateName(%q)", tt.name)
		} else {
			assert.NoError(t, err, "ValidateName(%q)", tt.name)
		}
	}
}

func TestPrefixesAndKeys(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", NormalizePrefix(""))
	assert.Equal(t, "", NormalizePrefix("/"))
	assert.Equal(t, "team/", NormalizePrefix("/team/"))
	assert.Equal(t, "team/a/", NormalizePrefix("team/a"))

	assert.Equal(t, "", ListPrefix("", "/"))
	assert.Equal(t, "data/", ListPrefix("", "/data"))
	assert.Equal(t, "team/data/sub/", ListPrefix("team/", "/data/sub"))

	assert.Equal(t, "data/file1.txt", ObjectKey("", "/data/file1.txt"))
	assert.Equal(t, "team/x", ObjectKey("team/", "/x"))
}

