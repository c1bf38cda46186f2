package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("hub-secret"))
	require.NoError(t, err)
	return s
}

func TestParse(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	tests := []struct {
		name   string
		claims jwt.MapClaims
		want   string
	}{
		{"nickname wins", jwt.MapClaims{"nickname": "alice", "sub": "42"}, "alice"},
		{"unique_name", jwt.MapClaims{"unique_name": "bob"}, "bob"},
		{"preferred_username", jwt.MapClaims{"preferred_username": "carol", "sub": "7"}, "carol"},
		{"sub fallback", jwt.MapClaims{"sub": "dave"}, "dave"},
		{"empty nickname skipped", jwt.MapClaims{"nickname": "", "sub": "erin"}, "erin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.claims["exp"] = exp.Unix()
			info, err := Parse(sign(t, tt.claims))
			require.NoError(t, err)
			assert.Equal(t, tt.want, info.Viewer)
			assert.True(t, info.ExpiresAt.Equal(exp))
		})
	}
}

func TestParseErrors(t *testing.T) {
	_, err := Parse("not-a-token")
	assert.Error(t, err)

	_, err = Parse(sign(t, jwt.MapClaims{"role": "user"}))
	assert.ErrorIs(t, err, ErrNoIdentity)
}

func TestParseIgnoresSignatureAndExpiry(t *testing.T) {
	s := sign(t, jwt.MapClaims{"nickname": "alice", "exp": time.Now().Add(-time.Hour).Unix()})

	info, err := Parse(s)
	require.NoError(t, err)
	assert.Equal(t, "alice", info.Viewer)
	assert.True(t, info.Expired(time.Now()))
}

func TestExpired(t *testing.T) {
	now := time.Now()
	assert.False(t, Info{}.Expired(now))
	assert.False(t, Info{ExpiresAt: now.Add(time.Minute)}.Expired(now))
	assert.True(t, Info{ExpiresAt: now}.Expired(now))
}

func TestViewer(t *testing.T) {
	got, err := Viewer("configured", "ignored")
	require.NoError(t, err)
	assert.Equal(t, "configured", got)

	got, err = Viewer("", sign(t, jwt.MapClaims{"nickname": "alice"}))
	require.NoError(t, err)
	assert.Equal(t, "alice", got)

	_, err = Viewer("", "")
	assert.Error(t, err)
}
