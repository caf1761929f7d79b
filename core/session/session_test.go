package session

import (
	"encoding/json"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffectiveRoleDefaultsToParent(t *testing.T) {
	tests := []struct {
		role string
		want string
	}{
		{RoleParent, RoleParent},
		{RoleTeacher, RoleTeacher},
		{RoleAdmin, RoleAdmin},
		{RoleLegacyUser, RoleParent},
		{"", RoleParent},
		{"clerk", RoleParent},
	}
	for _, tt := range tests {
		sess := Session{Role: tt.role}
		assert.Equal(t, tt.want, sess.EffectiveRole(), "role %q", tt.role)
	}
}

func TestAuthenticatedTracksTokenPresence(t *testing.T) {
	assert.False(t, Session{}.Authenticated())
	assert.False(t, Session{UserID: "u1"}.Authenticated())
	assert.True(t, Session{Token: "tok"}.Authenticated())
}

func TestFileProviderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	p := NewFileProvider(path)

	_, err := p.Get()
	assert.Equal(t, ErrNoSession, err)

	want := Session{UserID: "p1", Role: RoleParent, Token: "tok-1", User: "Jane Wanjiku"}
	require.NoError(t, p.Set(want))

	got, err := p.Get()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, p.Clear())
	_, err = p.Get()
	assert.Equal(t, ErrNoSession, err)
}

func TestFileProviderUsesStorageKeyNames(t *testing.T) {
	// the on-disk keys are shared with the web client's persisted state
	path := filepath.Join(t.TempDir(), "session.json")
	p := NewFileProvider(path)
	require.NoError(t, p.Set(Session{UserID: "p1", Role: RoleParent, Token: "tok-1", User: "Jane"}))

	data, err := ioutil.ReadFile(path)
	require.NoError(t, err)

	var kv map[string]string
	require.NoError(t, json.Unmarshal(data, &kv))
	assert.Equal(t, "tok-1", kv["accessToken"])
	assert.Equal(t, RoleParent, kv["role"])
	assert.Equal(t, "Jane", kv["user"])
	assert.Equal(t, "p1", kv["userId"])
}

func TestFileProviderOnChange(t *testing.T) {
	p := NewFileProvider(filepath.Join(t.TempDir(), "session.json"))

	var seen []Session
	unsub := p.OnChange(func(s Session) { seen = append(seen, s) })

	require.NoError(t, p.Set(Session{UserID: "p1", Token: "tok"}))
	require.NoError(t, p.Clear())
	unsub()
	require.NoError(t, p.Set(Session{UserID: "p2", Token: "tok"}))

	require.Len(t, seen, 2)
	assert.Equal(t, "p1", seen[0].UserID)
	assert.Equal(t, Session{}, seen[1])
}

func signToken(t *testing.T, claims Claims, secret string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestParseClaims(t *testing.T) {
	token := signToken(t, Claims{
		StandardClaims: jwt.StandardClaims{Subject: "t1"},
		Username:       "achieng",
		IsTeacher:      true,
	}, "s3cret")

	claims, err := ParseClaims(token, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "t1", claims.Subject)
	assert.Equal(t, RoleTeacher, claims.PortalRole())

	_, err = ParseClaims(token, "wrong")
	assert.Error(t, err)

	_, err = ParseClaims("not-a-token", "s3cret")
	assert.Error(t, err)
}

func TestPortalRole(t *testing.T) {
	assert.Equal(t, RoleAdmin, (&Claims{IsAdmin: true, IsTeacher: true}).PortalRole())
	assert.Equal(t, RoleTeacher, (&Claims{IsTeacher: true}).PortalRole())
	assert.Equal(t, RoleAdmin, (&Claims{Role: RoleAdmin}).PortalRole())
	assert.Equal(t, RoleParent, (&Claims{IsParent: true}).PortalRole())
	assert.Equal(t, RoleParent, (&Claims{}).PortalRole())
}

func TestRoleHint(t *testing.T) {
	token := signToken(t, Claims{IsAdmin: true}, "whatever")
	assert.Equal(t, RoleAdmin, RoleHint(token))
	assert.Equal(t, RoleParent, RoleHint("garbage"))
}
