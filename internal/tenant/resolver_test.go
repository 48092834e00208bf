package tenant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeNamespace(t *testing.T) {
	tests := []struct {
		name    string
		scope   Scope
		want    string
		wantErr error
	}{
		{
			name:  "valid scope",
			scope: Scope{OrgID: "acme", UserID: "u-123"},
			want:  "org_acme_user_u-123",
		},
		{
			name:  "numeric identifiers",
			scope: Scope{OrgID: "42", UserID: "7"},
			want:  "org_42_user_7",
		},
		{
			name:    "empty org",
			scope:   Scope{OrgID: "", UserID: "u-123"},
			wantErr: ErrInvalidOrgID,
		},
		{
			name:    "empty user",
			scope:   Scope{OrgID: "acme", UserID: ""},
			wantErr: ErrInvalidUserID,
		},
		{
			name:    "uppercase rejected",
			scope:   Scope{OrgID: "Acme", UserID: "u-123"},
			wantErr: ErrInvalidOrgID,
		},
		{
			name:    "underscore rejected",
			scope:   Scope{OrgID: "acme_corp", UserID: "u-123"},
			wantErr: ErrInvalidOrgID,
		},
		{
			name:    "whitespace rejected",
			scope:   Scope{OrgID: "acme", UserID: "u 123"},
			wantErr: ErrInvalidUserID,
		},
		{
			name:    "injection attempt rejected",
			scope:   Scope{OrgID: "acme", UserID: "x_user_admin"},
			wantErr: ErrInvalidUserID,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.scope.Namespace()
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNamespaceCollisionResistance(t *testing.T) {
	// Underscores are invalid in identifiers, so distinct scopes can
	// never produce the same namespace string.
	a := Scope{OrgID: "a", UserID: "b-user-c"}
	nsA, err := a.Namespace()
	require.NoError(t, err)

	b := Scope{OrgID: "a_user_b", UserID: "c"}
	_, err = b.Namespace()
	require.Error(t, err)

	assert.Equal(t, "org_a_user_b-user-c", nsA)
}

func TestValidateNamespace(t *testing.T) {
	assert.NoError(t, ValidateNamespace("org_acme_user_u-1"))
	assert.ErrorIs(t, ValidateNamespace(""), ErrInvalidNamespace)
	assert.ErrorIs(t, ValidateNamespace("acme_u-1"), ErrInvalidNamespace)
	assert.ErrorIs(t, ValidateNamespace("org__user_"), ErrInvalidNamespace)
}

func TestIdentifierLengthLimit(t *testing.T) {
	long := make([]byte, maxIdentifierLength+1)
	for i := range long {
		long[i] = 'a'
	}
	s := Scope{OrgID: string(long), UserID: "u"}
	_, err := s.Namespace()
	assert.ErrorIs(t, err, ErrInvalidOrgID)
}
