package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseServiceType(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ServiceType
		wantErr bool
	}{
		{name: "contemporary", input: "Contemporary", want: ServiceContemporary},
		{name: "traditional", input: "Traditional", want: ServiceTraditional},
		{name: "lowercase rejected", input: "contemporary", wantErr: true},
		{name: "empty rejected", input: "", wantErr: true},
		{name: "unknown rejected", input: "Modern", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseServiceType(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseOperationType(t *testing.T) {
	for _, valid := range []string{"Pull", "Push", "Reconcile"} {
		op, err := ParseOperationType(valid)
		assert.NoError(t, err)
		assert.Equal(t, OperationType(valid), op)
	}

	_, err := ParseOperationType("Sync")
	assert.Error(t, err)
}

func TestRequiredPermission(t *testing.T) {
	assert.Equal(t, "", OperationPull.RequiredPermission())
	assert.Equal(t, PermissionPush, OperationPush.RequiredPermission())
	assert.Equal(t, PermissionReconcile, OperationReconcile.RequiredPermission())
}

func TestRoleHasPermission(t *testing.T) {
	admin := &Role{Permissions: []string{PermissionAdmin}}
	assert.True(t, admin.HasPermission(PermissionPush))
	assert.True(t, admin.HasPermission(PermissionReconcile))

	readOnly := &Role{Permissions: []string{PermissionPull, PermissionViewFiles}}
	assert.True(t, readOnly.HasPermission(PermissionPull))
	assert.False(t, readOnly.HasPermission(PermissionPush))
}

func TestCleanRelativePath(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "simple", input: "notes.txt", want: "notes.txt"},
		{name: "nested", input: "songs/sunday/hymn.pro", want: "songs/sunday/hymn.pro"},
		{name: "backslashes normalized", input: "songs\\hymn.pro", want: "songs/hymn.pro"},
		{name: "redundant segments cleaned", input: "songs//./hymn.pro", want: "songs/hymn.pro"},
		{name: "interior dotdot resolving inside is fine", input: "songs/../notes.txt", want: "notes.txt"},
		{name: "empty rejected", input: "", wantErr: true},
		{name: "absolute rejected", input: "/etc/passwd", wantErr: true},
		{name: "traversal rejected", input: "../secrets.txt", wantErr: true},
		{name: "deep traversal rejected", input: "songs/../../secrets.txt", wantErr: true},
		{name: "bare dot rejected", input: ".", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CleanRelativePath(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
