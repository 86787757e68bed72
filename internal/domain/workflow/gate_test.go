package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/veritrail/veritrail/internal/domain/entity"
)

func TestAuthorized(t *testing.T) {
	tests := []struct {
		name  string
		step  entity.WorkflowStep
		actor Actor
		want  bool
	}{
		{
			name:  "no constraints allows anyone",
			step:  entity.WorkflowStep{},
			actor: Actor{UserID: "u1", Role: "intern"},
			want:  true,
		},
		{
			name: "role match",
			step: entity.WorkflowStep{
				RequiredRoles: []string{"manager", "finance"},
			},
			actor: Actor{UserID: "u1", Role: "finance"},
			want:  true,
		},
		{
			name: "user match",
			step: entity.WorkflowStep{
				RequiredUsers: []string{"u1", "u2"},
			},
			actor: Actor{UserID: "u2", Role: "intern"},
			want:  true,
		},
		{
			name: "role match suffices when user list misses",
			step: entity.WorkflowStep{
				RequiredRoles: []string{"manager"},
				RequiredUsers: []string{"someone-else"},
			},
			actor: Actor{UserID: "u1", Role: "manager"},
			want:  true,
		},
		{
			name: "user match suffices when role list misses",
			step: entity.WorkflowStep{
				RequiredRoles: []string{"manager"},
				RequiredUsers: []string{"u1"},
			},
			actor: Actor{UserID: "u1", Role: "intern"},
			want:  true,
		},
		{
			name: "no match in either set",
			step: entity.WorkflowStep{
				RequiredRoles: []string{"manager"},
				RequiredUsers: []string{"u9"},
			},
			actor: Actor{UserID: "u1", Role: "intern"},
			want:  false,
		},
		{
			name: "only roles constrained and no match",
			step: entity.WorkflowStep{
				RequiredRoles: []string{"manager"},
			},
			actor: Actor{UserID: "u1", Role: "intern"},
			want:  false,
		},
		{
			name: "empty role on actor does not match empty string entries",
			step: entity.WorkflowStep{
				RequiredRoles: []string{"manager"},
				RequiredUsers: []string{"u9"},
			},
			actor: Actor{UserID: "u1"},
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Authorized(&tt.step, tt.actor)
			assert.Equal(t, tt.want, got)
		})
	}
}
