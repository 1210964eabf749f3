package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridsync/internal/scope"
)

func TestHomeGroup(t *testing.T) {
	d := int64(3)
	assert.Equal(t, "district_3", HomeGroup(scope.Scope{ActorID: 2, Role: scope.RoleExecutor, DistrictID: &d}))
	assert.Equal(t, AdminGroup, HomeGroup(scope.Scope{ActorID: 1, Role: scope.RoleAdmin}))
	assert.Equal(t, AdminGroup, HomeGroup(scope.Scope{ActorID: 1, Role: scope.RoleAdmin, DistrictID: &d}))
}

func TestEncodeDecode(t *testing.T) {
	f, err := Encode(TypeRemoteUpdate, map[string]any{"id": 7, "field": "amount", "value": 2500})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"remote_update","data":{"id":7,"field":"amount","value":2500}}`, string(f))

	env, err := Decode(f)
	require.NoError(t, err)
	assert.Equal(t, TypeRemoteUpdate, env.Type)

	_, err = Decode([]byte(`{"data":{}}`))
	assert.Error(t, err)
	_, err = Decode([]byte(`nope`))
	assert.Error(t, err)
}
