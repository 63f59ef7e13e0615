package substitute

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onex/noderuntime/internal/contract"
)

func testBindings() Bindings {
	return Bindings{
		Env: map[string]string{"REGION": "us-east-1"},
		Input: map[string]interface{}{
			"user_id": "u-42",
			"items":   []interface{}{"a", "b"},
		},
		Context: map[string]interface{}{"attempt": 1.0},
		Config:  map[string]interface{}{"api_token": "tok-abc"},
	}
}

func TestRenderStringWholeTokenPreservesType(t *testing.T) {
	v, err := RenderString("${input.items}", testBindings())
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a", "b"}, v)
}

func TestRenderStringSplicesIntoSurroundingText(t *testing.T) {
	v, err := RenderString("/users/${input.user_id}/region/${env.REGION}", testBindings())
	require.NoError(t, err)
	assert.Equal(t, "/users/u-42/region/us-east-1", v)
}

func TestRenderStringNoTokensPassesThrough(t *testing.T) {
	v, err := RenderString("no tokens here", testBindings())
	require.NoError(t, err)
	assert.Equal(t, "no tokens here", v)
}

func TestRenderStringUsesDefaultWhenUnresolved(t *testing.T) {
	v, err := RenderString("${input.missing:fallback-value}", testBindings())
	require.NoError(t, err)
	assert.Equal(t, "fallback-value", v)
}

func TestRenderStringUnresolvedWithoutDefaultErrors(t *testing.T) {
	_, err := RenderString("${input.missing}", testBindings())
	require.Error(t, err)
	var unresolved *UnresolvedReferenceError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, "input.missing", unresolved.Reference)
}

func TestRenderStringNoReExpansion(t *testing.T) {
	b := testBindings()
	b.Input["trick"] = "${env.REGION}"
	v, err := RenderString("${input.trick}", b)
	require.NoError(t, err)
	assert.Equal(t, "${env.REGION}", v, "resolved value must not be re-scanned for tokens")
}

func TestRenderTreeWalksNestedBody(t *testing.T) {
	body := map[string]interface{}{
		"id": "${input.user_id}",
		"meta": map[string]interface{}{
			"region": "${env.REGION}",
		},
		"tags": []interface{}{"${input.user_id}", "static"},
	}
	v, err := RenderTree(body, testBindings())
	require.NoError(t, err)
	rendered := v.(map[string]interface{})
	assert.Equal(t, "u-42", rendered["id"])
	assert.Equal(t, "us-east-1", rendered["meta"].(map[string]interface{})["region"])
	assert.Equal(t, []interface{}{"u-42", "static"}, rendered["tags"])
}

func TestRenderStringMapRendersEachValue(t *testing.T) {
	m, err := RenderStringMap(map[string]string{
		"Authorization": "Bearer ${config.api_token}",
	}, testBindings())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-abc", m["Authorization"])
}

func TestApplyResponseMappingFieldAndWildcard(t *testing.T) {
	body := map[string]interface{}{
		"data": map[string]interface{}{
			"name": "Ada",
			"tags": []interface{}{"admin", "beta"},
		},
	}
	nameExpr, err := contract.ParsePathExpression("$.data.name")
	require.NoError(t, err)
	tagsExpr, err := contract.ParsePathExpression("$.data.tags[*]")
	require.NoError(t, err)
	tierExpr, err := contract.ParsePathExpression(`$.data.tier ?? "standard"`)
	require.NoError(t, err)

	out, err := ApplyResponseMapping(map[string]contract.PathExpr{
		"name": nameExpr,
		"tags": tagsExpr,
		"tier": tierExpr,
	}, body)
	require.NoError(t, err)
	assert.Equal(t, "Ada", out["name"])
	assert.Equal(t, []interface{}{"admin", "beta"}, out["tags"])
	assert.Equal(t, "standard", out["tier"])
}

func TestApplyResponseMappingMissingWithoutDefaultErrors(t *testing.T) {
	body := map[string]interface{}{"data": map[string]interface{}{}}
	expr, err := contract.ParsePathExpression("$.data.missing")
	require.NoError(t, err)

	_, err = ApplyResponseMapping(map[string]contract.PathExpr{"missing": expr}, body)
	require.Error(t, err)
	var notFound *PathNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestApplyResponseMappingIndexSegment(t *testing.T) {
	body := map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{"id": "first"},
			map[string]interface{}{"id": "second"},
		},
	}
	expr, err := contract.ParsePathExpression("$.items[1].id")
	require.NoError(t, err)

	out, err := ApplyResponseMapping(map[string]contract.PathExpr{"id": expr}, body)
	require.NoError(t, err)
	assert.Equal(t, "second", out["id"])
}
