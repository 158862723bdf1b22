package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_AddToolAndList(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.AddTool(ToolDefinition{Name: "b-tool", Description: "second"}))
	require.NoError(t, r.AddTool(ToolDefinition{Name: "a-tool", Description: "first"}))

	got := r.listTools()
	require.Len(t, got, 2)
	assert.Equal(t, "a-tool", got[0].Name, "listTools must return tools sorted by name")
	assert.Equal(t, "b-tool", got[1].Name)

	def, ok := r.tool("a-tool")
	require.True(t, ok)
	assert.Equal(t, "first", def.Description)

	_, ok = r.tool("missing")
	assert.False(t, ok)
}

func TestRegistry_AddTool_RejectedAfterFreeze(t *testing.T) {
	r := NewRegistry()
	r.Freeze()
	err := r.AddTool(ToolDefinition{Name: "late"})
	assert.ErrorIs(t, err, ErrFrozen)
}

func TestRegistry_AddResourceAndPrompt(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.AddResource(ResourceDefinition{URIPattern: "file:///b", Name: "b"}))
	require.NoError(t, r.AddResource(ResourceDefinition{URIPattern: "file:///a", Name: "a"}))
	require.NoError(t, r.AddPrompt(PromptDefinition{Name: "greeting"}))

	resources := r.listResources()
	require.Len(t, resources, 2)
	assert.Equal(t, "file:///a", resources[0].URIPattern)

	p, ok := r.prompt("greeting")
	require.True(t, ok)
	assert.Equal(t, "greeting", p.Name)

	res, ok := r.resource("file:///b")
	require.True(t, ok)
	assert.Equal(t, "b", res.Name)
}

func TestRegistry_AddTool_ResolvesSchemaOnce(t *testing.T) {
	r := NewRegistry()
	schema := &jsonschema.Schema{}
	require.NoError(t, r.AddTool(ToolDefinition{Name: "typed", InputSchema: schema}))

	def, ok := r.tool("typed")
	require.True(t, ok)
	assert.NotNil(t, def.resolved, "a non-nil InputSchema must be resolved at registration time")
}

func TestRegistry_CompletionProviders(t *testing.T) {
	r := NewRegistry()
	provider := func(ctx context.Context, argumentName, value string) ([]string, error) {
		return []string{"x", "y"}, nil
	}
	r.RegisterPromptCompletion("greeting", provider)
	r.RegisterResourceCompletion("file:///a", provider)

	_, ok := r.promptCompletion("greeting")
	assert.True(t, ok)
	_, ok = r.resourceCompletion("file:///a")
	assert.True(t, ok)
	_, ok = r.promptCompletion("missing")
	assert.False(t, ok)
}

func TestNewSliceStream(t *testing.T) {
	s := NewSliceStream([]interface{}{"a", "b"})
	v, err, ok := s.Next()
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	v, err, ok = s.Next()
	require.True(t, ok)
	assert.Equal(t, "b", v)

	_, err, ok = s.Next()
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestNewChannelStream(t *testing.T) {
	items := make(chan interface{}, 2)
	errc := make(chan error, 1)
	items <- "first"
	items <- "second"
	close(items)

	s := NewChannelStream(items, errc)
	v, err, ok := s.Next()
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, "first", v)

	v, err, ok = s.Next()
	require.True(t, ok)
	assert.Equal(t, "second", v)

	_, err, ok = s.Next()
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestNewChannelStream_SurfacesErrorAfterClose(t *testing.T) {
	items := make(chan interface{})
	errc := make(chan error, 1)
	errc <- assertAnError
	close(items)

	s := NewChannelStream(items, errc)
	_, err, ok := s.Next()
	assert.False(t, ok)
	assert.Error(t, err)
}

var assertAnError = jsonMarshalError()

func jsonMarshalError() error {
	_, err := json.Marshal(make(chan int))
	return err
}
